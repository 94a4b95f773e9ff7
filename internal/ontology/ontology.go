// Package ontology imports a graph's categories from a YAML document.
//
// Categories reference each other by label:
//
//	graph: Lab A
//	categories:
//	  - kind: REAGENT
//	    label: Dye
//	  - kind: PROTOCOL_EVENT
//	    label: Stain
//	    roles:
//	      source_reagent:
//	        - role: dye
//	          default_use_active: Dye
package ontology

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
)

// Document is one ontology file.
type Document struct {
	Graph       string     `yaml:"graph"`
	Description *string    `yaml:"description"`
	Categories  []Category `yaml:"categories"`
}

// Category declares one category. Only the fields of its kind may be set.
type Category struct {
	Kind               db.Kind  `yaml:"kind"`
	Label              string   `yaml:"label"`
	Description        *string  `yaml:"description"`
	Purl               *string  `yaml:"purl"`
	Color              []int    `yaml:"color"`
	Tags               []string `yaml:"tags"`
	Sequence           *Seq     `yaml:"sequence"`
	AutoCreateSequence bool     `yaml:"auto_create_sequence"`

	// STRUCTURE
	Identifier string `yaml:"identifier"`
	// METRIC
	MetricKind db.MetricKind `yaml:"metric_kind"`
	Structure  *Filter       `yaml:"structure"`
	// MEASUREMENT, RELATION
	Source *Filter `yaml:"source"`
	Target *Filter `yaml:"target"`
	// NATURAL_EVENT, PROTOCOL_EVENT
	Roles     Roles      `yaml:"roles"`
	Variables []Variable `yaml:"variables"`
}

// Seq mirrors a sequence request.
type Seq struct {
	Start int64  `yaml:"start"`
	Step  int64  `yaml:"step"`
	Min   int64  `yaml:"min"`
	Max   *int64 `yaml:"max"`
	Cycle bool   `yaml:"cycle"`
}

// Filter restricts the categories a slot accepts, by label and tag.
type Filter struct {
	Categories []string `yaml:"categories"`
	Tags       []string `yaml:"tags"`
}

// Roles groups an event's role slots.
type Roles struct {
	SourceEntity  []Role `yaml:"source_entity"`
	TargetEntity  []Role `yaml:"target_entity"`
	SourceReagent []Role `yaml:"source_reagent"`
	TargetReagent []Role `yaml:"target_reagent"`
}

// Role declares one role slot. Defaults name reagent categories by label.
type Role struct {
	Role             string   `yaml:"role"`
	Label            *string  `yaml:"label"`
	Description      *string  `yaml:"description"`
	Categories       []string `yaml:"categories"`
	Tags             []string `yaml:"tags"`
	DefaultUseActive string   `yaml:"default_use_active"`
	DefaultUseNew    string   `yaml:"default_use_new"`
	NeedsQuantity    bool     `yaml:"needs_quantity"`
	Optional         bool     `yaml:"optional"`
	VariableAmount   bool     `yaml:"variable_amount"`
}

// Variable declares a protocol variable.
type Variable struct {
	Param       string        `yaml:"param"`
	ValueKind   db.MetricKind `yaml:"value_kind"`
	Default     any           `yaml:"default"`
	Optional    bool          `yaml:"optional"`
	Label       *string       `yaml:"label"`
	Description *string       `yaml:"description"`
}

const opParse = "ontology.Parse"

// Parse decodes a document. Unknown fields are rejected.
func Parse(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, kgerr.New(kgerr.KindValidation, opParse, "document is empty")
		}
		return nil, kgerr.Wrap(kgerr.KindValidation, opParse, err, "invalid ontology")
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseFile reads and decodes path.
func ParseFile(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, kgerr.Wrap(kgerr.KindNotFound, opParse, err, "cannot read %s", path)
	}
	return Parse(bytes.NewReader(b))
}

// key is the label other categories use to reference c.
func (c Category) key() string {
	if c.Label == "" && c.Kind == db.KindStructure {
		return c.Identifier
	}
	return c.Label
}

func (d *Document) validate() error {
	if d.Graph == "" {
		return kgerr.New(kgerr.KindValidation, opParse, "graph is required")
	}
	seen := make(map[string]bool, len(d.Categories))
	for i, c := range d.Categories {
		if !c.Kind.Valid() {
			return kgerr.New(kgerr.KindValidation, opParse, "categories[%d]: unknown kind %q", i, c.Kind)
		}
		k := c.key()
		if k == "" {
			return kgerr.New(kgerr.KindValidation, opParse, "categories[%d]: label is required", i)
		}
		if seen[k] {
			return kgerr.New(kgerr.KindValidation, opParse, "categories[%d]: duplicate label %q", i, k)
		}
		seen[k] = true
	}
	return nil
}

// references lists the labels c depends on.
func (c Category) references() []string {
	var refs []string
	add := func(f *Filter) {
		if f != nil {
			refs = append(refs, f.Categories...)
		}
	}
	add(c.Structure)
	add(c.Source)
	add(c.Target)
	for _, group := range [][]Role{c.Roles.SourceEntity, c.Roles.TargetEntity, c.Roles.SourceReagent, c.Roles.TargetReagent} {
		for _, r := range group {
			refs = append(refs, r.Categories...)
			if r.DefaultUseActive != "" {
				refs = append(refs, r.DefaultUseActive)
			}
			if r.DefaultUseNew != "" {
				refs = append(refs, r.DefaultUseNew)
			}
		}
	}
	return refs
}
