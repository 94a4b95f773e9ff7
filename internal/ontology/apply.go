package ontology

import (
	"context"
	"fmt"
	"log/slog"

	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
	"kraph/core/internal/kraph"
	"kraph/core/internal/names"
)

// Service is the part of *kraph.Service an import needs.
type Service interface {
	ListGraphs(ctx context.Context, pinnedBy string) ([]db.Graph, error)
	CreateGraph(ctx context.Context, in kraph.GraphInput) (*db.Graph, error)
	ListCategories(ctx context.Context, f db.CategoryFilter) ([]db.Category, error)
	CreateCategory(ctx context.Context, in kraph.CategoryInput) (*db.Category, error)
}

// Applied is one category the import created or updated.
type Applied struct {
	Label string  `json:"label"`
	Kind  db.Kind `json:"kind"`
	ID    string  `json:"id"`
}

// Result reports an import.
type Result struct {
	Graph        *db.Graph `json:"graph"`
	GraphCreated bool      `json:"graph_created"`
	Categories   []Applied `json:"categories"`
}

const opApply = "ontology.Apply"

// Apply creates the document's graph if no graph of that name exists, then
// upserts every category so that each one follows the categories it
// references. Labels not declared in the document resolve against the
// graph's existing categories.
func Apply(ctx context.Context, svc Service, doc *Document, owner string, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	order, err := dependencyOrder(doc.Categories)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if res.Graph, res.GraphCreated, err = ensureGraph(ctx, svc, doc, owner); err != nil {
		return nil, err
	}

	ids := make(map[string]string)
	existing, err := svc.ListCategories(ctx, db.CategoryFilter{GraphID: res.Graph.ID})
	if err != nil {
		return nil, err
	}
	for _, c := range existing {
		ids[c.Label] = c.ID
	}

	for _, i := range order {
		c := doc.Categories[i]
		in, err := c.input(res.Graph.ID, ids)
		if err != nil {
			return nil, err
		}
		cat, err := svc.CreateCategory(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", c.key(), err)
		}
		ids[c.key()] = cat.ID
		res.Categories = append(res.Categories, Applied{Label: c.key(), Kind: cat.Kind, ID: cat.ID})
		logger.Debug("ontology category applied", "label", c.key(), "id", cat.ID)
	}
	logger.Info("ontology applied", "graph", res.Graph.ID, "categories", len(res.Categories), "graph_created", res.GraphCreated)
	return res, nil
}

func ensureGraph(ctx context.Context, svc Service, doc *Document, owner string) (*db.Graph, bool, error) {
	ageName, err := names.GraphName(doc.Graph)
	if err != nil {
		return nil, false, err
	}
	graphs, err := svc.ListGraphs(ctx, "")
	if err != nil {
		return nil, false, err
	}
	for i := range graphs {
		if graphs[i].AgeName == ageName {
			return &graphs[i], false, nil
		}
	}
	g, err := svc.CreateGraph(ctx, kraph.GraphInput{Name: doc.Graph, Owner: owner, Description: doc.Description})
	if err != nil {
		return nil, false, err
	}
	return g, true, nil
}

// dependencyOrder returns category indexes so that every category follows
// the document categories it references, keeping document order otherwise.
func dependencyOrder(cats []Category) ([]int, error) {
	index := make(map[string]int, len(cats))
	for i, c := range cats {
		index[c.key()] = i
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(cats))
	order := make([]int, 0, len(cats))
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return kgerr.New(kgerr.KindValidation, opApply, "category %q references itself through a cycle", cats[i].key())
		}
		state[i] = visiting
		for _, ref := range cats[i].references() {
			if j, ok := index[ref]; ok {
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		state[i] = done
		order = append(order, i)
		return nil
	}
	for i := range cats {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (c Category) input(graphID string, ids map[string]string) (kraph.CategoryInput, error) {
	in := kraph.CategoryInput{
		GraphID:            graphID,
		Kind:               c.Kind,
		Label:              c.Label,
		Description:        c.Description,
		Purl:               c.Purl,
		Color:              c.Color,
		Tags:               c.Tags,
		AutoCreateSequence: c.AutoCreateSequence,
	}
	if c.Sequence != nil {
		in.Sequence = &kraph.SequenceInput{
			Start: c.Sequence.Start, Step: c.Sequence.Step, Min: c.Sequence.Min,
			Max: c.Sequence.Max, Cycle: c.Sequence.Cycle,
		}
	}

	r := resolver{ids: ids, owner: c.key()}
	switch c.Kind {
	case db.KindStructure:
		in.Structure = &db.StructureSpec{Identifier: c.Identifier}
	case db.KindMetric:
		in.Metric = &db.MetricSpec{MetricKind: c.MetricKind, StructureDefinition: r.filter(c.Structure)}
	case db.KindMeasurement, db.KindRelation:
		in.Edge = &db.EdgeSpec{SourceDefinition: r.filter(c.Source), TargetDefinition: r.filter(c.Target)}
	case db.KindNaturalEvent, db.KindProtocolEvent:
		ev := &db.EventSpec{
			SourceEntityRoles:  r.roles(c.Roles.SourceEntity),
			TargetEntityRoles:  r.roles(c.Roles.TargetEntity),
			SourceReagentRoles: r.roles(c.Roles.SourceReagent),
			TargetReagentRoles: r.roles(c.Roles.TargetReagent),
		}
		for _, v := range c.Variables {
			ev.VariableDefinitions = append(ev.VariableDefinitions, db.VariableDefinition{
				Param: v.Param, ValueKind: v.ValueKind, Default: v.Default,
				Optional: v.Optional, Label: v.Label, Description: v.Description,
			})
		}
		in.Event = ev
	}
	return in, r.err
}

// resolver maps labels to category ids, keeping the first unknown label.
type resolver struct {
	ids   map[string]string
	owner string
	err   error
}

func (r *resolver) id(label string) string {
	id, ok := r.ids[label]
	if !ok && r.err == nil {
		r.err = kgerr.New(kgerr.KindNotFound, opApply, "category %q references unknown category %q", r.owner, label)
	}
	return id
}

func (r *resolver) lookup(labels []string) []string {
	var out []string
	for _, l := range labels {
		out = append(out, r.id(l))
	}
	return out
}

func (r *resolver) filter(f *Filter) db.CategoryDefinition {
	if f == nil {
		return db.CategoryDefinition{}
	}
	return db.CategoryDefinition{CategoryFilters: r.lookup(f.Categories), TagFilters: f.Tags}
}

func (r *resolver) optional(label string) *string {
	if label == "" {
		return nil
	}
	id := r.id(label)
	return &id
}

func (r *resolver) roles(in []Role) []db.RoleDefinition {
	var out []db.RoleDefinition
	for _, role := range in {
		out = append(out, db.RoleDefinition{
			Role:        role.Role,
			Label:       role.Label,
			Description: role.Description,
			CategoryDefinition: db.CategoryDefinition{
				CategoryFilters:  r.lookup(role.Categories),
				TagFilters:       role.Tags,
				DefaultUseActive: r.optional(role.DefaultUseActive),
				DefaultUseNew:    r.optional(role.DefaultUseNew),
			},
			NeedsQuantity:  role.NeedsQuantity,
			Optional:       role.Optional,
			VariableAmount: role.VariableAmount,
		})
	}
	return out
}
