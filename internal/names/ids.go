package names

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"kraph/core/internal/kgerr"
)

// NodeID formats the externally visible id of an engine vertex or edge.
func NodeID(graph string, id int64) string {
	return graph + ":" + strconv.FormatInt(id, 10)
}

// ParseNodeID splits "<graph_name>:<engine_id>".
func ParseNodeID(s string) (graph string, id int64, err error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", 0, kgerr.New(kgerr.KindValidation, "names.ParseNodeID", "malformed node id %q", s)
	}
	graph = s[:i]
	if err := Validate(graph); err != nil {
		return "", 0, fmt.Errorf("node id %q: %w", s, err)
	}
	id, perr := strconv.ParseInt(s[i+1:], 10, 64)
	if perr != nil {
		return "", 0, kgerr.New(kgerr.KindValidation, "names.ParseNodeID", "malformed engine id in %q", s)
	}
	return graph, id, nil
}

// ToGraphID returns the graph part of a node id.
func ToGraphID(nodeID string) (string, error) {
	g, _, err := ParseNodeID(nodeID)
	return g, err
}

// ToEntityID returns the engine part of a node id.
func ToEntityID(nodeID string) (int64, error) {
	_, id, err := ParseNodeID(nodeID)
	return id, err
}

// ParseNodeIDs parses ids that must all belong to one graph. An empty list
// returns an empty graph name.
func ParseNodeIDs(ids []string) (string, []int64, error) {
	var graph string
	out := make([]int64, 0, len(ids))
	for _, s := range ids {
		g, id, err := ParseNodeID(s)
		if err != nil {
			return "", nil, err
		}
		if graph != "" && g != graph {
			return "", nil, kgerr.New(kgerr.KindValidation, "names.ParseNodeIDs",
				"ids span graphs %q and %q", graph, g)
		}
		graph = g
		out = append(out, id)
	}
	return graph, out, nil
}

var (
	structureIdentRE  = regexp.MustCompile(`^@([A-Za-z0-9_]+)/([A-Za-z0-9_]+)$`)
	structureScalarRE = regexp.MustCompile(`^@([A-Za-z0-9_]+)/([A-Za-z0-9_]+):(\S+)$`)
)

// Structure is a parsed structure scalar "@ns/name:object".
type Structure struct {
	Identifier string // "@ns/name"
	Object     string
}

func (s Structure) String() string { return s.Identifier + ":" + s.Object }

// ValidateStructureIdentifier checks "@ns/name".
func ValidateStructureIdentifier(identifier string) error {
	if !structureIdentRE.MatchString(identifier) {
		return kgerr.New(kgerr.KindValidation, "names.ValidateStructureIdentifier",
			"structure identifier %q does not match @<ns>/<name>", identifier)
	}
	return nil
}

// ParseStructure parses "@ns/name:object".
func ParseStructure(s string) (Structure, error) {
	m := structureScalarRE.FindStringSubmatch(s)
	if m == nil {
		return Structure{}, kgerr.New(kgerr.KindValidation, "names.ParseStructure",
			"structure %q does not match @<ns>/<name>:<object>", s)
	}
	return Structure{Identifier: "@" + m[1] + "/" + m[2], Object: m[3]}, nil
}

// StructureSlug maps "@mikro/image" to "MIKRO_IMAGE".
func StructureSlug(identifier string) (string, error) {
	m := structureIdentRE.FindStringSubmatch(identifier)
	if m == nil {
		return "", kgerr.New(kgerr.KindValidation, "names.StructureSlug",
			"structure identifier %q does not match @<ns>/<name>", identifier)
	}
	return strings.ToUpper(m[1] + "_" + m[2]), nil
}
