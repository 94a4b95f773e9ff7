package age

import (
	"encoding/json"
	"strings"
	"time"

	"kraph/core/internal/names"
)

// Reserved property keys. User-visible properties never start with "__".
const (
	PropType           = "__type"
	PropCategoryID     = "__category_id"
	PropCategoryType   = "__category_type"
	PropLabel          = "__label"
	PropExternalID     = "__external_id"
	PropCreatedAt      = "__created_at"
	PropValidFrom      = "__valid_from"
	PropValidTo        = "__valid_to"
	PropActive         = "__active"
	PropSequence       = "__sequence"
	PropIdentifier     = "__identifier"
	PropObject         = "__object"
	PropValue          = "__value"
	PropCreatedBy      = "__created_by"
	PropCreatedThrough = "__created_through"
	PropRole           = "role"
	PropQuantity       = "quantity"
	reservedPrefix     = "__"
	isoLayout          = "2006-01-02T15:04:05.999999-07:00"
)

// FormatTime renders t in UTC the way every timestamp property is stored,
// e.g. "2024-01-01T00:00:00+00:00".
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ParseTime parses a stored timestamp property.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(isoLayout, s)
}

type properties map[string]any

func (p properties) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

func (p properties) int(key string) (int64, bool) {
	switch v := p[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func (p properties) time(key string) (time.Time, bool) {
	s := p.str(key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := ParseTime(s)
	return t, err == nil
}

func (p properties) user() map[string]any {
	out := make(map[string]any)
	for k, v := range p {
		if !strings.HasPrefix(k, reservedPrefix) {
			out[k] = v
		}
	}
	return out
}

// RetrievedEntity is a vertex returned by the engine.
type RetrievedEntity struct {
	GraphName   string         `json:"graph_name"`
	ID          int64          `json:"id"`
	KindAgeName string         `json:"kind_age_name"`
	Properties  map[string]any `json:"properties"`
}

func (e RetrievedEntity) props() properties { return properties(e.Properties) }

// NodeID is the externally visible "<graph>:<id>".
func (e RetrievedEntity) NodeID() string { return names.NodeID(e.GraphName, e.ID) }

func (e RetrievedEntity) Type() string         { return e.props().str(PropType) }
func (e RetrievedEntity) CategoryID() string   { return e.props().str(PropCategoryID) }
func (e RetrievedEntity) CategoryType() string { return e.props().str(PropCategoryType) }
func (e RetrievedEntity) Label() string        { return e.props().str(PropLabel) }
func (e RetrievedEntity) ExternalID() string   { return e.props().str(PropExternalID) }
func (e RetrievedEntity) Identifier() string   { return e.props().str(PropIdentifier) }
func (e RetrievedEntity) Object() string       { return e.props().str(PropObject) }
func (e RetrievedEntity) Value() any           { return e.Properties[PropValue] }

func (e RetrievedEntity) CreatedAt() (time.Time, bool) { return e.props().time(PropCreatedAt) }
func (e RetrievedEntity) ValidFrom() (time.Time, bool) { return e.props().time(PropValidFrom) }
func (e RetrievedEntity) ValidTo() (time.Time, bool)   { return e.props().time(PropValidTo) }
func (e RetrievedEntity) Sequence() (int64, bool)      { return e.props().int(PropSequence) }

// Active reports the advisory active flag of a reagent.
func (e RetrievedEntity) Active() bool {
	v, _ := e.Properties[PropActive].(bool)
	return v
}

// Structure returns the "@ns/name:object" scalar of a structure vertex.
func (e RetrievedEntity) Structure() string {
	if e.Identifier() == "" {
		return ""
	}
	return e.Identifier() + ":" + e.Object()
}

// UserProperties returns the non-reserved properties.
func (e RetrievedEntity) UserProperties() map[string]any { return e.props().user() }

// Literal renders the vertex in the engine's agtype syntax.
func (e RetrievedEntity) Literal() string {
	b, _ := json.Marshal(vertexJSON{ID: e.ID, Label: e.KindAgeName, Properties: e.Properties})
	return string(b) + vertexSuffix
}

// RetrievedRelation is an edge returned by the engine.
type RetrievedRelation struct {
	GraphName   string         `json:"graph_name"`
	ID          int64          `json:"id"`
	KindAgeName string         `json:"kind_age_name"`
	LeftID      int64          `json:"left_id"`
	RightID     int64          `json:"right_id"`
	Properties  map[string]any `json:"properties"`
}

func (r RetrievedRelation) props() properties { return properties(r.Properties) }

func (r RetrievedRelation) EdgeID() string    { return names.NodeID(r.GraphName, r.ID) }
func (r RetrievedRelation) LeftNode() string  { return names.NodeID(r.GraphName, r.LeftID) }
func (r RetrievedRelation) RightNode() string { return names.NodeID(r.GraphName, r.RightID) }

func (r RetrievedRelation) Type() string         { return r.props().str(PropType) }
func (r RetrievedRelation) CategoryID() string   { return r.props().str(PropCategoryID) }
func (r RetrievedRelation) CategoryType() string { return r.props().str(PropCategoryType) }
func (r RetrievedRelation) Role() string         { return r.props().str(PropRole) }

func (r RetrievedRelation) ValidFrom() (time.Time, bool) { return r.props().time(PropValidFrom) }
func (r RetrievedRelation) ValidTo() (time.Time, bool)   { return r.props().time(PropValidTo) }
func (r RetrievedRelation) CreatedAt() (time.Time, bool) { return r.props().time(PropCreatedAt) }

// Quantity returns the role quantity of an event edge.
func (r RetrievedRelation) Quantity() (float64, bool) {
	switch v := r.Properties[PropQuantity].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	}
	return 0, false
}

// UserProperties returns the non-reserved properties.
func (r RetrievedRelation) UserProperties() map[string]any { return r.props().user() }

// Literal renders the edge in the engine's agtype syntax.
func (r RetrievedRelation) Literal() string {
	b, _ := json.Marshal(edgeJSON{ID: r.ID, Label: r.KindAgeName, StartID: r.LeftID, EndID: r.RightID, Properties: r.Properties})
	return string(b) + edgeSuffix
}

// Subgraph is a set of vertices and edges keyed by engine id, kept in first
// seen order.
type Subgraph struct {
	Nodes []RetrievedEntity   `json:"nodes"`
	Edges []RetrievedRelation `json:"edges"`

	seenNodes map[int64]bool
	seenEdges map[int64]bool
}

// NewSubgraph returns an empty set.
func NewSubgraph() *Subgraph {
	return &Subgraph{
		Nodes:     []RetrievedEntity{},
		Edges:     []RetrievedRelation{},
		seenNodes: map[int64]bool{},
		seenEdges: map[int64]bool{},
	}
}

// AddNode inserts e unless a vertex with its id is present.
func (s *Subgraph) AddNode(e RetrievedEntity) {
	if s.seenNodes[e.ID] {
		return
	}
	s.seenNodes[e.ID] = true
	s.Nodes = append(s.Nodes, e)
}

// AddEdge inserts r unless an edge with its id is present.
func (s *Subgraph) AddEdge(r RetrievedRelation) {
	if s.seenEdges[r.ID] {
		return
	}
	s.seenEdges[r.ID] = true
	s.Edges = append(s.Edges, r)
}

// Merge adds every vertex and edge of other.
func (s *Subgraph) Merge(other *Subgraph) {
	for _, n := range other.Nodes {
		s.AddNode(n)
	}
	for _, e := range other.Edges {
		s.AddEdge(e)
	}
}
