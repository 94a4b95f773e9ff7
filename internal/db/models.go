package db

import "encoding/json"

// Kind tags the category variant.
type Kind string

const (
	KindEntity        Kind = "ENTITY"
	KindReagent       Kind = "REAGENT"
	KindStructure     Kind = "STRUCTURE"
	KindMetric        Kind = "METRIC"
	KindNaturalEvent  Kind = "NATURAL_EVENT"
	KindProtocolEvent Kind = "PROTOCOL_EVENT"
	KindMeasurement   Kind = "MEASUREMENT"
	KindRelation      Kind = "RELATION"
)

// Kinds lists every category variant.
var Kinds = []Kind{
	KindEntity, KindReagent, KindStructure, KindMetric,
	KindNaturalEvent, KindProtocolEvent, KindMeasurement, KindRelation,
}

// Valid reports whether k is a known variant.
func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if k == v {
			return true
		}
	}
	return false
}

// IsEdge is true for variants projected as edge labels.
func (k Kind) IsEdge() bool { return k == KindMeasurement || k == KindRelation }

// IsEvent is true for natural and protocol events.
func (k Kind) IsEvent() bool { return k == KindNaturalEvent || k == KindProtocolEvent }

// MetricKind is the value type carried by a metric node.
type MetricKind string

const (
	MetricString  MetricKind = "STRING"
	MetricNumber  MetricKind = "NUMBER"
	MetricBoolean MetricKind = "BOOLEAN"
	MetricDate    MetricKind = "DATE"
	MetricVector  MetricKind = "VECTOR"
)

// Graph represents a row in the graphs table
type Graph struct {
	ID          string   `json:"id"`
	Owner       string   `json:"owner"`
	Name        string   `json:"name"`
	AgeName     string   `json:"age_name"` // engine graph, immutable
	Description *string  `json:"description"`
	PinnedBy    []string `json:"pinned_by"`
	CreatedAt   int64    `json:"created_at"` // Unix millis
}

// CategoryDefinition narrows which nodes may fill a slot.
type CategoryDefinition struct {
	CategoryFilters  []string `json:"category_filters,omitempty" yaml:"category_filters"`
	TagFilters       []string `json:"tag_filters,omitempty" yaml:"tag_filters"`
	DefaultUseActive *string  `json:"default_use_active,omitempty" yaml:"default_use_active"` // reagent category id
	DefaultUseNew    *string  `json:"default_use_new,omitempty" yaml:"default_use_new"`       // reagent category id
}

// RoleDefinition is one participation slot of an event category.
type RoleDefinition struct {
	Role               string             `json:"role" validate:"required"`
	Label              *string            `json:"label,omitempty"`
	Description        *string            `json:"description,omitempty"`
	CategoryDefinition CategoryDefinition `json:"category_definition"`
	NeedsQuantity      bool               `json:"needs_quantity"`
	Optional           bool               `json:"optional"`
	VariableAmount     bool               `json:"variable_amount"`
}

// VariableDefinition is a parameter recorded with a protocol event.
type VariableDefinition struct {
	Param       string     `json:"param" validate:"required"`
	ValueKind   MetricKind `json:"value_kind" validate:"required,oneof=STRING NUMBER BOOLEAN DATE VECTOR"`
	Default     any        `json:"default,omitempty"`
	Optional    bool       `json:"optional"`
	Label       *string    `json:"label,omitempty"`
	Description *string    `json:"description,omitempty"`
}

// StructureSpec is the STRUCTURE payload.
type StructureSpec struct {
	Identifier string `json:"identifier"` // "@ns/name", unique per graph
}

// MetricSpec is the METRIC payload.
type MetricSpec struct {
	MetricKind          MetricKind         `json:"metric_kind"`
	StructureDefinition CategoryDefinition `json:"structure_definition"`
}

// EdgeSpec is the MEASUREMENT and RELATION payload.
type EdgeSpec struct {
	SourceDefinition CategoryDefinition `json:"source_definition"`
	TargetDefinition CategoryDefinition `json:"target_definition"`
}

// EventSpec is the NATURAL_EVENT and PROTOCOL_EVENT payload. Natural events
// use only the entity roles and the support definition.
type EventSpec struct {
	SourceEntityRoles   []RoleDefinition     `json:"source_entity_roles,omitempty"`
	TargetEntityRoles   []RoleDefinition     `json:"target_entity_roles,omitempty"`
	SourceReagentRoles  []RoleDefinition     `json:"source_reagent_roles,omitempty"`
	TargetReagentRoles  []RoleDefinition     `json:"target_reagent_roles,omitempty"`
	VariableDefinitions []VariableDefinition `json:"variable_definitions,omitempty"`
	SupportDefinition   *CategoryDefinition  `json:"support_definition,omitempty"`
	PlateChildren       json.RawMessage      `json:"plate_children,omitempty"`
}

// SourceRoles returns entity then reagent source roles.
func (e *EventSpec) SourceRoles() []RoleDefinition {
	out := make([]RoleDefinition, 0, len(e.SourceEntityRoles)+len(e.SourceReagentRoles))
	out = append(out, e.SourceEntityRoles...)
	return append(out, e.SourceReagentRoles...)
}

// TargetRoles returns entity then reagent target roles.
func (e *EventSpec) TargetRoles() []RoleDefinition {
	out := make([]RoleDefinition, 0, len(e.TargetEntityRoles)+len(e.TargetReagentRoles))
	out = append(out, e.TargetEntityRoles...)
	return append(out, e.TargetReagentRoles...)
}

// Category represents a row in the categories table. Exactly one of the
// variant payloads is set, selected by Kind; entity and reagent have none.
type Category struct {
	ID           string   `json:"id"`
	GraphID      string   `json:"graph_id"`
	GraphAgeName string   `json:"graph_age_name"`
	Kind         Kind     `json:"kind"`
	Label        string   `json:"label"`
	AgeName      string   `json:"age_name"` // engine label, never recomputed
	Description  *string  `json:"description"`
	Purl         *string  `json:"purl"`
	Color        []int    `json:"color"`
	StoreID      *string  `json:"store_id"`
	Tags         []string `json:"tags"`
	PinnedBy     []string `json:"pinned_by"`
	SequenceID   *string  `json:"sequence_id"`
	SequenceName *string  `json:"sequence_name"`
	PositionX    float64  `json:"position_x"`
	PositionY    float64  `json:"position_y"`
	CreatedAt    int64    `json:"created_at"` // Unix millis
	UpdatedAt    int64    `json:"updated_at"` // Unix millis

	Structure *StructureSpec `json:"structure,omitempty"`
	Metric    *MetricSpec    `json:"metric,omitempty"`
	Edge      *EdgeSpec      `json:"edge,omitempty"`
	Event     *EventSpec     `json:"event,omitempty"`
}

// Roles returns every role definition of an event category.
func (c *Category) Roles() []RoleDefinition {
	if c.Event == nil {
		return nil
	}
	return append(c.Event.SourceRoles(), c.Event.TargetRoles()...)
}

// variant is the JSON shape of the categories.variant column.
type variant struct {
	Structure *StructureSpec `json:"structure,omitempty"`
	Metric    *MetricSpec    `json:"metric,omitempty"`
	Edge      *EdgeSpec      `json:"edge,omitempty"`
	Event     *EventSpec     `json:"event,omitempty"`
}

// Sequence represents a row in the sequences table
type Sequence struct {
	ID        string `json:"id"`
	GraphID   string `json:"graph_id"`
	Name      string `json:"name"` // "<age_name>_sequence", lives in the graph's schema
	Start     int64  `json:"start"`
	Step      int64  `json:"step"`
	Min       int64  `json:"min"`
	Max       *int64 `json:"max"`
	Cycle     bool   `json:"cycle"`
	CreatedAt int64  `json:"created_at"`
}

// QueryKind is the result shape of a saved query.
type QueryKind string

const (
	QueryPath  QueryKind = "PATH"
	QueryPairs QueryKind = "PAIRS"
	QueryTable QueryKind = "TABLE"
)

// QueryScope says whether a query runs against a whole graph or a seed node.
type QueryScope string

const (
	ScopeGraph QueryScope = "GRAPH"
	ScopeNode  QueryScope = "NODE"
)

// SavedQuery represents a row in the graph_queries table
type SavedQuery struct {
	ID          string     `json:"id"`
	GraphID     string     `json:"graph_id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Kind        QueryKind  `json:"kind"`
	Scope       QueryScope `json:"scope"`
	Body        string     `json:"body"`
	Columns     []string   `json:"columns"`
	CategoryIDs []string   `json:"category_ids"` // node-scoped queries: categories they apply to
	CreatedAt   int64      `json:"created_at"`
}
