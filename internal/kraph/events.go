package kraph

import (
	"context"
	"time"

	"kraph/core/internal/age"
	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
	"kraph/core/internal/names"
)

// RoleMapping binds one node to an event role.
type RoleMapping struct {
	Key      string   `json:"key" validate:"required"`
	Node     string   `json:"node" validate:"required"`
	Quantity *float64 `json:"quantity"`
}

// VariableMapping sets one protocol variable.
type VariableMapping struct {
	Key   string `json:"key" validate:"required"`
	Value any    `json:"value"`
}

// EventInput records an event of a category.
type EventInput struct {
	CategoryID string            `json:"category_id" validate:"required"`
	Name       *string           `json:"name"`
	ExternalID *string           `json:"external_id"`
	Sources    []RoleMapping     `json:"sources" validate:"dive"`
	Targets    []RoleMapping     `json:"targets" validate:"dive"`
	Variables  []VariableMapping `json:"variables" validate:"dive"`
	ValidFrom  *time.Time        `json:"valid_from"`
	ValidTo    *time.Time        `json:"valid_to"`
}

// RecordedEvent is the event vertex and the role edges created for it.
type RecordedEvent struct {
	Event    age.RetrievedEntity     `json:"event"`
	InEdges  []age.RetrievedRelation `json:"in_edges"`
	OutEdges []age.RetrievedRelation `json:"out_edges"`
	Created  bool                    `json:"created"`
}

// RecordProtocolEvent records a protocol event. Source and target roles of
// the category are bound from the mappings; unfilled roles fall back to the
// active reagent or a new reagent when the role says so.
func (s *Service) RecordProtocolEvent(ctx context.Context, in EventInput) (*RecordedEvent, error) {
	return s.recordEvent(ctx, "kraph.RecordProtocolEvent", db.KindProtocolEvent, in)
}

// RecordNaturalEvent records a natural event between entities.
func (s *Service) RecordNaturalEvent(ctx context.Context, in EventInput) (*RecordedEvent, error) {
	if len(in.Variables) > 0 {
		return nil, kgerr.New(kgerr.KindValidation, "kraph.RecordNaturalEvent", "natural events take no variables")
	}
	return s.recordEvent(ctx, "kraph.RecordNaturalEvent", db.KindNaturalEvent, in)
}

// binding is a resolved role: explicit nodes, or a default to materialise.
type binding struct {
	role     db.RoleDefinition
	edge     string // IN_ or OUT_ label
	inbound  bool
	nodes    []RoleMapping
	fallback *db.Category // reagent category for a default
	useNew   bool
}

func (s *Service) recordEvent(ctx context.Context, op string, kind db.Kind, in EventInput) (*RecordedEvent, error) {
	if err := s.check(op, in); err != nil {
		return nil, err
	}
	if in.ValidFrom != nil && in.ValidTo != nil && in.ValidTo.Before(*in.ValidFrom) {
		return nil, kgerr.New(kgerr.KindValidation, op, "valid_to is before valid_from")
	}
	cat, err := s.category(ctx, op, in.CategoryID, kind)
	if err != nil {
		return nil, err
	}
	ev := cat.Event
	if ev == nil {
		ev = &db.EventSpec{}
	}

	sources, err := s.bindRoles(ctx, op, ev.SourceRoles(), in.Sources, true)
	if err != nil {
		return nil, err
	}
	targets, err := s.bindRoles(ctx, op, ev.TargetRoles(), in.Targets, false)
	if err != nil {
		return nil, err
	}
	vars, err := bindVariables(op, ev.VariableDefinitions, in.Variables)
	if err != nil {
		return nil, err
	}
	// every explicit node must live in the event's graph
	for _, b := range append(append([]binding{}, sources...), targets...) {
		for _, m := range b.nodes {
			if _, err := nodeIn(op, cat, m.Node); err != nil {
				return nil, err
			}
		}
	}

	label := cat.Label
	if in.Name != nil {
		label = *in.Name
	}
	props := map[string]any{
		age.PropValidFrom: optionalTime(in.ValidFrom),
		age.PropValidTo:   optionalTime(in.ValidTo),
	}
	for k, v := range vars {
		props[k] = v
	}

	out := &RecordedEvent{InEdges: []age.RetrievedRelation{}, OutEdges: []age.RetrievedRelation{}}
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		v := vertex{cat: cat, label: label, externalID: in.ExternalID, props: props}
		event, found, err := s.matchExternal(ctx, c, v)
		if err != nil {
			return err
		}
		if found {
			out.Event = event
			return nil
		}

		// materialise defaults before the event so a failure leaves nothing
		for _, bs := range [][]binding{sources, targets} {
			for i := range bs {
				if err := s.materialise(ctx, c, op, &bs[i]); err != nil {
					return err
				}
			}
		}
		if event, err = s.createVertex(ctx, c, v); err != nil {
			return err
		}
		out.Event, out.Created = event, true

		for _, b := range sources {
			for _, m := range b.nodes {
				e, err := s.roleEdge(ctx, c, cat, b, m, event.ID)
				if err != nil {
					return err
				}
				out.InEdges = append(out.InEdges, e)
			}
		}
		for _, b := range targets {
			for _, m := range b.nodes {
				e, err := s.roleEdge(ctx, c, cat, b, m, event.ID)
				if err != nil {
					return err
				}
				out.OutEdges = append(out.OutEdges, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("event recorded", "category", cat.ID, "event", out.Event.NodeID(),
		"in", len(out.InEdges), "out", len(out.OutEdges), "created", out.Created)
	return out, nil
}

// bindRoles matches mappings to role definitions and checks cardinality,
// quantities and defaults without touching the engine.
func (s *Service) bindRoles(ctx context.Context, op string, defs []db.RoleDefinition, mappings []RoleMapping, inbound bool) ([]binding, error) {
	known := map[string]bool{}
	for _, d := range defs {
		known[d.Role] = true
	}
	for _, m := range mappings {
		if !known[m.Key] {
			return nil, kgerr.New(kgerr.KindValidation, op, "event category has no role %q", m.Key)
		}
	}

	out := make([]binding, 0, len(defs))
	for _, d := range defs {
		b := binding{role: d, inbound: inbound}
		var err error
		if inbound {
			b.edge, err = names.InRole(d.Role)
		} else {
			b.edge, err = names.OutRole(d.Role)
		}
		if err != nil {
			return nil, err
		}
		for _, m := range mappings {
			if m.Key == d.Role {
				b.nodes = append(b.nodes, m)
			}
		}

		switch {
		case len(b.nodes) == 0 && d.Optional:
			continue
		case len(b.nodes) == 0:
			def := d.CategoryDefinition
			var fallback *string
			switch {
			case def.DefaultUseActive != nil:
				fallback = def.DefaultUseActive
			case def.DefaultUseNew != nil:
				fallback, b.useNew = def.DefaultUseNew, true
			default:
				return nil, kgerr.RoleUnfilled(op, d.Role)
			}
			if b.fallback, err = s.category(ctx, op, *fallback, db.KindReagent); err != nil {
				return nil, err
			}
		case len(b.nodes) > 1 && !d.VariableAmount:
			return nil, kgerr.RoleCardinality(op, d.Role, len(b.nodes))
		}

		if d.NeedsQuantity {
			if b.fallback != nil {
				return nil, kgerr.New(kgerr.KindValidation, op, "role %q needs a quantity and cannot be filled by its default", d.Role)
			}
			for _, m := range b.nodes {
				if m.Quantity == nil {
					return nil, kgerr.New(kgerr.KindValidation, op, "role %q needs a quantity", d.Role)
				}
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// materialise fills a defaulted binding with the active or a new reagent.
func (s *Service) materialise(ctx context.Context, c age.Querier, op string, b *binding) error {
	if b.fallback == nil {
		return nil
	}
	var (
		r   age.RetrievedEntity
		err error
	)
	if b.useNew {
		r, _, err = s.upsertVertex(ctx, c, vertex{cat: b.fallback, label: b.fallback.Label})
	} else {
		r, err = activeReagent(ctx, c, b.fallback)
		if kgerr.Is(err, kgerr.KindNotFound) {
			return kgerr.RoleUnfilled(op, b.role.Role)
		}
	}
	if err != nil {
		return err
	}
	b.nodes = []RoleMapping{{Key: b.role.Role, Node: r.NodeID()}}
	return nil
}

// roleEdge links a bound node to the event: IN_ edges point at the event,
// OUT_ edges away from it. The role's category filters are enforced.
func (s *Service) roleEdge(ctx context.Context, c age.Querier, cat *db.Category, b binding, m RoleMapping, event int64) (age.RetrievedRelation, error) {
	node, err := nodeIn("kraph.roleEdge", cat, m.Node)
	if err != nil {
		return age.RetrievedRelation{}, err
	}
	allowed, err := s.allowedCategories(ctx, cat.GraphID, b.role.CategoryDefinition)
	if err != nil {
		return age.RetrievedRelation{}, err
	}
	if b.fallback != nil {
		allowed = nil
	}
	l := link{
		op:    opRoleEdge,
		graph: cat.GraphAgeName,
		label: b.edge,
		props: map[string]any{age.PropRole: b.role.Role, age.PropQuantity: optional(m.Quantity)},
	}
	if b.inbound {
		l.left, l.right, l.leftCats = node, event, allowed
	} else {
		l.left, l.right, l.rightCats = event, node, allowed
	}
	return linkNodes(ctx, c, l)
}

// bindVariables checks protocol variables against their definitions and
// returns the properties to store on the event.
func bindVariables(op string, defs []db.VariableDefinition, vars []VariableMapping) (map[string]any, error) {
	byParam := make(map[string]db.VariableDefinition, len(defs))
	for _, d := range defs {
		byParam[d.Param] = d
	}
	out := make(map[string]any, len(defs))
	for _, v := range vars {
		d, ok := byParam[v.Key]
		if !ok {
			return nil, kgerr.New(kgerr.KindValidation, op, "unknown variable %q", v.Key)
		}
		if _, dup := out[v.Key]; dup {
			return nil, kgerr.New(kgerr.KindValidation, op, "variable %q set twice", v.Key)
		}
		val, err := metricValue(op, d.ValueKind, v.Value)
		if err != nil {
			return nil, err
		}
		out[v.Key] = val
	}
	for _, d := range defs {
		if _, ok := out[d.Param]; ok {
			continue
		}
		switch {
		case d.Default != nil:
			val, err := metricValue(op, d.ValueKind, d.Default)
			if err != nil {
				return nil, err
			}
			out[d.Param] = val
		case !d.Optional:
			return nil, kgerr.New(kgerr.KindValidation, op, "variable %q is required", d.Param)
		}
	}
	return out, nil
}
