package kraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kraph/core/internal/age"
	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
	"kraph/core/internal/names"
)

// EdgeInput creates a measurement or relation edge from Source to Target.
type EdgeInput struct {
	CategoryID     string     `json:"category_id" validate:"required"`
	Source         string     `json:"source" validate:"required"`
	Target         string     `json:"target" validate:"required"`
	ValidFrom      *time.Time `json:"valid_from"`
	ValidTo        *time.Time `json:"valid_to"`
	CreatedBy      *string    `json:"created_by"`
	CreatedThrough *string    `json:"created_through"`
}

// CreateMeasurement creates a measurement edge, typically from a structure
// to an entity.
func (s *Service) CreateMeasurement(ctx context.Context, in EdgeInput) (age.RetrievedRelation, error) {
	return s.createEdge(ctx, "kraph.CreateMeasurement", db.KindMeasurement, in)
}

// CreateRelation creates a relation edge between two nodes.
func (s *Service) CreateRelation(ctx context.Context, in EdgeInput) (age.RetrievedRelation, error) {
	return s.createEdge(ctx, "kraph.CreateRelation", db.KindRelation, in)
}

func (s *Service) createEdge(ctx context.Context, op string, kind db.Kind, in EdgeInput) (age.RetrievedRelation, error) {
	if err := s.check(op, in); err != nil {
		return age.RetrievedRelation{}, err
	}
	if in.ValidFrom != nil && in.ValidTo != nil && in.ValidTo.Before(*in.ValidFrom) {
		return age.RetrievedRelation{}, kgerr.New(kgerr.KindValidation, op, "valid_to is before valid_from")
	}
	cat, err := s.category(ctx, op, in.CategoryID, kind)
	if err != nil {
		return age.RetrievedRelation{}, err
	}
	left, err := nodeIn(op, cat, in.Source)
	if err != nil {
		return age.RetrievedRelation{}, err
	}
	right, err := nodeIn(op, cat, in.Target)
	if err != nil {
		return age.RetrievedRelation{}, err
	}
	leftCats, err := s.allowedCategories(ctx, cat.GraphID, cat.Edge.SourceDefinition)
	if err != nil {
		return age.RetrievedRelation{}, err
	}
	rightCats, err := s.allowedCategories(ctx, cat.GraphID, cat.Edge.TargetDefinition)
	if err != nil {
		return age.RetrievedRelation{}, err
	}

	props := map[string]any{
		age.PropType:           string(kind),
		age.PropCategoryID:     cat.ID,
		age.PropCategoryType:   string(kind),
		age.PropCreatedAt:      s.stamp(),
		age.PropValidFrom:      optionalTime(in.ValidFrom),
		age.PropValidTo:        optionalTime(in.ValidTo),
		age.PropCreatedBy:      optional(in.CreatedBy),
		age.PropCreatedThrough: optional(in.CreatedThrough),
	}
	var out age.RetrievedRelation
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		var err error
		out, err = linkNodes(ctx, c, link{
			op:        opEdgeCreate,
			graph:     cat.GraphAgeName,
			label:     cat.AgeName,
			left:      left,
			right:     right,
			leftCats:  leftCats,
			rightCats: rightCats,
			props:     props,
		})
		return err
	})
	return out, err
}

// allowedCategories resolves a definition to the category ids it admits.
// Nil means unrestricted.
func (s *Service) allowedCategories(ctx context.Context, graphID string, def db.CategoryDefinition) ([]string, error) {
	if len(def.CategoryFilters) == 0 && len(def.TagFilters) == 0 {
		return nil, nil
	}
	ids := append([]string{}, def.CategoryFilters...)
	if len(def.TagFilters) > 0 {
		tagged, err := s.catalog.ListCategories(ctx, db.CategoryFilter{GraphID: graphID, Tags: def.TagFilters})
		if err != nil {
			return nil, err
		}
		for _, c := range tagged {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

// link is an edge between two existing nodes.
type link struct {
	op        string
	graph     string
	label     string
	left      int64
	right     int64
	leftCats  []string // nil: any category
	rightCats []string
	props     map[string]any
}

// linkNodes creates the edge described by l. When nothing matched, the
// endpoints are looked up to tell a missing node from a category mismatch.
func linkNodes(ctx context.Context, c age.Querier, l link) (age.RetrievedRelation, error) {
	params := map[string]any{"left": l.left, "right": l.right}
	where := "id(a) = $left AND id(b) = $right"
	if l.leftCats != nil {
		where += " AND a.__category_id IN $left_categories"
		params["left_categories"] = l.leftCats
	}
	if l.rightCats != nil {
		where += " AND b.__category_id IN $right_categories"
		params["right_categories"] = l.rightCats
	}
	body := "MATCH (a), (b) WHERE " + where +
		" CREATE (a)-[r:" + l.label + " " + propertyMap(l.props, params) + "]->(b) RETURN r"
	rows, err := c.Cypher(ctx, age.Statement{Op: l.op, Graph: l.graph, Label: l.label, Body: body, Params: params})
	if err != nil {
		return age.RetrievedRelation{}, err
	}
	if len(rows) == 0 {
		return age.RetrievedRelation{}, explainMiss(ctx, c, l.op, l.graph, l.left, l.right)
	}
	return age.ParseEdge(l.graph, rows[0][0])
}

// explainMiss explains a mutation that returned no row.
func explainMiss(ctx context.Context, c age.Querier, op, graph string, ids ...int64) error {
	rows, err := c.Cypher(ctx, age.Statement{
		Op:     opVertexLookup,
		Graph:  graph,
		Body:   "MATCH (n) WHERE id(n) IN $ids RETURN id(n)",
		Params: map[string]any{"ids": ids},
	})
	if err != nil {
		return err
	}
	found := map[string]bool{}
	for _, row := range rows {
		found[strings.TrimSpace(row[0])] = true
	}
	var missing []string
	for _, id := range ids {
		if !found[fmt.Sprint(id)] {
			missing = append(missing, names.NodeID(graph, id))
		}
	}
	if len(missing) > 0 {
		return kgerr.New(kgerr.KindNotFound, op, "nodes %s do not exist", strings.Join(missing, ", "))
	}
	return kgerr.New(kgerr.KindValidation, op, "nodes %v exist but their categories are not allowed here", ids)
}

// MetricInput attaches a value to a structure or entity.
type MetricInput struct {
	CategoryID     string  `json:"category_id" validate:"required"`
	Target         string  `json:"target" validate:"required"`
	Value          any     `json:"value"`
	CreatedBy      *string `json:"created_by"`
	CreatedThrough *string `json:"created_through"`
}

// CreateMetric creates a metric node and its DESCRIBES edge to the target.
func (s *Service) CreateMetric(ctx context.Context, in MetricInput) (age.RetrievedEntity, error) {
	const op = "kraph.CreateMetric"
	if err := s.check(op, in); err != nil {
		return age.RetrievedEntity{}, err
	}
	if in.Value == nil {
		return age.RetrievedEntity{}, kgerr.New(kgerr.KindValidation, op, "value is required")
	}
	cat, err := s.category(ctx, op, in.CategoryID, db.KindMetric)
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	value, err := metricValue(op, cat.Metric.MetricKind, in.Value)
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	target, err := nodeIn(op, cat, in.Target)
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	allowed, err := s.allowedCategories(ctx, cat.GraphID, cat.Metric.StructureDefinition)
	if err != nil {
		return age.RetrievedEntity{}, err
	}

	now := s.stamp()
	graph := cat.GraphAgeName
	var out age.RetrievedEntity
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		var seq any
		if cat.SequenceName != nil {
			n, err := c.NextVal(ctx, age.QualifiedSequence(graph, *cat.SequenceName))
			if err != nil {
				return err
			}
			seq = n
		}
		params := map[string]any{"target": target}
		where := "id(t) = $target"
		if allowed != nil {
			where += " AND t.__category_id IN $target_categories"
			params["target_categories"] = allowed
		}
		node := propertyMap(map[string]any{
			age.PropType:           string(db.KindMetric),
			age.PropCategoryID:     cat.ID,
			age.PropCategoryType:   string(db.KindMetric),
			age.PropLabel:          cat.Label,
			age.PropValue:          value,
			age.PropCreatedAt:      now,
			age.PropSequence:       seq,
			age.PropCreatedBy:      optional(in.CreatedBy),
			age.PropCreatedThrough: optional(in.CreatedThrough),
		}, params)
		rows, err := c.Cypher(ctx, age.Statement{
			Op:    opMetricCreate,
			Graph: graph,
			Label: cat.AgeName,
			Body: "MATCH (t) WHERE " + where +
				" CREATE (m:" + cat.AgeName + " " + node + ")-[:" + names.DescribesLabel +
				" {__created_at: $created_at}]->(t) RETURN m",
			Params: params,
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return explainMiss(ctx, c, op, graph, target)
		}
		out, err = parseEntity(graph, rows[0])
		return err
	})
	return out, err
}

// metricValue checks v against the metric kind and returns the stored form.
func metricValue(op string, kind db.MetricKind, v any) (any, error) {
	bad := func() error {
		return kgerr.New(kgerr.KindValidation, op, "value %v is not a valid %s", v, kind)
	}
	switch kind {
	case db.MetricNumber:
		if f, ok := number(v); ok {
			return f, nil
		}
	case db.MetricString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case db.MetricBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case db.MetricDate:
		switch t := v.(type) {
		case time.Time:
			return age.FormatTime(t), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, kgerr.Wrap(kgerr.KindValidation, op, err, "value %q is not an ISO-8601 date", t)
			}
			return age.FormatTime(parsed), nil
		}
	case db.MetricVector:
		vec := []float64{}
		switch t := v.(type) {
		case []float64:
			vec = t
		case []any:
			for _, x := range t {
				f, ok := number(x)
				if !ok {
					return nil, bad()
				}
				vec = append(vec, f)
			}
		default:
			return nil, bad()
		}
		b, err := json.Marshal(vec)
		if err != nil {
			return nil, bad()
		}
		return string(b), nil
	}
	return nil, bad()
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
