// Package kraph implements the knowledge-graph operations: the category
// manager, typed node and edge creation, the event recorder and the query
// renderer. The catalogue holds the schema; the engine holds the instances.
package kraph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"kraph/core/internal/age"
	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
)

// Statement operation codes. They name tracing spans and let test engines
// recognise a statement without parsing Cypher.
const (
	opVertexCreate  = "vertex.create"
	opVertexUpsert  = "vertex.upsert"
	opVertexGet     = "vertex.get"
	opVertexLookup  = "vertex.lookup"
	opVertexList    = "vertex.list"
	opVertexLatest  = "vertex.latest"
	opVertexAll     = "vertex.all"
	opEdgeAll       = "edge.all"
	opEdgeCreate    = "edge.create"
	opRoleEdge      = "event.role_edge"
	opStructureFind = "structure.find"
	opClearActive   = "reagent.clear_active"
	opSetActive     = "reagent.set_active"
	opActive        = "reagent.active"
	opMetricCreate  = "metric.create"
	opPairs         = "pairs.select"
	opNeighbors     = "node.neighbors"
	opRender        = "query.render"
)

// Service runs kraph operations against a catalogue and an engine session.
type Service struct {
	catalog  *db.DB
	engine   age.Session
	logger   *slog.Logger
	now      func() time.Time
	validate *validator.Validate
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the clock used for __created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(catalog *db.DB, engine age.Session, opts ...Option) *Service {
	s := &Service{
		catalog:  catalog,
		engine:   engine,
		logger:   slog.Default(),
		now:      time.Now,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog exposes the catalogue store.
func (s *Service) Catalog() *db.DB { return s.catalog }

func (s *Service) stamp() string { return age.FormatTime(s.now()) }

// check runs struct tag validation and reports every failing field.
func (s *Service) check(op string, v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return kgerr.Wrap(kgerr.KindValidation, op, err, "invalid input")
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return kgerr.New(kgerr.KindValidation, op, "%s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := fieldPath(e.Namespace())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", field, e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", field, e.Tag(), e.Value())
	}
}

// fieldPath turns "CategoryInput.Color[3]" into "color[3]".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		var b strings.Builder
		for j, r := range p {
			if j > 0 && r >= 'A' && r <= 'Z' && p[j-1] != '[' {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		}
		parts[i] = strings.ToLower(b.String())
	}
	return strings.Join(parts, ".")
}

// Listing bounds.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Page bounds a listing. A zero Limit means DefaultLimit.
type Page struct {
	Limit  int `json:"limit" validate:"min=0,max=1000"`
	Offset int `json:"offset" validate:"min=0"`
}

func (p Page) clause() string {
	limit := p.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	return fmt.Sprintf(" SKIP %d LIMIT %d", p.Offset, limit)
}

// graph loads a graph descriptor.
func (s *Service) graph(ctx context.Context, id string) (*db.Graph, error) {
	if id == "" {
		return nil, kgerr.New(kgerr.KindValidation, "kraph.graph", "graph id is required")
	}
	return s.catalog.GetGraph(ctx, id)
}

// category loads a category and checks its kind.
func (s *Service) category(ctx context.Context, op, id string, kinds ...db.Kind) (*db.Category, error) {
	if id == "" {
		return nil, kgerr.New(kgerr.KindValidation, op, "category id is required")
	}
	c, err := s.catalog.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(kinds) == 0 {
		return c, nil
	}
	for _, k := range kinds {
		if c.Kind == k {
			return c, nil
		}
	}
	return nil, kgerr.New(kgerr.KindValidation, op, "category %s is %s, want %v", c.ID, c.Kind, kinds)
}

// paramName is the Cypher parameter bound to a property key.
func paramName(key string) string {
	if rest, ok := strings.CutPrefix(key, "__"); ok {
		return rest
	}
	return "v_" + key
}

// propertyMap renders a Cypher map binding every non-nil property as a
// parameter, e.g. {__label: $label, passage: $v_passage}. Keys are emitted
// in sorted order and must be valid identifiers.
func propertyMap(props map[string]any, params map[string]any) string {
	keys := make([]string, 0, len(props))
	for k, v := range props {
		if v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		p := paramName(k)
		parts[i] = k + ": $" + p
		params[p] = props[k]
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// parseEntity parses the first cell of a row as a vertex of graph.
func parseEntity(graph string, row age.Row) (age.RetrievedEntity, error) {
	return age.ParseVertex(graph, row[0])
}

func parseEntities(graph string, rows []age.Row) ([]age.RetrievedEntity, error) {
	out := make([]age.RetrievedEntity, 0, len(rows))
	for _, row := range rows {
		e, err := parseEntity(graph, row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// optional returns nil for a nil pointer so propertyMap drops the key.
func optional[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return age.FormatTime(*t)
}
