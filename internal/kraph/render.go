package kraph

import (
	"context"
	"regexp"
	"strings"

	"kraph/core/internal/age"
	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
	"kraph/core/internal/names"
)

var mutatingClause = regexp.MustCompile(`(?i)\b(CREATE|MERGE|SET|DELETE|REMOVE|DETACH)\b`)

// QueryInput saves a Cypher query against a graph. NODE-scoped bodies refer
// to the seed node as $id.
type QueryInput struct {
	GraphID     string   `json:"graph_id" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	Description *string  `json:"description"`
	Kind        string   `json:"kind" validate:"required,oneof=PATH PAIRS TABLE"`
	Scope       string   `json:"scope" validate:"omitempty,oneof=GRAPH NODE"`
	Body        string   `json:"body" validate:"required"`
	Columns     []string `json:"columns"`
	CategoryIDs []string `json:"category_ids"`
}

// SaveQuery validates and stores a query.
func (s *Service) SaveQuery(ctx context.Context, in QueryInput) (*db.SavedQuery, error) {
	const op = "kraph.SaveQuery"
	if err := s.check(op, in); err != nil {
		return nil, err
	}
	scope := db.QueryScope(in.Scope)
	if scope == "" {
		scope = db.ScopeGraph
	}
	kind := db.QueryKind(in.Kind)
	if strings.Contains(in.Body, "$$") {
		return nil, kgerr.New(kgerr.KindValidation, op, "query body must not contain $$")
	}
	if w := mutatingClause.FindString(in.Body); w != "" {
		return nil, kgerr.New(kgerr.KindValidation, op, "saved queries are read-only, found %s", strings.ToUpper(w))
	}
	if scope == db.ScopeNode && !strings.Contains(in.Body, "$id") {
		return nil, kgerr.New(kgerr.KindValidation, op, "node queries must refer to the seed node as $id")
	}
	if scope == db.ScopeGraph && len(in.CategoryIDs) > 0 {
		return nil, kgerr.New(kgerr.KindValidation, op, "only node queries apply to categories")
	}

	var columns []string
	switch kind {
	case db.QueryTable:
		if len(in.Columns) == 0 {
			return nil, kgerr.New(kgerr.KindValidation, op, "table queries declare their columns")
		}
		seen := map[string]bool{}
		for _, c := range in.Columns {
			if err := names.Validate(c); err != nil {
				return nil, err
			}
			if seen[c] {
				return nil, kgerr.New(kgerr.KindValidation, op, "column %q declared twice", c)
			}
			seen[c] = true
		}
		columns = in.Columns
	default:
		if len(in.Columns) > 0 {
			return nil, kgerr.New(kgerr.KindValidation, op, "%s queries have fixed columns", kind)
		}
	}

	sq := &db.SavedQuery{
		GraphID:     in.GraphID,
		Name:        in.Name,
		Description: in.Description,
		Kind:        kind,
		Scope:       scope,
		Body:        strings.TrimSpace(in.Body),
		Columns:     columns,
		CategoryIDs: in.CategoryIDs,
	}
	err := s.catalog.WithTx(ctx, func(q *db.Queries) error {
		if _, err := q.GetGraph(ctx, in.GraphID); err != nil {
			return err
		}
		if len(in.CategoryIDs) > 0 {
			found, err := q.ListCategories(ctx, db.CategoryFilter{GraphID: in.GraphID, IDs: in.CategoryIDs})
			if err != nil {
				return err
			}
			if len(found) != len(uniq(in.CategoryIDs)) {
				return kgerr.New(kgerr.KindValidation, op, "categories %v are not all in graph %s", in.CategoryIDs, in.GraphID)
			}
		}
		return q.InsertQuery(ctx, sq)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("query saved", "graph", in.GraphID, "query", sq.ID, "kind", sq.Kind, "scope", sq.Scope)
	return sq, nil
}

// GetQuery returns a saved query.
func (s *Service) GetQuery(ctx context.Context, id string) (*db.SavedQuery, error) {
	return s.catalog.GetQuery(ctx, id)
}

// ListQueries returns the saved queries of a graph; an empty scope lists both.
func (s *Service) ListQueries(ctx context.Context, graphID string, scope db.QueryScope) ([]db.SavedQuery, error) {
	if _, err := s.graph(ctx, graphID); err != nil {
		return nil, err
	}
	return s.catalog.ListQueries(ctx, graphID, scope)
}

// DeleteQuery removes a saved query.
func (s *Service) DeleteQuery(ctx context.Context, id string) error {
	return s.catalog.DeleteQuery(ctx, id)
}

// Table is the result of a TABLE query.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Rendered is the result of running a saved query. Exactly one of Path,
// Pairs and Table is set, selected by Kind.
type Rendered struct {
	Kind  db.QueryKind  `json:"kind"`
	Path  *age.Subgraph `json:"path,omitempty"`
	Pairs []Pair        `json:"pairs,omitempty"`
	Table *Table        `json:"table,omitempty"`
}

// RenderGraphQuery runs a GRAPH-scoped query.
func (s *Service) RenderGraphQuery(ctx context.Context, queryID string) (*Rendered, error) {
	const op = "kraph.RenderGraphQuery"
	sq, err := s.catalog.GetQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if sq.Scope != db.ScopeGraph {
		return nil, kgerr.New(kgerr.KindValidation, op, "query %s is node scoped", sq.ID)
	}
	graph, err := s.graphAgeName(ctx, sq.GraphID)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, sq, graph, nil)
}

// RenderNodeQuery runs a NODE-scoped query with nodeID bound to $id.
func (s *Service) RenderNodeQuery(ctx context.Context, queryID, nodeID string) (*Rendered, error) {
	const op = "kraph.RenderNodeQuery"
	sq, err := s.catalog.GetQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if sq.Scope != db.ScopeNode {
		return nil, kgerr.New(kgerr.KindValidation, op, "query %s is graph scoped", sq.ID)
	}
	graph, err := s.graphAgeName(ctx, sq.GraphID)
	if err != nil {
		return nil, err
	}
	nodeGraph, id, err := names.ParseNodeID(nodeID)
	if err != nil {
		return nil, err
	}
	if nodeGraph != graph {
		return nil, kgerr.New(kgerr.KindValidation, op, "node %s is not in graph %s", nodeID, graph)
	}
	return s.render(ctx, sq, graph, map[string]any{"id": id})
}

func (s *Service) render(ctx context.Context, sq *db.SavedQuery, graph string, params map[string]any) (*Rendered, error) {
	st := age.Statement{Op: opRender, Graph: graph, Body: sq.Body, Params: params}
	switch sq.Kind {
	case db.QueryPath:
		st.Columns = []string{"path"}
	case db.QueryPairs:
		st.Columns = []string{"left", "right", "edge"}
	case db.QueryTable:
		st.Columns = sq.Columns
	default:
		return nil, kgerr.New(kgerr.KindValidation, "kraph.render", "query %s has unknown kind %q", sq.ID, sq.Kind)
	}

	out := &Rendered{Kind: sq.Kind}
	err := s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		rows, err := c.Cypher(ctx, st)
		if err != nil {
			return err
		}
		switch sq.Kind {
		case db.QueryPath:
			out.Path = age.NewSubgraph()
			for _, row := range rows {
				sg, err := age.ParsePath(graph, row[0])
				if err != nil {
					return err
				}
				out.Path.Merge(sg)
			}
		case db.QueryPairs:
			out.Pairs, err = parsePairs(graph, rows)
			if err != nil {
				return err
			}
		case db.QueryTable:
			out.Table = &Table{Columns: st.Columns, Rows: make([][]any, 0, len(rows))}
			for _, row := range rows {
				cells := make([]any, len(row))
				for i, cell := range row {
					if age.IsPath(cell) {
						cells[i], err = age.ParsePath(graph, cell)
					} else {
						cells[i], err = age.ParseValue(cell)
					}
					if err != nil {
						return err
					}
				}
				out.Table.Rows = append(out.Table.Rows, cells)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("query rendered", "query", sq.ID, "kind", sq.Kind)
	return out, nil
}
