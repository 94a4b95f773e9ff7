package kraph

import (
	"context"
	"strings"
	"time"

	"kraph/core/internal/age"
	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
	"kraph/core/internal/names"
)

// Order selects the ordering of a node listing.
type Order string

const (
	OrderNone   Order = ""
	OrderLatest Order = "latest" // __created_at descending
	OrderID     Order = "id"     // engine id ascending
)

// NodeFilter selects entities or reagents. Supplied predicates AND together.
type NodeFilter struct {
	GraphID       string     `json:"graph_id"`
	Categories    []string   `json:"categories"`
	Tags          []string   `json:"tags"`
	ExternalIDs   []string   `json:"external_ids"`
	Search        *string    `json:"search"`
	CreatedAfter  *time.Time `json:"created_after"`
	CreatedBefore *time.Time `json:"created_before"`
	IDs           []string   `json:"ids"`
	Active        bool       `json:"active"`
	Order         Order      `json:"order" validate:"omitempty,oneof=latest id"`
	Page
}

// GetEntity returns one node by id.
func (s *Service) GetEntity(ctx context.Context, nodeID string) (age.RetrievedEntity, error) {
	graph, id, err := names.ParseNodeID(nodeID)
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	var out age.RetrievedEntity
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		var err error
		out, err = getVertex(ctx, c, graph, id)
		return err
	})
	return out, err
}

func getVertex(ctx context.Context, c age.Querier, graph string, id int64) (age.RetrievedEntity, error) {
	rows, err := c.Cypher(ctx, age.Statement{
		Op:     opVertexGet,
		Graph:  graph,
		Body:   "MATCH (n) WHERE id(n) = $id RETURN n",
		Params: map[string]any{"id": id},
	})
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	if len(rows) == 0 {
		return age.RetrievedEntity{}, kgerr.New(kgerr.KindNotFound, "kraph.GetEntity", "node %s does not exist", names.NodeID(graph, id))
	}
	return parseEntity(graph, rows[0])
}

// GetEntities lists entities matching f.
func (s *Service) GetEntities(ctx context.Context, f NodeFilter) ([]age.RetrievedEntity, error) {
	return s.listNodes(ctx, "kraph.GetEntities", db.KindEntity, f)
}

// GetReagents lists reagents matching f.
func (s *Service) GetReagents(ctx context.Context, f NodeFilter) ([]age.RetrievedEntity, error) {
	return s.listNodes(ctx, "kraph.GetReagents", db.KindReagent, f)
}

func (s *Service) listNodes(ctx context.Context, op string, kind db.Kind, f NodeFilter) ([]age.RetrievedEntity, error) {
	if err := s.check(op, f); err != nil {
		return nil, err
	}
	graph, cats, err := s.resolveCategories(ctx, op, kind, f.GraphID, f.Categories, f.Tags)
	if err != nil {
		return nil, err
	}

	var ids []int64
	if len(f.IDs) > 0 {
		idGraph, parsed, err := names.ParseNodeIDs(f.IDs)
		if err != nil {
			return nil, err
		}
		if graph == "" {
			graph = idGraph
		}
		if idGraph != graph {
			return nil, kgerr.New(kgerr.KindValidation, op, "ids belong to graph %s, not %s", idGraph, graph)
		}
		ids = parsed
	}
	if graph == "" {
		return nil, kgerr.New(kgerr.KindValidation, op, "a graph, categories, tags or ids are required")
	}
	if cats != nil && len(cats) == 0 {
		return []age.RetrievedEntity{}, nil
	}

	params := map[string]any{}
	conds := []string{"n.__type = $type"}
	params["type"] = string(kind)
	if cats != nil {
		conds = append(conds, "n.__category_id IN $categories")
		params["categories"] = cats
	}
	if len(f.ExternalIDs) > 0 {
		conds = append(conds, "n.__external_id IN $external_ids")
		params["external_ids"] = f.ExternalIDs
	}
	if f.Search != nil && strings.TrimSpace(*f.Search) != "" {
		conds = append(conds, "toLower(n.__label) CONTAINS toLower($search)")
		params["search"] = strings.TrimSpace(*f.Search)
	}
	if f.CreatedAfter != nil {
		conds = append(conds, "n.__created_at > $created_after")
		params["created_after"] = age.FormatTime(*f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		conds = append(conds, "n.__created_at < $created_before")
		params["created_before"] = age.FormatTime(*f.CreatedBefore)
	}
	if ids != nil {
		conds = append(conds, "id(n) IN $ids")
		params["ids"] = ids
	}
	if f.Active {
		conds = append(conds, "n.__active = true")
	}

	body := "MATCH (n) WHERE " + strings.Join(conds, " AND ") + " RETURN n"
	switch f.Order {
	case OrderLatest:
		body += " ORDER BY n.__created_at DESC"
	case OrderID:
		body += " ORDER BY id(n)"
	}
	body += f.Page.clause()

	var out []age.RetrievedEntity
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		rows, err := c.Cypher(ctx, age.Statement{Op: opVertexList, Graph: graph, Body: body, Params: params})
		if err != nil {
			return err
		}
		out, err = parseEntities(graph, rows)
		return err
	})
	return out, err
}

// resolveCategories finds the categories of kind selected by category ids
// and tags, and the single graph they share with graphID. cats is nil when
// neither ids nor tags were given.
func (s *Service) resolveCategories(ctx context.Context, op string, kind db.Kind, graphID string, ids, tags []string) (string, []string, error) {
	if len(ids) == 0 && len(tags) == 0 {
		if graphID == "" {
			return "", nil, nil
		}
		graph, err := s.graphAgeName(ctx, graphID)
		return graph, nil, err
	}
	graph := ""
	if graphID != "" {
		var err error
		if graph, err = s.graphAgeName(ctx, graphID); err != nil {
			return "", nil, err
		}
	}
	sameGraph := func(found []db.Category) error {
		for _, c := range found {
			if graph == "" {
				graph = c.GraphAgeName
			}
			if c.GraphAgeName != graph {
				return kgerr.New(kgerr.KindValidation, op, "categories span graphs %s and %s", graph, c.GraphAgeName)
			}
		}
		return nil
	}

	// ids must exist whatever the tags narrow them to
	if len(ids) > 0 {
		named, err := s.catalog.ListCategories(ctx, db.CategoryFilter{GraphID: graphID, IDs: ids, Kinds: []db.Kind{kind}})
		if err != nil {
			return "", nil, err
		}
		if len(named) < len(uniq(ids)) {
			return "", nil, kgerr.New(kgerr.KindNotFound, op, "some of the %s categories %v do not exist", kind, ids)
		}
		if err := sameGraph(named); err != nil {
			return "", nil, err
		}
	}
	found, err := s.catalog.ListCategories(ctx, db.CategoryFilter{GraphID: graphID, IDs: ids, Tags: tags, Kinds: []db.Kind{kind}})
	if err != nil {
		return "", nil, err
	}
	if err := sameGraph(found); err != nil {
		return "", nil, err
	}
	cats := make([]string, 0, len(found))
	for _, c := range found {
		cats = append(cats, c.ID)
	}
	if graph == "" {
		// tags matched nothing and no graph was named
		return "", nil, kgerr.New(kgerr.KindNotFound, op, "no %s category matches tags %v", kind, tags)
	}
	return graph, cats, nil
}

func uniq(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func (s *Service) graphAgeName(ctx context.Context, graphID string) (string, error) {
	g, err := s.graph(ctx, graphID)
	if err != nil {
		return "", err
	}
	return g.AgeName, nil
}

// SelectAllEntities returns every vertex of a graph in engine id order.
func (s *Service) SelectAllEntities(ctx context.Context, graphID string, page Page) ([]age.RetrievedEntity, error) {
	if err := s.check("kraph.SelectAllEntities", page); err != nil {
		return nil, err
	}
	graph, err := s.graphAgeName(ctx, graphID)
	if err != nil {
		return nil, err
	}
	var out []age.RetrievedEntity
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		rows, err := c.Cypher(ctx, age.Statement{
			Op:    opVertexAll,
			Graph: graph,
			Body:  "MATCH (n) RETURN n ORDER BY id(n)" + page.clause(),
		})
		if err != nil {
			return err
		}
		out, err = parseEntities(graph, rows)
		return err
	})
	return out, err
}

// SelectAllRelations returns every edge of a graph in engine id order.
func (s *Service) SelectAllRelations(ctx context.Context, graphID string, page Page) ([]age.RetrievedRelation, error) {
	if err := s.check("kraph.SelectAllRelations", page); err != nil {
		return nil, err
	}
	graph, err := s.graphAgeName(ctx, graphID)
	if err != nil {
		return nil, err
	}
	var out []age.RetrievedRelation
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		rows, err := c.Cypher(ctx, age.Statement{
			Op:    opEdgeAll,
			Graph: graph,
			Body:  "MATCH ()-[r]->() RETURN r ORDER BY id(r)" + page.clause(),
		})
		if err != nil {
			return err
		}
		out = make([]age.RetrievedRelation, 0, len(rows))
		for _, row := range rows {
			e, err := age.ParseEdge(graph, row[0])
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// SelectLatestNodes returns the most recently created vertices of a graph,
// optionally restricted to node types such as ENTITY or PROTOCOL_EVENT.
func (s *Service) SelectLatestNodes(ctx context.Context, graphID string, types []db.Kind, page Page) ([]age.RetrievedEntity, error) {
	const op = "kraph.SelectLatestNodes"
	if err := s.check(op, page); err != nil {
		return nil, err
	}
	graph, err := s.graphAgeName(ctx, graphID)
	if err != nil {
		return nil, err
	}
	params := map[string]any{}
	where := ""
	if len(types) > 0 {
		ts := make([]string, len(types))
		for i, t := range types {
			if !t.Valid() || t.IsEdge() {
				return nil, kgerr.New(kgerr.KindValidation, op, "%q is not a node type", t)
			}
			ts[i] = string(t)
		}
		where = " WHERE n.__type IN $types"
		params["types"] = ts
	}
	var out []age.RetrievedEntity
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		rows, err := c.Cypher(ctx, age.Statement{
			Op:     opVertexLatest,
			Graph:  graph,
			Body:   "MATCH (n)" + where + " RETURN n ORDER BY n.__created_at DESC" + page.clause(),
			Params: params,
		})
		if err != nil {
			return err
		}
		out, err = parseEntities(graph, rows)
		return err
	})
	return out, err
}

// Pair is a left node, the edge leaving it and the right node.
type Pair struct {
	Left  age.RetrievedEntity   `json:"left"`
	Right age.RetrievedEntity   `json:"right"`
	Edge  age.RetrievedRelation `json:"edge"`
}

// PairFilter selects (left)-[edge]->(right) triples of a graph. All
// supplied filters AND together.
type PairFilter struct {
	GraphID            string   `json:"graph_id" validate:"required"`
	LeftCategories     []string `json:"left_categories"`
	RightCategories    []string `json:"right_categories"`
	RelationCategories []string `json:"relation_categories"`
	LeftSearch         *string  `json:"left_search"`
	RightSearch        *string  `json:"right_search"`
	Page
}

// SelectPairedEntities returns edges together with both endpoints.
func (s *Service) SelectPairedEntities(ctx context.Context, f PairFilter) ([]Pair, error) {
	const op = "kraph.SelectPairedEntities"
	if err := s.check(op, f); err != nil {
		return nil, err
	}
	graph, err := s.graphAgeName(ctx, f.GraphID)
	if err != nil {
		return nil, err
	}
	params := map[string]any{}
	var conds []string
	add := func(cond, name string, value any) {
		conds = append(conds, cond)
		params[name] = value
	}
	if len(f.LeftCategories) > 0 {
		add("a.__category_id IN $left_categories", "left_categories", f.LeftCategories)
	}
	if len(f.RightCategories) > 0 {
		add("b.__category_id IN $right_categories", "right_categories", f.RightCategories)
	}
	if len(f.RelationCategories) > 0 {
		add("r.__category_id IN $relation_categories", "relation_categories", f.RelationCategories)
	}
	if f.LeftSearch != nil && *f.LeftSearch != "" {
		add("toLower(a.__label) CONTAINS toLower($left_search)", "left_search", *f.LeftSearch)
	}
	if f.RightSearch != nil && *f.RightSearch != "" {
		add("toLower(b.__label) CONTAINS toLower($right_search)", "right_search", *f.RightSearch)
	}
	body := "MATCH (a)-[r]->(b)"
	if len(conds) > 0 {
		body += " WHERE " + strings.Join(conds, " AND ")
	}
	body += " RETURN a, b, r ORDER BY id(r)" + f.Page.clause()

	var out []Pair
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		rows, err := c.Cypher(ctx, age.Statement{
			Op: opPairs, Graph: graph, Body: body, Params: params,
			Columns: []string{"a", "b", "r"},
		})
		if err != nil {
			return err
		}
		out, err = parsePairs(graph, rows)
		return err
	})
	return out, err
}

// parsePairs parses (left, right, edge) rows.
func parsePairs(graph string, rows []age.Row) ([]Pair, error) {
	out := make([]Pair, 0, len(rows))
	for _, row := range rows {
		if len(row) != 3 {
			return nil, kgerr.New(kgerr.KindEngine, "kraph.parsePairs", "pair rows have 3 columns, got %d", len(row))
		}
		left, err := age.ParseVertex(graph, row[0])
		if err != nil {
			return nil, err
		}
		right, err := age.ParseVertex(graph, row[1])
		if err != nil {
			return nil, err
		}
		edge, err := age.ParseEdge(graph, row[2])
		if err != nil {
			return nil, err
		}
		out = append(out, Pair{Left: left, Right: right, Edge: edge})
	}
	return out, nil
}

// GetNeighborsAndEdges returns a node, its direct neighbours and the edges
// connecting them, in either direction.
func (s *Service) GetNeighborsAndEdges(ctx context.Context, nodeID string, page Page) (*age.Subgraph, error) {
	if err := s.check("kraph.GetNeighborsAndEdges", page); err != nil {
		return nil, err
	}
	graph, id, err := names.ParseNodeID(nodeID)
	if err != nil {
		return nil, err
	}
	sg := age.NewSubgraph()
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		seed, err := getVertex(ctx, c, graph, id)
		if err != nil {
			return err
		}
		sg.AddNode(seed)
		rows, err := c.Cypher(ctx, age.Statement{
			Op:      opNeighbors,
			Graph:   graph,
			Body:    "MATCH (n)-[r]-(m) WHERE id(n) = $id RETURN r, m" + page.clause(),
			Params:  map[string]any{"id": id},
			Columns: []string{"r", "m"},
		})
		if err != nil {
			return err
		}
		for _, row := range rows {
			edge, err := age.ParseEdge(graph, row[0])
			if err != nil {
				return err
			}
			other, err := age.ParseVertex(graph, row[1])
			if err != nil {
				return err
			}
			sg.AddEdge(edge)
			sg.AddNode(other)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sg, nil
}
