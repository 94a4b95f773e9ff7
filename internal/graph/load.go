package graph

import (
	"context"

	"kraph/core/internal/age"
	"kraph/core/internal/kraph"
)

// Source lists every record of a graph page by page. *kraph.Service
// satisfies it.
type Source interface {
	SelectAllEntities(ctx context.Context, graphID string, page kraph.Page) ([]age.RetrievedEntity, error)
	SelectAllRelations(ctx context.Context, graphID string, page kraph.Page) ([]age.RetrievedRelation, error)
}

// Load pages through every vertex and edge of a graph and builds a snapshot.
func Load(ctx context.Context, src Source, graphID string) (*GraphSnapshot, error) {
	sg := age.NewSubgraph()
	for page := (kraph.Page{Limit: kraph.MaxLimit}); ; page.Offset += page.Limit {
		nodes, err := src.SelectAllEntities(ctx, graphID, page)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			sg.AddNode(n)
		}
		if len(nodes) < page.Limit {
			break
		}
	}
	for page := (kraph.Page{Limit: kraph.MaxLimit}); ; page.Offset += page.Limit {
		edges, err := src.SelectAllRelations(ctx, graphID, page)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			sg.AddEdge(e)
		}
		if len(edges) < page.Limit {
			break
		}
	}
	return FromSubgraph(sg), nil
}
