package kraph

import (
	"context"

	"kraph/core/internal/age"
	"kraph/core/internal/db"
	"kraph/core/internal/names"
)

// GraphInput creates a graph.
type GraphInput struct {
	Name        string  `json:"name" validate:"required"`
	Owner       string  `json:"owner"`
	Description *string `json:"description"`
}

// CreateGraph stores a graph descriptor and creates its engine graph. The
// catalogue row is only committed once the engine graph exists.
func (s *Service) CreateGraph(ctx context.Context, in GraphInput) (*db.Graph, error) {
	if err := s.check("kraph.CreateGraph", in); err != nil {
		return nil, err
	}
	ageName, err := names.GraphName(in.Name)
	if err != nil {
		return nil, err
	}
	g := &db.Graph{Owner: in.Owner, Name: in.Name, AgeName: ageName, Description: in.Description}
	err = s.catalog.WithTx(ctx, func(q *db.Queries) error {
		if err := q.InsertGraph(ctx, g); err != nil {
			return err
		}
		return s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
			return c.CreateGraph(ctx, ageName)
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("graph created", "graph", g.ID, "age_name", ageName)
	return s.catalog.GetGraph(ctx, g.ID)
}

// GraphUpdate changes the human fields of a graph. age_name never changes.
type GraphUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// UpdateGraph updates a graph descriptor.
func (s *Service) UpdateGraph(ctx context.Context, id string, upd GraphUpdate) (*db.Graph, error) {
	if err := s.catalog.UpdateGraph(ctx, id, upd.Name, upd.Description); err != nil {
		return nil, err
	}
	return s.catalog.GetGraph(ctx, id)
}

// DeleteGraph drops the engine graph with all of its nodes and removes the
// catalogue rows, categories included.
func (s *Service) DeleteGraph(ctx context.Context, id string) error {
	err := s.catalog.WithTx(ctx, func(q *db.Queries) error {
		g, err := q.GetGraph(ctx, id)
		if err != nil {
			return err
		}
		if err := q.DeleteGraph(ctx, id); err != nil {
			return err
		}
		return s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
			return c.DropGraph(ctx, g.AgeName)
		})
	})
	if err == nil {
		s.logger.Info("graph deleted", "graph", id)
	}
	return err
}

// PinGraph pins or unpins a graph for a user.
func (s *Service) PinGraph(ctx context.Context, id, user string, pin bool) (*db.Graph, error) {
	if _, err := s.graph(ctx, id); err != nil {
		return nil, err
	}
	if err := s.catalog.SetGraphPin(ctx, id, user, pin); err != nil {
		return nil, err
	}
	return s.catalog.GetGraph(ctx, id)
}

// GetGraph returns a graph descriptor.
func (s *Service) GetGraph(ctx context.Context, id string) (*db.Graph, error) {
	return s.graph(ctx, id)
}

// ListGraphs returns every graph, or those pinned by a user.
func (s *Service) ListGraphs(ctx context.Context, pinnedBy string) ([]db.Graph, error) {
	return s.catalog.ListGraphs(ctx, pinnedBy)
}

// GraphOfNode returns the graph holding a node, named by the graph part of
// its id.
func (s *Service) GraphOfNode(ctx context.Context, nodeID string) (*db.Graph, error) {
	ageName, _, err := names.ParseNodeID(nodeID)
	if err != nil {
		return nil, err
	}
	return s.catalog.GetGraphByAgeName(ctx, ageName)
}

// ListSequences returns the sequences created in a graph.
func (s *Service) ListSequences(ctx context.Context, graphID string) ([]db.Sequence, error) {
	if _, err := s.graph(ctx, graphID); err != nil {
		return nil, err
	}
	seqs, err := s.catalog.ListSequences(ctx, graphID)
	if seqs == nil && err == nil {
		seqs = []db.Sequence{}
	}
	return seqs, err
}
