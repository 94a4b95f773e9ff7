package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const queryColumns = `id, graph_id, name, description, kind, scope, body, columns, category_ids, created_at`

func scanQuery(scanner interface{ Scan(dest ...any) error }) (SavedQuery, error) {
	var (
		sq            SavedQuery
		columns, cats string
	)
	err := scanner.Scan(&sq.ID, &sq.GraphID, &sq.Name, &sq.Description, &sq.Kind, &sq.Scope,
		&sq.Body, &columns, &cats, &sq.CreatedAt)
	if err != nil {
		return sq, err
	}
	if err := json.Unmarshal([]byte(columns), &sq.Columns); err != nil {
		return sq, fmt.Errorf("decoding columns of query %s: %w", sq.ID, err)
	}
	if err := json.Unmarshal([]byte(cats), &sq.CategoryIDs); err != nil {
		return sq, fmt.Errorf("decoding categories of query %s: %w", sq.ID, err)
	}
	return sq, nil
}

// InsertQuery stores a saved query.
func (q *Queries) InsertQuery(ctx context.Context, sq *SavedQuery) error {
	if sq.ID == "" {
		sq.ID = uuid.NewString()
	}
	if sq.CreatedAt == 0 {
		sq.CreatedAt = q.nowMillis()
	}
	if sq.Columns == nil {
		sq.Columns = []string{}
	}
	if sq.CategoryIDs == nil {
		sq.CategoryIDs = []string{}
	}
	columns, _ := json.Marshal(sq.Columns)
	cats, _ := json.Marshal(sq.CategoryIDs)
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO graph_queries (`+queryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sq.ID, sq.GraphID, sq.Name, sq.Description, string(sq.Kind), string(sq.Scope),
		sq.Body, string(columns), string(cats), sq.CreatedAt,
	)
	return classify("db.InsertQuery", err, "query %q", sq.Name)
}

// GetQuery returns a saved query by ID
func (q *Queries) GetQuery(ctx context.Context, id string) (*SavedQuery, error) {
	sq, err := scanQuery(q.q.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM graph_queries WHERE id = ?`, id))
	if err != nil {
		return nil, classify("db.GetQuery", err, "query %s", id)
	}
	return &sq, nil
}

// ListQueries returns the saved queries of a graph, optionally one scope only.
func (q *Queries) ListQueries(ctx context.Context, graphID string, scope QueryScope) ([]SavedQuery, error) {
	query := `SELECT ` + queryColumns + ` FROM graph_queries WHERE graph_id = ?`
	args := []any{graphID}
	if scope != "" {
		query += ` AND scope = ?`
		args = append(args, string(scope))
	}
	rows, err := q.q.QueryContext(ctx, query+` ORDER BY name`, args...)
	if err != nil {
		return nil, classify("db.ListQueries", err, "listing queries")
	}
	defer rows.Close()

	var out []SavedQuery
	for rows.Next() {
		sq, err := scanQuery(rows)
		if err != nil {
			return nil, classify("db.ListQueries", err, "scanning query")
		}
		out = append(out, sq)
	}
	return out, rows.Err()
}

// DeleteQuery removes a saved query.
func (q *Queries) DeleteQuery(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM graph_queries WHERE id = ?`, id)
	return expectOne("db.DeleteQuery", res, err, "query %s", id)
}
