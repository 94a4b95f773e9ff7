package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"kraph/core/internal/kgerr"
)

const graphColumns = `id, owner, name, age_name, description, created_at`

// scanGraph scans a row into a Graph. The row must have graphColumns in order.
func scanGraph(scanner interface{ Scan(dest ...any) error }) (Graph, error) {
	var g Graph
	err := scanner.Scan(&g.ID, &g.Owner, &g.Name, &g.AgeName, &g.Description, &g.CreatedAt)
	return g, err
}

// InsertGraph stores g, assigning ID and CreatedAt when unset.
func (q *Queries) InsertGraph(ctx context.Context, g *Graph) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt == 0 {
		g.CreatedAt = q.nowMillis()
	}
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO graphs (id, owner, name, age_name, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.Owner, g.Name, g.AgeName, g.Description, g.CreatedAt,
	)
	return classify("db.InsertGraph", err, "graph %q", g.AgeName)
}

// GetGraph returns a graph by ID
func (q *Queries) GetGraph(ctx context.Context, id string) (*Graph, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+graphColumns+` FROM graphs WHERE id = ?`, id)
	g, err := scanGraph(row)
	if err != nil {
		return nil, classify("db.GetGraph", err, "graph %s", id)
	}
	if err := q.attachGraphPins(ctx, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGraphByAgeName returns the graph owning the given engine graph.
func (q *Queries) GetGraphByAgeName(ctx context.Context, ageName string) (*Graph, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+graphColumns+` FROM graphs WHERE age_name = ?`, ageName)
	g, err := scanGraph(row)
	if err != nil {
		return nil, classify("db.GetGraphByAgeName", err, "graph %q", ageName)
	}
	if err := q.attachGraphPins(ctx, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGraphs returns all graphs by creation time. A non-empty pinnedBy keeps
// only graphs pinned by that user.
func (q *Queries) ListGraphs(ctx context.Context, pinnedBy string) ([]Graph, error) {
	query := `SELECT ` + graphColumns + ` FROM graphs`
	var args []any
	if pinnedBy != "" {
		query += ` WHERE id IN (SELECT graph_id FROM graph_pins WHERE user_id = ?)`
		args = append(args, pinnedBy)
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("db.ListGraphs", err, "listing graphs")
	}
	defer rows.Close()

	var graphs []Graph
	for rows.Next() {
		g, err := scanGraph(rows)
		if err != nil {
			return nil, classify("db.ListGraphs", err, "scanning graph")
		}
		graphs = append(graphs, g)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("db.ListGraphs", err, "listing graphs")
	}
	for i := range graphs {
		if err := q.attachGraphPins(ctx, &graphs[i]); err != nil {
			return nil, err
		}
	}
	return graphs, nil
}

// UpdateGraph changes the human name and description. age_name never changes.
func (q *Queries) UpdateGraph(ctx context.Context, id string, name, description *string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE graphs SET name = COALESCE(?, name), description = COALESCE(?, description) WHERE id = ?`,
		name, description, id,
	)
	return expectOne("db.UpdateGraph", res, err, "graph %s", id)
}

// DeleteGraph removes a graph; categories, sequences, pins and saved queries
// cascade.
func (q *Queries) DeleteGraph(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM graphs WHERE id = ?`, id)
	return expectOne("db.DeleteGraph", res, err, "graph %s", id)
}

// SetGraphPin pins or unpins a graph for a user. Both directions are idempotent.
func (q *Queries) SetGraphPin(ctx context.Context, id, user string, pinned bool) error {
	var err error
	if pinned {
		_, err = q.q.ExecContext(ctx, `INSERT OR IGNORE INTO graph_pins (graph_id, user_id) VALUES (?, ?)`, id, user)
	} else {
		_, err = q.q.ExecContext(ctx, `DELETE FROM graph_pins WHERE graph_id = ? AND user_id = ?`, id, user)
	}
	return classify("db.SetGraphPin", err, "pinning graph %s", id)
}

func (q *Queries) attachGraphPins(ctx context.Context, g *Graph) error {
	rows, err := q.q.QueryContext(ctx, `SELECT user_id FROM graph_pins WHERE graph_id = ? ORDER BY user_id`, g.ID)
	if err != nil {
		return classify("db.attachGraphPins", err, "graph %s pins", g.ID)
	}
	defer rows.Close()
	g.PinnedBy = []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return classify("db.attachGraphPins", err, "graph %s pins", g.ID)
		}
		g.PinnedBy = append(g.PinnedBy, u)
	}
	return rows.Err()
}

// expectOne turns "no row affected" into ERR_NOT_FOUND.
func expectOne(op string, res sql.Result, err error, format string, args ...any) error {
	if err != nil {
		return classify(op, err, format, args...)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err, format, args...)
	}
	if n == 0 {
		return kgerr.New(kgerr.KindNotFound, op, format, args...)
	}
	return nil
}
