package db

import (
	"context"

	"github.com/google/uuid"
)

const sequenceColumns = `id, graph_id, name, start, step, min, max, cycle, created_at`

func scanSequence(scanner interface{ Scan(dest ...any) error }) (Sequence, error) {
	var s Sequence
	err := scanner.Scan(&s.ID, &s.GraphID, &s.Name, &s.Start, &s.Step, &s.Min, &s.Max, &s.Cycle, &s.CreatedAt)
	return s, err
}

// InsertSequence stores a sequence row. The engine-side sequence is created
// separately by the caller.
func (q *Queries) InsertSequence(ctx context.Context, s *Sequence) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = q.nowMillis()
	}
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO sequences (`+sequenceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.GraphID, s.Name, s.Start, s.Step, s.Min, s.Max, s.Cycle, s.CreatedAt,
	)
	return classify("db.InsertSequence", err, "sequence %q", s.Name)
}

// GetSequence returns a sequence by ID
func (q *Queries) GetSequence(ctx context.Context, id string) (*Sequence, error) {
	s, err := scanSequence(q.q.QueryRowContext(ctx, `SELECT `+sequenceColumns+` FROM sequences WHERE id = ?`, id))
	if err != nil {
		return nil, classify("db.GetSequence", err, "sequence %s", id)
	}
	return &s, nil
}

// ListSequences returns the sequences of a graph.
func (q *Queries) ListSequences(ctx context.Context, graphID string) ([]Sequence, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+sequenceColumns+` FROM sequences WHERE graph_id = ? ORDER BY name`, graphID)
	if err != nil {
		return nil, classify("db.ListSequences", err, "listing sequences")
	}
	defer rows.Close()

	var seqs []Sequence
	for rows.Next() {
		s, err := scanSequence(rows)
		if err != nil {
			return nil, classify("db.ListSequences", err, "scanning sequence")
		}
		seqs = append(seqs, s)
	}
	return seqs, rows.Err()
}

// DeleteSequence removes a sequence row; bound categories are unbound.
func (q *Queries) DeleteSequence(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM sequences WHERE id = ?`, id)
	return expectOne("db.DeleteSequence", res, err, "sequence %s", id)
}
