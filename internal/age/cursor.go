package age

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kraph/core/internal/names"
)

// Cursor is a Querier bound to one transaction.
type Cursor struct {
	tx   *sql.Tx
	pool *Pool
}

func (c *Cursor) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.pool.tracer.Start(ctx, "kraph.age/"+op, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Exec runs raw SQL on the cursor's transaction.
func (c *Cursor) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.tx.ExecContext(ctx, query, args...)
	return err
}

// Cypher runs st and returns its rows as agtype text.
func (c *Cursor) Cypher(ctx context.Context, st Statement) (rows []Row, err error) {
	ctx, span := c.span(ctx, st.Op,
		attribute.String("kraph.graph", st.Graph),
		attribute.String("kraph.label", st.Label),
	)
	defer func() {
		span.SetAttributes(attribute.Int("kraph.rows", len(rows)))
		finish(span, err)
	}()

	query, args, err := st.SQL()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(st.Op, err)
	}
	defer res.Close()

	width := len(st.columns())
	for res.Next() {
		cells := make([]sql.NullString, width)
		dest := make([]any, width)
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := res.Scan(dest...); err != nil {
			return nil, classify(st.Op, err)
		}
		row := make(Row, width)
		for i, cell := range cells {
			if cell.Valid {
				row[i] = cell.String
			} else {
				row[i] = "null"
			}
		}
		rows = append(rows, row)
	}
	if err := res.Err(); err != nil {
		return nil, classify(st.Op, err)
	}
	c.pool.logger.Debug("cypher", "op", st.Op, "graph", st.Graph, "rows", len(rows), "elapsed", time.Since(start))
	return rows, nil
}

func (c *Cursor) ddl(ctx context.Context, op, query string, args ...any) (err error) {
	ctx, span := c.span(ctx, op)
	defer func() { finish(span, err) }()
	if _, err := c.tx.ExecContext(ctx, query, args...); err != nil {
		return classify(op, err)
	}
	c.pool.logger.Debug("ddl", "op", op, "query", query)
	return nil
}

// CreateGraph creates a graph and its schema.
func (c *Cursor) CreateGraph(ctx context.Context, graph string) error {
	if err := names.Validate(graph); err != nil {
		return err
	}
	return c.ddl(ctx, "graph.create", `SELECT ag_catalog.create_graph($1)`, graph)
}

// DropGraph drops a graph with everything in it.
func (c *Cursor) DropGraph(ctx context.Context, graph string) error {
	if err := names.Validate(graph); err != nil {
		return err
	}
	return c.ddl(ctx, "graph.drop", `SELECT ag_catalog.drop_graph($1, true)`, graph)
}

// CreateVertexLabel creates a vertex label.
func (c *Cursor) CreateVertexLabel(ctx context.Context, graph, label string) error {
	if err := validatePair(graph, label); err != nil {
		return err
	}
	return c.ddl(ctx, "label.create_vertex", `SELECT ag_catalog.create_vlabel($1, $2)`, graph, label)
}

// CreateEdgeLabel creates an edge label.
func (c *Cursor) CreateEdgeLabel(ctx context.Context, graph, label string) error {
	if err := validatePair(graph, label); err != nil {
		return err
	}
	return c.ddl(ctx, "label.create_edge", `SELECT ag_catalog.create_elabel($1, $2)`, graph, label)
}

// DropLabel drops a label and the elements stored under it.
func (c *Cursor) DropLabel(ctx context.Context, graph, label string) error {
	if err := validatePair(graph, label); err != nil {
		return err
	}
	return c.ddl(ctx, "label.drop", `SELECT ag_catalog.drop_label($1, $2, true)`, graph, label)
}

// LabelExists reports whether graph has label.
func (c *Cursor) LabelExists(ctx context.Context, graph, label string) (ok bool, err error) {
	ctx, span := c.span(ctx, "label.exists", attribute.String("kraph.graph", graph), attribute.String("kraph.label", label))
	defer func() { finish(span, err) }()
	var n int
	err = c.tx.QueryRowContext(ctx,
		`SELECT count(*) FROM ag_catalog.ag_label l JOIN ag_catalog.ag_graph g ON l.graph = g.graphid
		 WHERE g.name = $1 AND l.name = $2`, graph, label).Scan(&n)
	if err != nil {
		return false, classify("label.exists", err)
	}
	return n > 0, nil
}

// CreateSequence creates spec inside the graph's schema.
func (c *Cursor) CreateSequence(ctx context.Context, graph string, spec SequenceSpec) error {
	stmt, err := spec.DDL(graph)
	if err != nil {
		return err
	}
	return c.ddl(ctx, "sequence.create", stmt)
}

// DropSequence drops a sequence if it exists.
func (c *Cursor) DropSequence(ctx context.Context, graph, name string) error {
	if err := validatePair(graph, name); err != nil {
		return err
	}
	return c.ddl(ctx, "sequence.drop", fmt.Sprintf("DROP SEQUENCE IF EXISTS %s.%s",
		pq.QuoteIdentifier(graph), pq.QuoteIdentifier(name)))
}

// NextVal draws the next value of a qualified sequence.
func (c *Cursor) NextVal(ctx context.Context, sequence string) (n int64, err error) {
	ctx, span := c.span(ctx, "sequence.nextval", attribute.String("kraph.sequence", sequence))
	defer func() { finish(span, err) }()
	if err := c.tx.QueryRowContext(ctx, `SELECT nextval($1)`, sequence).Scan(&n); err != nil {
		return 0, classify("sequence.nextval", err)
	}
	return n, nil
}

func validatePair(graph, name string) error {
	if err := names.Validate(graph); err != nil {
		return err
	}
	return names.Validate(name)
}
