// Package age talks to a PostgreSQL server running the Apache AGE extension.
//
// All work happens on a Cursor: one pooled connection prepared for AGE and
// holding a single transaction. A Cursor never outlives the function it is
// handed to; the transaction commits when the function returns nil and rolls
// back otherwise, including on panic.
package age

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"kraph/core/internal/kgerr"
)

const tracerName = "kraph/core/internal/age"

// DefaultSessionSetup prepares a fresh connection for Cypher.
var DefaultSessionSetup = []string{
	`LOAD 'age'`,
	`SET search_path = ag_catalog, "$user", public`,
}

// Querier is the engine surface available inside a cursor.
type Querier interface {
	Cypher(ctx context.Context, st Statement) ([]Row, error)
	NextVal(ctx context.Context, sequence string) (int64, error)
	CreateSequence(ctx context.Context, graph string, spec SequenceSpec) error
	DropSequence(ctx context.Context, graph, name string) error
	CreateGraph(ctx context.Context, graph string) error
	DropGraph(ctx context.Context, graph string) error
	CreateVertexLabel(ctx context.Context, graph, label string) error
	CreateEdgeLabel(ctx context.Context, graph, label string) error
	DropLabel(ctx context.Context, graph, label string) error
	LabelExists(ctx context.Context, graph, label string) (bool, error)
}

// Session hands out cursors.
type Session interface {
	WithCursor(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
}

// Config holds connection settings.
type Config struct {
	DSN              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
	Retries          int
}

// Pool is a Session backed by database/sql.
type Pool struct {
	db      *sql.DB
	setup   []string
	timeout time.Duration
	retries int
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for statements and retries.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithTracer overrides the tracer, which defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pool) { p.tracer = t }
}

// WithRetries retries a whole cursor up to n extra times on transient errors.
func WithRetries(n int) Option {
	return func(p *Pool) { p.retries = n }
}

// WithStatementTimeout bounds each cursor.
func WithStatementTimeout(d time.Duration) Option {
	return func(p *Pool) { p.timeout = d }
}

// WithSessionSetup replaces the statements run on every acquired connection.
func WithSessionSetup(stmts ...string) Option {
	return func(p *Pool) { p.setup = stmts }
}

// NewPool wraps an open database handle.
func NewPool(db *sql.DB, opts ...Option) *Pool {
	p := &Pool{
		db:     db,
		setup:  DefaultSessionSetup,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open connects to the engine and verifies the connection.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Pool, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, classify("age.Open", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify("age.Open", err)
	}
	opts = append([]Option{WithRetries(cfg.Retries), WithStatementTimeout(cfg.StatementTimeout)}, opts...)
	return NewPool(db, opts...), nil
}

// Close releases every pooled connection.
func (p *Pool) Close() error {
	return p.db.Close()
}

// DB exposes the underlying handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// WithCursor runs fn inside one engine transaction.
func (p *Pool) WithCursor(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	for attempt := 0; ; attempt++ {
		err := p.withCursorOnce(ctx, fn)
		if err == nil || attempt >= p.retries || !transient(err) || ctx.Err() != nil {
			return err
		}
		p.logger.Warn("retrying engine cursor", "attempt", attempt+1, "error", err)
	}
}

func (p *Pool) withCursorOnce(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return classify("age.WithCursor", err)
	}
	defer conn.Close()

	for _, stmt := range p.setup {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return classify("age.WithCursor", err)
		}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("age.WithCursor", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
				p.logger.Warn("engine rollback failed", "error", err)
			}
		}
	}()

	if err := fn(ctx, &Cursor{tx: tx, pool: p}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return kgerr.Wrap(kgerr.KindEngine, "age.WithCursor", err, "commit")
	}
	committed = true
	return nil
}
