package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"kraph/core/internal/kgerr"
)

//go:embed schema.sql
var schema string

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs catalogue statements against a connection or a transaction.
type Queries struct {
	q   querier
	now func() time.Time
}

func (q *Queries) nowMillis() int64 { return q.now().UnixMilli() }

// DB wraps the SQLite catalogue connection
type DB struct {
	*Queries
	conn *sql.DB
	Path string
}

// OpenDB opens the catalogue with WAL mode and foreign keys enabled and
// applies the schema. ":memory:" opens a private in-memory catalogue.
func OpenDB(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	memory := path == ":memory:"
	if memory {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, kgerr.Wrap(kgerr.KindEngine, "db.OpenDB", err, "opening catalogue %s", path)
	}
	if memory {
		// every pooled connection would otherwise see its own empty database
		conn.SetMaxOpenConns(1)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, kgerr.Wrap(kgerr.KindEngine, "db.OpenDB", err, "applying catalogue schema")
	}

	return &DB{
		Queries: &Queries{q: conn, now: time.Now},
		conn:    conn,
		Path:    path,
	}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying sql.DB for custom queries
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// SetClock replaces the time source used for created_at/updated_at.
func (d *DB) SetClock(now func() time.Time) {
	d.Queries.now = now
}

// WithTx runs fn inside one transaction, committing when fn returns nil.
// fn must use only the Queries it is handed: an in-memory catalogue has a
// single connection, which the transaction holds.
func (d *DB) WithTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return kgerr.Wrap(kgerr.KindEngine, "db.WithTx", err, "beginning catalogue transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Queries{q: tx, now: d.Queries.now}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return kgerr.Wrap(kgerr.KindEngine, "db.WithTx", err, "committing catalogue transaction")
	}
	return nil
}

// classify maps driver errors onto the kraph taxonomy.
func classify(op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var kerr *kgerr.Error
	if errors.As(err, &kerr) {
		return err
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return kgerr.New(kgerr.KindNotFound, op, format, args...)
	case isUniqueViolation(err):
		return kgerr.Wrap(kgerr.KindExists, op, err, format, args...)
	default:
		return kgerr.Wrap(kgerr.KindEngine, op, err, format, args...)
	}
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
