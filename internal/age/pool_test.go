package age

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"kraph/core/internal/kgerr"
)

// sqlitePool exercises the cursor lifecycle without an AGE server.
func sqlitePool(t *testing.T, opts ...Option) *Pool {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "cursor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)
	return NewPool(db, append([]Option{WithSessionSetup()}, opts...)...)
}

func count(t *testing.T, p *Pool) int {
	t.Helper()
	var n int
	require.NoError(t, p.DB().QueryRow(`SELECT count(*) FROM t`).Scan(&n))
	return n
}

func insert(ctx context.Context, q Querier) error {
	return q.(*Cursor).Exec(ctx, `INSERT INTO t (v) VALUES (1)`)
}

func TestWithCursor_Commit(t *testing.T) {
	p := sqlitePool(t)
	require.NoError(t, p.WithCursor(context.Background(), insert))
	assert.Equal(t, 1, count(t, p))
}

func TestWithCursor_RollbackOnError(t *testing.T) {
	p := sqlitePool(t)
	boom := errors.New("boom")
	err := p.WithCursor(context.Background(), func(ctx context.Context, q Querier) error {
		require.NoError(t, insert(ctx, q))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, count(t, p))
}

func TestWithCursor_RollbackOnPanic(t *testing.T) {
	p := sqlitePool(t)
	assert.Panics(t, func() {
		_ = p.WithCursor(context.Background(), func(ctx context.Context, q Querier) error {
			require.NoError(t, insert(ctx, q))
			panic("mid-cursor")
		})
	})
	assert.Equal(t, 0, count(t, p))
	// the connection went back to the pool
	require.NoError(t, p.WithCursor(context.Background(), insert))
	assert.Equal(t, 1, count(t, p))
}

func TestWithCursor_Retries(t *testing.T) {
	deadlock := &pq.Error{Code: "40P01", Message: "deadlock detected"}

	calls := 0
	p := sqlitePool(t, WithRetries(2))
	err := p.WithCursor(context.Background(), func(ctx context.Context, q Querier) error {
		calls++
		if calls == 1 {
			return classify("vertex.create", deadlock)
		}
		return insert(ctx, q)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, count(t, p))

	calls = 0
	p = sqlitePool(t)
	err = p.WithCursor(context.Background(), func(ctx context.Context, q Querier) error {
		calls++
		return classify("vertex.create", deadlock)
	})
	assert.True(t, kgerr.Is(err, kgerr.KindEngine))
	assert.Equal(t, 1, calls)
}

func TestWithCursor_NoRetryOnPermanentError(t *testing.T) {
	calls := 0
	p := sqlitePool(t, WithRetries(3))
	err := p.WithCursor(context.Background(), func(ctx context.Context, q Querier) error {
		calls++
		return classify("vertex.create", &pq.Error{Code: "42601", Message: "syntax error"})
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind kgerr.Kind
	}{
		{"unique", &pq.Error{Code: "23505"}, kgerr.KindExists},
		{"duplicate schema", &pq.Error{Code: "42P06"}, kgerr.KindExists},
		{"syntax", &pq.Error{Code: "42601"}, kgerr.KindEngine},
		{"plain", errors.New("eof"), kgerr.KindEngine},
		{"cancelled", context.Canceled, kgerr.KindEngine},
		{"already classified", kgerr.New(kgerr.KindNoRow, "x", "y"), kgerr.KindNoRow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, kgerr.KindOf(classify("op", tt.err)))
		})
	}
	assert.NoError(t, classify("op", nil))
}

func TestTransient(t *testing.T) {
	assert.True(t, transient(&pq.Error{Code: "08006"}))
	assert.True(t, transient(classify("op", &pq.Error{Code: "40001"})))
	assert.False(t, transient(&pq.Error{Code: "23505"}))
	assert.False(t, transient(errors.New("x")))
}
