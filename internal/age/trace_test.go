package age

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// recordingTracer remembers the names of the spans it starts.
type recordingTracer struct {
	noop.Tracer
	mu    sync.Mutex
	spans []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.spans = append(r.spans, name)
	r.mu.Unlock()
	return r.Tracer.Start(ctx, name, opts...)
}

func TestCypher_OpensSpanPerStatement(t *testing.T) {
	rec := &recordingTracer{}
	p := sqlitePool(t, WithTracer(rec))

	err := p.WithCursor(context.Background(), func(ctx context.Context, q Querier) error {
		_, err := q.Cypher(ctx, Statement{Op: "vertex.create", Graph: "lab_a", Label: "cell", Body: "MATCH (n) RETURN n"})
		return err
	})
	// sqlite has no cypher() function; the span is still opened and closed.
	require.Error(t, err)
	assert.Equal(t, []string{"kraph.age/vertex.create"}, rec.spans)
}
