package kgerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := New(KindNotFound, "db.GetCategory", "category %s", "abc")
	assert.Equal(t, "[ERR_NOT_FOUND] db.GetCategory: category abc", err.Error())

	wrapped := Wrap(KindEngine, "age.Query", errors.New("connection reset"), "running statement")
	assert.Equal(t, "[ERR_ENGINE] age.Query: running statement: connection reset", wrapped.Error())
}

func TestWrap_NilCause(t *testing.T) {
	assert.NoError(t, Wrap(KindEngine, "op", nil, "nothing"))
}

func TestIs_ThroughWrapping(t *testing.T) {
	base := New(KindExists, "db.CreateGraph", "graph lab_a exists")
	err := fmt.Errorf("creating graph: %w", base)

	assert.True(t, errors.Is(err, Exists))
	assert.False(t, errors.Is(err, NotFound))
	assert.True(t, Is(err, KindExists))
	assert.Equal(t, KindExists, KindOf(err))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindEngine))
}

func TestRoleErrors(t *testing.T) {
	err := fmt.Errorf("recording: %w", RoleCardinality("kraph.RecordProtocolEvent", "sample", 2))

	assert.Equal(t, KindRoleCardinality, KindOf(err))
	assert.Equal(t, "sample", RoleOf(err))
	assert.True(t, errors.Is(err, &Error{Kind: KindRoleCardinality, Role: "sample"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindRoleCardinality, Role: "dye"}))
	assert.True(t, errors.Is(err, &Error{Kind: KindRoleCardinality}))

	unfilled := RoleUnfilled("op", "dye")
	assert.Contains(t, unfilled.Error(), `role "dye" is not filled`)
}

func TestKind_Retryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindEngine, true},
		{KindSequence, true},
		{KindValidation, false},
		{KindNotFound, false},
		{KindExists, false},
		{KindNoRow, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.Retryable(), tt.kind)
	}
}
