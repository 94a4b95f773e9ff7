// Package kgerr defines the error taxonomy shared by every kraph layer.
//
// Every error that leaves the catalogue, the engine adapter or the service
// carries a Kind. Callers branch on the kind with Is or KindOf; the message
// and the wrapped cause are for humans and logs.
package kgerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindInvalidName     Kind = "ERR_INVALID_NAME"
	KindValidation      Kind = "ERR_VALIDATION"
	KindNotFound        Kind = "ERR_NOT_FOUND"
	KindNoRow           Kind = "ERR_NO_ROW"
	KindExists          Kind = "ERR_EXISTS"
	KindRoleUnfilled    Kind = "ERR_ROLE_UNFILLED"
	KindRoleCardinality Kind = "ERR_ROLE_CARDINALITY"
	KindSequence        Kind = "ERR_SEQUENCE"
	KindEngine          Kind = "ERR_ENGINE"
)

// Retryable reports whether an operation failing with this kind may succeed
// when issued again unchanged.
func (k Kind) Retryable() bool {
	return k == KindSequence || k == KindEngine
}

func (k Kind) String() string { return string(k) }

// Error is a classified kraph error.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "kraph.CreateEntity"
	Message string
	Role    string // set for role errors raised by the event recorder
	Cause   error
}

// Error formats as "[KIND] op: message: cause".
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same Kind, so errors.Is(err, kgerr.NotFound)
// works across wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && (other.Role == "" || other.Role == e.Role)
	}
	return false
}

// Sentinels for errors.Is.
var (
	InvalidName = &Error{Kind: KindInvalidName}
	Validation  = &Error{Kind: KindValidation}
	NotFound    = &Error{Kind: KindNotFound}
	NoRow       = &Error{Kind: KindNoRow}
	Exists      = &Error{Kind: KindExists}
	Sequence    = &Error{Kind: KindSequence}
	Engine      = &Error{Kind: KindEngine}
)

// New creates an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. A nil cause yields nil.
func Wrap(kind Kind, op string, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// RoleUnfilled reports a mandatory event role that had no fullfiller.
func RoleUnfilled(op, role string) *Error {
	return &Error{Kind: KindRoleUnfilled, Op: op, Role: role, Message: fmt.Sprintf("role %q is not filled", role)}
}

// RoleCardinality reports a single-valued role that received several nodes.
func RoleCardinality(op, role string, got int) *Error {
	return &Error{Kind: KindRoleCardinality, Op: op, Role: role,
		Message: fmt.Sprintf("role %q accepts one node, got %d", role, got)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if err
// was never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RoleOf returns the role named by a role error, or "".
func RoleOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Role
	}
	return ""
}
