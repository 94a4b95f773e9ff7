package age

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/lib/pq"

	"kraph/core/internal/kgerr"
)

// classify maps a driver error to the error taxonomy. Errors that already
// carry a kind pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var kerr *kgerr.Error
	if errors.As(err, &kerr) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "42P06", "42P07", "42710":
			return kgerr.Wrap(kgerr.KindExists, op, err, "%s", pqErr.Message)
		}
		return kgerr.Wrap(kgerr.KindEngine, op, err, "%s (SQLSTATE %s)", pqErr.Message, pqErr.Code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return kgerr.Wrap(kgerr.KindEngine, op, err, "interrupted")
	}
	return kgerr.Wrap(kgerr.KindEngine, op, err, "engine call failed")
}

// transient reports whether err is worth a retry on a fresh session:
// connection failures, serialization failures and deadlocks.
func transient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	code := string(pqErr.Code)
	return strings.HasPrefix(code, "08") || code == "40001" || code == "40P01"
}
