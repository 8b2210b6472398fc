package glacialcache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies an error for retry eligibility and caller handling. It is
// a closed set: callers should switch on it rather than comparing error
// values directly.
type Kind string

const (
	KindInvalidArgument  Kind = "invalid-argument"
	KindTransientIO      Kind = "transient-io"
	KindTimeout          Kind = "timeout"
	KindCircuitOpen      Kind = "circuit-open"
	KindPermissionDenied Kind = "permission-denied"
	KindDecodeError      Kind = "decode-error"
	KindCancelled        Kind = "cancelled"
	KindUnknown          Kind = "unknown"
)

// Error is the error type returned across the public API. Op names the
// failing operation (e.g. "Cache.Get"); Err is the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with op and a classified kind.
func NewError(op string, err error) *Error {
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
}

// Classify maps err to a Kind. It understands context cancellation,
// pgconn.PgError SQLSTATEs, and falls back to string matching for errors
// that cross a connection boundary (e.g. net.OpError wrapped by pgx).
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42501":
			return KindPermissionDenied
		case transientSQLStates[pgErr.Code]:
			return KindTransientIO
		default:
			return KindUnknown
		}
	}

	var circuitErr interface{ CircuitOpen() bool }
	if errors.As(err, &circuitErr) {
		return KindCircuitOpen
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		return KindPermissionDenied
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"), strings.Contains(msg, "econnreset"):
		return KindTransientIO
	}

	return KindUnknown
}

// IsRetryable reports whether Classify(err) names a kind that a retry
// layer should act on.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindTransientIO, KindTimeout:
		return true
	default:
		return false
	}
}
