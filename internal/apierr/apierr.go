// Package apierr classifies every failure the client layer surfaces into a
// closed set of kinds, so callers branch on kind instead of matching strings.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies every failure the client layer can surface.
const (
	KindTransient  = "transient"
	KindAuth       = "auth"
	KindValidation = "validation"
	KindCancelled  = "cancelled"
	KindTimeout    = "timeout"
)

// Error is the single error shape crossing component boundaries. Kind is a
// closed set so callers can switch exhaustively instead of matching strings.
type Error struct {
	Kind   string
	Op     string
	Status int // HTTP status when the failure came from a response, else 0
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with an explicit kind.
func New(kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStatus maps an HTTP response code onto the taxonomy. 408, 429 and all
// 5xx are transient; 401 is auth; any other 4xx is a validation failure.
func FromStatus(op string, status int, body string) *Error {
	e := &Error{Op: op, Status: status, Err: errors.New(body)}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		e.Kind = KindTransient
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
	default:
		e.Kind = KindValidation
	}
	return e
}

// FromTransport classifies errors raised before any response arrived.
// Timeouts and connection resets are transient; a cancelled context is
// surfaced as cancelled so it is never retried.
func FromTransport(op string, err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Op: op, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	// Connection-level failures (reset, refused, DNS) all read as transient
	// network trouble from the caller's point of view.
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Canceled marks an operation that was dropped before it started, e.g. by
// Controller.ClearQueue.
func Canceled(op string) *Error {
	return &Error{Kind: KindCancelled, Op: op, Err: errors.New("operation cancelled before start")}
}

// Unauthenticated is returned before any speculative mutation when no valid
// session is present.
func Unauthenticated(op string) *Error {
	return &Error{Kind: KindAuth, Op: op, Err: errors.New("no authenticated session")}
}

// PollTimeout marks a job whose outcome is unknown: the attempt budget ran
// out while the job was still pending or running. Distinct from a
// server-reported failure so a UI can say "still processing".
func PollTimeout(op string, attempts int) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: fmt.Errorf("job not terminal after %d polls", attempts)}
}

// KindOf extracts the kind from any error in the chain, or "" for foreign
// errors.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether err is worth another attempt. Only transient
// failures qualify; auth, validation, cancellation and poll timeouts are
// terminal.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
