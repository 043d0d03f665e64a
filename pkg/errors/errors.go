// Package errors holds the sentinel errors shared across the service and
// their HTTP status mapping.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrNotReady        = errors.New("query worker not ready")
	ErrCanceled        = errors.New("canceled")
	ErrNoCachedIndices = errors.New("no cached indices")
	ErrStaleIndices    = errors.New("stale cached indices")
	ErrBuildFailed     = errors.New("index build failed")
	ErrUnavailable     = errors.New("unavailable")
	ErrInternal        = errors.New("internal error")
	ErrTimeout         = errors.New("operation timed out")
)

// statuses is checked in order; the first sentinel err matches wins.
var statuses = []struct {
	target error
	status int
}{
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrNotFound, http.StatusNotFound},
	{ErrCanceled, http.StatusConflict},
	{context.Canceled, http.StatusConflict},
	{ErrTimeout, http.StatusGatewayTimeout},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
	{ErrNotReady, http.StatusServiceUnavailable},
	{ErrNoCachedIndices, http.StatusServiceUnavailable},
	{ErrUnavailable, http.StatusServiceUnavailable},
}

// Error pairs a sentinel with a caller-facing message and, optionally, an
// explicit status.
type Error struct {
	Kind    error
	Message string
	Status  int
}

func (e *Error) Error() string { return e.Kind.Error() + ": " + e.Message }
func (e *Error) Unwrap() error { return e.Kind }

// Wrap attaches a formatted message to kind. The status follows kind.
func Wrap(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithStatus overrides the status derived from the kind.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// Invalid reports bad caller input.
func Invalid(format string, args ...any) *Error {
	return Wrap(ErrInvalidInput, format, args...)
}

func HTTPStatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	for _, s := range statuses {
		if errors.Is(err, s.target) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// PublicMessage is what an API client may see for err. Server faults are
// reduced to a generic text; an Error exposes only its message.
func PublicMessage(err error) string {
	status := HTTPStatusCode(err)
	if status >= 500 && status != http.StatusServiceUnavailable && status != http.StatusGatewayTimeout {
		return "internal error"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
