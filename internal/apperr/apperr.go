// Package apperr defines the error taxonomy every externally reachable
// operation surfaces, mirroring the {kind, message, retriable} envelope of
// the tool-dispatch and HTTP transports (spec.md §6, §7).
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the seven error categories the core recognizes.
type Kind string

const (
	InvalidArgument Kind = "invalid_argument"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	DeadlineExceeded Kind = "deadline_exceeded"
	Degraded        Kind = "degraded"
	Unavailable     Kind = "unavailable"
	Internal        Kind = "internal"
)

// retriableByDefault says whether a Kind is retriable absent an explicit
// override; see §7: embedder/vector-store exhaustion surfaces unavailable
// (retriable), validation errors never are.
var retriableByDefault = map[Kind]bool{
	InvalidArgument:  false,
	NotFound:         false,
	Conflict:         false,
	DeadlineExceeded: true,
	Degraded:         true,
	Unavailable:      true,
	Internal:         false,
}

// Error is the typed error every core operation returns on failure.
type Error struct {
	Kind      Kind
	Message   string
	Retriable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with the default retriability for its kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retriable: retriableByDefault[kind]}
}

// Wrap constructs an Error carrying an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retriable: retriableByDefault[kind], Cause: cause}
}

// As extracts an *Error from err, following the standard errors.As chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or Internal if err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}
