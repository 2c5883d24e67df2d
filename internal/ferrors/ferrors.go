// Package ferrors defines the scheduler-neutral error-kind taxonomy used
// across the gateway. Every component returns one of these kinds instead
// of raising an exception; only the outermost HTTP handler translates a
// Kind into a status code (see internal/gateway).
package ferrors

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in the specification.
type Kind string

const (
	NotFound            Kind = "not_found"
	Forbidden           Kind = "forbidden"
	Conflict            Kind = "conflict"
	BadRequest          Kind = "bad_request"
	Timeout             Kind = "timeout"
	OutputTooLarge      Kind = "output_too_large"
	UpstreamUnavailable Kind = "upstream_unavailable"
	SchedulerInternal   Kind = "scheduler_internal"
	AuthToken           Kind = "auth_token"
	CredentialMissing   Kind = "credential_missing"
	Internal            Kind = "internal"
	Validation          Kind = "validation"
	PreconditionRequired Kind = "precondition_required"
	ServiceUnavailable  Kind = "service_unavailable"
)

// Error is a typed failure carrying one Kind plus an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is (or wraps) an *Error of kind k.
func Is(err error, k Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == k
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

func NotFoundf(format string, a ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, a...))
}

func Forbiddenf(format string, a ...any) *Error {
	return New(Forbidden, fmt.Sprintf(format, a...))
}

func Conflictf(format string, a ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, a...))
}

func BadRequestf(format string, a ...any) *Error {
	return New(BadRequest, fmt.Sprintf(format, a...))
}

func Timeoutf(format string, a ...any) *Error {
	return New(Timeout, fmt.Sprintf(format, a...))
}

func PreconditionRequiredf(format string, a ...any) *Error {
	return New(PreconditionRequired, fmt.Sprintf(format, a...))
}

func ServiceUnavailablef(format string, a ...any) *Error {
	return New(ServiceUnavailable, fmt.Sprintf(format, a...))
}
