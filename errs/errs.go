// Package errs provides structured error types and helpers for Trolley components.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category raised by the cart core or its collaborators.
type Code string

const (
	// CodeGateway indicates a persistence gateway failure (network or server side).
	CodeGateway Code = "gateway_unavailable"
	// CodeStorage indicates durable client-side storage is inaccessible.
	CodeStorage Code = "storage_unavailable"
	// CodeInvalid indicates a caller violated the component contract.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing cart line or session record.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the component is shut down or not yet started.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the Trolley stack.
type E struct {
	Scope      string
	Code       Code
	Message    string
	SessionKey string
	LineID     string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the named scope and error code.
func New(scope string, code Code, opts ...Option) *E {
	e := &E{
		Scope:      strings.TrimSpace(scope),
		Code:       code,
		Message:    "",
		SessionKey: "",
		LineID:     "",
		cause:      nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithSessionKey records the session key the failing operation targeted.
func WithSessionKey(key string) Option {
	trimmed := strings.TrimSpace(key)
	return func(e *E) {
		e.SessionKey = trimmed
	}
}

// WithLineID records the cart line the failing operation targeted.
func WithLineID(id string) Option {
	trimmed := strings.TrimSpace(id)
	return func(e *E) {
		e.LineID = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	scope := strings.TrimSpace(e.Scope)
	if scope == "" {
		scope = "unknown"
	}
	parts = append(parts, "scope="+scope)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.SessionKey != "" {
		parts = append(parts, "session="+strconv.Quote(e.SessionKey))
	}
	if e.LineID != "" {
		parts = append(parts, "line="+strconv.Quote(e.LineID))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf walks the error chain and returns the code of the first *E envelope found.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*E); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
