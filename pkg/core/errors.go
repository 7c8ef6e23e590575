package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error returned by the client and its backends.
type Error struct {
	Type         ErrorType `json:"type"`
	Message      string    `json:"message"`
	Param        string    `json:"param,omitempty"`
	Code         string    `json:"code,omitempty"`
	Status       int       `json:"status,omitempty"`
	Backend      string    `json:"backend,omitempty"`
	BackendError string    `json:"backend_error,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying backend error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrUninitialized   ErrorType = "uninitialized_error"
	ErrInvalidArgument ErrorType = "invalid_argument_error"
	ErrInvalidCallback ErrorType = "invalid_callback_error"
	ErrBackend         ErrorType = "backend_error"
	ErrQueryInProgress ErrorType = "query_in_progress_error"
)

// NewUninitializedError reports an operation on a client that was never
// initialized or has been closed.
func NewUninitializedError() *Error {
	return &Error{
		Type:    ErrUninitialized,
		Message: "wit context uninitialized",
	}
}

// NewInvalidArgumentError creates an invalid argument error for param.
func NewInvalidArgumentError(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidArgument,
		Message: message,
		Param:   param,
	}
}

// NewInvalidCallbackError creates an invalid callback error.
func NewInvalidCallbackError(message string) *Error {
	return &Error{
		Type:    ErrInvalidCallback,
		Message: message,
		Param:   "callback",
	}
}

// NewQueryInProgressError reports a voice query conflict.
func NewQueryInProgressError() *Error {
	return &Error{
		Type:    ErrQueryInProgress,
		Message: "a voice query is already in progress",
	}
}

// NewBackendError wraps an error produced by a backend.
func NewBackendError(backend string, underlying error) *Error {
	e := &Error{
		Type:    ErrBackend,
		Backend: backend,
		cause:   underlying,
	}
	if underlying != nil {
		e.Message = fmt.Sprintf("%s: %v", backend, underlying)
		e.BackendError = underlying.Error()
	} else {
		e.Message = backend + ": unknown failure"
	}
	return e
}

// NewBackendStatusError creates a backend error for a non-success HTTP-like
// status. code and message come from the backend's error body when present.
func NewBackendStatusError(backend string, status int, code, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", status)
	}
	return &Error{
		Type:    ErrBackend,
		Message: fmt.Sprintf("%s: %s", backend, message),
		Code:    code,
		Status:  status,
		Backend: backend,
	}
}

// IsRetryable returns true if a caller may reasonably retry the query.
func (e *Error) IsRetryable() bool {
	if e.Type != ErrBackend {
		return false
	}
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}

// TypeOf returns the ErrorType carried by err, or "" if err is not (and does
// not wrap) an *Error.
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// IsType reports whether err carries the given ErrorType.
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}
