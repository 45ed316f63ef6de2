// Package errors provides structured error handling with HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for logging and response formatting.
type ErrorType string

const (
	// TypeProtocol indicates a malformed or unparsable request (HTTP 400)
	TypeProtocol ErrorType = "protocol"
	// TypeAuth indicates missing or rejected credentials (HTTP 401)
	TypeAuth ErrorType = "auth"
	// TypeForbidden indicates a request outside the served tree (HTTP 403)
	TypeForbidden ErrorType = "forbidden"
	// TypeNotFound indicates a resource that does not exist (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeInternal indicates a server-side failure (HTTP 500)
	TypeInternal ErrorType = "internal"
	// TypeConfig indicates invalid startup configuration (fatal, never served)
	TypeConfig ErrorType = "config"
	// TypeLoad indicates a credential store that could not be loaded (fatal, never served)
	TypeLoad ErrorType = "load"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Fatal reports whether the error belongs to the startup phase. Fatal errors
// terminate the process before serving begins; they are never written to a
// client.
func (e *Error) Fatal() bool {
	return e.Type == TypeConfig || e.Type == TypeLoad
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeProtocol:
		return http.StatusBadRequest
	case TypeAuth:
		return http.StatusUnauthorized
	case TypeForbidden:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ProtocolError creates a new malformed-request error (HTTP 400).
func ProtocolError(message string) *Error {
	return &Error{
		Type:    TypeProtocol,
		Message: message,
		Context: make(map[string]any),
	}
}

// AuthError creates a new authentication error (HTTP 401).
//
// Callers must use a single message for every rejection cause so that
// responses do not reveal whether a username exists.
func AuthError(message string) *Error {
	return &Error{
		Type:    TypeAuth,
		Message: message,
		Context: make(map[string]any),
	}
}

// ForbiddenError creates a new containment error (HTTP 403).
func ForbiddenError(message string) *Error {
	return &Error{
		Type:    TypeForbidden,
		Message: message,
		Context: make(map[string]any),
	}
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return &Error{
		Type:    TypeNotFound,
		Message: message,
		Context: make(map[string]any),
	}
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{
		Type:    TypeInternal,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ConfigError creates a fatal startup configuration error.
func ConfigError(message string) *Error {
	return &Error{
		Type:    TypeConfig,
		Message: message,
		Context: make(map[string]any),
	}
}

// LoadError creates a fatal credential store load error.
func LoadError(message string, cause error) *Error {
	return &Error{
		Type:    TypeLoad,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}
