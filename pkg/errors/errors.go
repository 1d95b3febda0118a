// Package errors provides structured error handling for Conveyr.
// Every failure inside the engine is classified so the retry policy and
// the orchestrator can decide whether to retry, drop, or stop a source.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeTimeout represents operation timeout errors.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents network/connection errors.
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeRateLimit represents rate limit / temporarily-unavailable errors.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeValidation represents malformed-item validation errors.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeData represents data processing errors.
	ErrorTypeData ErrorType = "data"
	// ErrorTypeAuthentication represents authentication rejections.
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeConfig represents configuration errors.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeInternal represents internal engine errors.
	ErrorTypeInternal ErrorType = "internal"
)

// Error is a structured error carrying a type and optional detail context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return New(errType, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a type and additional context.
// Returns nil when err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return Wrap(err, errType, fmt.Sprintf(format, args...))
}

// TypeOf returns the classified type of err, or ErrorTypeInternal when the
// error carries no classification.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// IsTransient reports whether the error is worth retrying. Unclassified
// errors are treated as transient so flaky collaborators that return plain
// errors still get retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeConnection, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether the error is item-scoped and permanent:
// retrying will not help, the item should be dropped and recorded.
func IsPermanent(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrorTypeValidation, ErrorTypeData:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error should stop the failing source
// entirely (authentication or configuration failures).
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrorTypeAuthentication, ErrorTypeConfig:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// ExhaustedError marks an operation whose transient failures outlived the
// retry budget. It is distinct from a permanent failure so callers can log
// the two differently.
type ExhaustedError struct {
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last transient error observed.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsExhausted reports whether err marks retry exhaustion.
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}
