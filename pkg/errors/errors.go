// Package errors carries orbit's error taxonomy.
//
// Every error that crosses a package boundary is an *Error whose Type says
// how the caller should react:
//
//   - validation, not_found, invalid_request and connector_busy are returned
//     straight to whoever asked (API handler, CLI, scheduler) and never
//     retried.
//   - mapping and connector_rejected are per-record outcomes. The engine
//     writes them into the job's error list and moves on.
//   - connector_unavailable is the only transient type. The engine retries it
//     with backoff and fails the job once the budget is spent.
//   - no_data marks an empty stats or archive window; store, config and
//     internal cover the rest.
//
// Details hold the ids a reader needs to act on the error (connector_id,
// job_id, record_ref, ...). The API returns them verbatim.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents malformed registration or request input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents a missing connector, job or schedule
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeMapping represents a per-record field mapping failure
	ErrorTypeMapping ErrorType = "mapping"
	// ErrorTypeConnectorUnavailable represents a transient connector failure
	ErrorTypeConnectorUnavailable ErrorType = "connector_unavailable"
	// ErrorTypeConnectorRejected represents a permanent connector refusal
	ErrorTypeConnectorRejected ErrorType = "connector_rejected"
	// ErrorTypeConnectorBusy represents a second job against a busy connector
	ErrorTypeConnectorBusy ErrorType = "connector_busy"
	// ErrorTypeNoData represents an aggregation window without jobs
	ErrorTypeNoData ErrorType = "no_data"
	// ErrorTypeInvalidRequest represents a sync request the connector cannot serve
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeStore represents durable store errors
	ErrorTypeStore ErrorType = "store"
)

// Error is a typed error with optional cause and details
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap re-types err. The stack of the wrapped *Error is kept so the
// origin stays visible after the engine reclassifies an adapter error.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	wrapped := &Error{Type: errType, Message: message, Cause: err}
	var inner *Error
	if errors.As(err, &inner) {
		wrapped.Stack = inner.Stack
	} else {
		wrapped.Stack = captureStack(2)
	}
	return wrapped
}

// IsRetryable reports whether a call that failed with err may be attempted
// again. Only connector_unavailable qualifies: timeouts, refused connections,
// 429 and 5xx answers. A rejection will fail the same way on every attempt,
// and a mapping error never reached the connector at all.
func IsRetryable(err error) bool {
	return IsType(err, ErrorTypeConnectorUnavailable)
}

// IsType checks if the outermost structured error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// GetType returns the type of the outermost structured error, or
// ErrorTypeInternal for plain errors.
func GetType(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

const maxFrames = 32

func captureStack(skip int) []StackFrame {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])

	out := make([]StackFrame, 0, n)
	for {
		frame, more := frames.Next()
		out = append(out, StackFrame{Function: frame.Function, File: frame.File, Line: frame.Line})
		if !more {
			break
		}
	}
	return out
}
