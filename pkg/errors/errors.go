// Package errors provides structured error types for stackctl.
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	ErrCodeLoad          ErrorCode = "LOAD_ERROR"
	ErrCodeCycle         ErrorCode = "CYCLE_ERROR"
	ErrCodeResolution    ErrorCode = "RESOLUTION_ERROR"
	ErrCodeMissingOutput ErrorCode = "MISSING_OUTPUT_ERROR"
	ErrCodeExecution     ErrorCode = "EXECUTION_ERROR"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
	ErrCodeCancelled     ErrorCode = "CANCELLED"
	ErrCodeBackend       ErrorCode = "BACKEND_ERROR"
	ErrCodeLocked        ErrorCode = "STATE_LOCKED"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
)

// Error is the base error type for stackctl
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error

	// Unit is the canonical key of the unit the error originated from,
	// empty for errors not scoped to a single unit.
	Unit string

	Details map[string]interface{}
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Code)
	if e.Unit != "" {
		fmt.Fprintf(&b, " %s:", e.Unit)
	}
	fmt.Fprintf(&b, " %s", e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap creates a new error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithUnit tags the error with the originating unit key
func (e *Error) WithUnit(unit string) *Error {
	e.Unit = unit
	return e
}

// WithDetail adds a single detail to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// LoadError creates a load-time error for a unit configuration file
func LoadError(file string, err error) *Error {
	return &Error{
		Code:    ErrCodeLoad,
		Message: fmt.Sprintf("failed to load %s", file),
		Cause:   err,
		Details: map[string]interface{}{
			"file": file,
		},
	}
}

// CycleError creates an error carrying the full cycle path, e.g. [A B C A].
func CycleError(kind string, path []string) *Error {
	return &Error{
		Code:    ErrCodeCycle,
		Message: fmt.Sprintf("%s cycle detected: %s", kind, strings.Join(path, " -> ")),
		Details: map[string]interface{}{
			"kind": kind,
			"path": path,
		},
	}
}

// CyclePath extracts the cycle path from a CycleError, or nil.
func CyclePath(err error) []string {
	e, ok := err.(*Error)
	if !ok || e.Code != ErrCodeCycle {
		return nil
	}
	path, _ := e.Details["path"].([]string)
	return path
}

// ResolutionError creates an expression resolution error for a unit
func ResolutionError(unit, message string, cause error) *Error {
	return &Error{
		Code:    ErrCodeResolution,
		Message: message,
		Cause:   cause,
		Unit:    unit,
		Details: make(map[string]interface{}),
	}
}

// MissingOutputError reports a dependency with neither real nor mocked outputs.
func MissingOutputError(unit, dependency string) *Error {
	return &Error{
		Code:    ErrCodeMissingOutput,
		Message: fmt.Sprintf("dependency %q has no outputs available and no mock_outputs declared", dependency),
		Unit:    unit,
		Details: map[string]interface{}{
			"dependency": dependency,
		},
	}
}

// ExecutionError reports a provisioning engine failure for a unit.
func ExecutionError(unit string, err error) *Error {
	return &Error{
		Code:    ErrCodeExecution,
		Message: "provisioning engine failed",
		Cause:   err,
		Unit:    unit,
		Details: make(map[string]interface{}),
	}
}

// TimeoutError reports a unit exceeding its execution deadline.
func TimeoutError(unit string, timeout string) *Error {
	return &Error{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf("unit exceeded its %s deadline", timeout),
		Unit:    unit,
		Details: map[string]interface{}{
			"timeout": timeout,
		},
	}
}

// CancelledError reports a unit that was not run because the operator aborted.
func CancelledError(unit string) *Error {
	return &Error{
		Code:    ErrCodeCancelled,
		Message: "run cancelled",
		Unit:    unit,
		Details: make(map[string]interface{}),
	}
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, name string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resourceType, name),
		Details: map[string]interface{}{
			"resource_type": resourceType,
			"name":          name,
		},
	}
}

// BackendError creates a backend error
func BackendError(backend string, operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeBackend,
		Message: fmt.Sprintf("backend %s failed during %s", backend, operation),
		Cause:   err,
		Details: map[string]interface{}{
			"backend":   backend,
			"operation": operation,
		},
	}
}

// Is checks if the error matches the given code
func Is(err error, code ErrorCode) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == code
	}
	return false
}
