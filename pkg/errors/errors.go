package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Mapping errors
	ErrorTypeUnmappableType ErrorType = "UNMAPPABLE_TYPE"
	ErrorTypeAmbiguousKey   ErrorType = "AMBIGUOUS_KEY"

	// Gateway errors
	ErrorTypeValidation  ErrorType = "VALIDATION"
	ErrorTypeStore       ErrorType = "STORE"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"

	// Application errors
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StackTrace string                 `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails merges error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return b.String()
}

// Constructor functions for common error types

// NewUnmappableTypeError reports a value at path whose Go type has no graph mapping
func NewUnmappableTypeError(path string, typeName string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnmappableType,
		Message:    fmt.Sprintf("%s: type %s has no graph mapping", path, typeName),
		Details:    map[string]interface{}{"path": path, "type": typeName},
		StackTrace: captureStackTrace(),
	}
}

// NewAmbiguousKeyError reports two distinct objects claiming the same business key
func NewAmbiguousKeyError(label, key string) *AppError {
	return &AppError{
		Type:       ErrorTypeAmbiguousKey,
		Message:    fmt.Sprintf("business key %q is claimed by more than one %s", key, label),
		Details:    map[string]interface{}{"label": label, "key": key},
		StackTrace: captureStackTrace(),
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// NewStoreError creates a non-retryable store error
func NewStoreError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeStore,
		Message:    fmt.Sprintf("store operation '%s' failed", operation),
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// NewTransientStoreError creates a store error that may succeed when retried
func NewTransientStoreError(operation string, err error) *AppError {
	appErr := NewStoreError(operation, err)
	appErr.Retryable = true
	return appErr
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation '%s' timed out", operation),
		StackTrace: captureStackTrace(),
	}
}

// NewUnavailableError creates a service unavailable error
func NewUnavailableError(service string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    fmt.Sprintf("service '%s' is unavailable", service),
		StackTrace: captureStackTrace(),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType reports whether err, or any error it joins, is of errType
func IsType(err error, errType ErrorType) bool {
	for _, e := range Flatten(err) {
		if appErr := GetAppError(e); appErr != nil && appErr.Type == errType {
			return true
		}
	}
	return false
}

// IsUnmappableType checks for an unmappable type error
func IsUnmappableType(err error) bool {
	return IsType(err, ErrorTypeUnmappableType)
}

// IsAmbiguousKey checks for an ambiguous key error
func IsAmbiguousKey(err error) bool {
	return IsType(err, ErrorTypeAmbiguousKey)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsStore checks if an error is a store error
func IsStore(err error) bool {
	return IsType(err, ErrorTypeStore)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return IsType(err, ErrorTypeTimeout)
}

// IsUnavailable checks if an error is an unavailable error
func IsUnavailable(err error) bool {
	return IsType(err, ErrorTypeUnavailable)
}

// IsRetryable reports whether err is a single AppError marked retryable.
// A MultiError is never retryable as a whole.
func IsRetryable(err error) bool {
	var multi *MultiError
	if errors.As(err, &multi) {
		return false
	}
	appErr := GetAppError(err)
	return appErr != nil && appErr.Retryable
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil {
		return &AppError{
			Type:       appErr.Type,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			Code:       appErr.Code,
			Details:    appErr.Details,
			Cause:      err,
			Retryable:  appErr.Retryable,
			StackTrace: appErr.StackTrace,
		}
	}

	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
