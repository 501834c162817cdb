// Package errors provides the structured error system for tiercache with
// error codes, categories, and retry hints.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code is a stable, machine-readable error code.
type Code string

const (
	// Configuration errors
	CodeInvalidConfig Code = "INVALID_CONFIG"
	CodeConfigLoad    Code = "CONFIG_LOAD"

	// Storage errors
	CodeStorageRead         Code = "STORAGE_READ"
	CodeStorageWrite        Code = "STORAGE_WRITE"
	CodeQuotaExceeded       Code = "QUOTA_EXCEEDED"
	CodeDatabaseUnavailable Code = "DATABASE_UNAVAILABLE"

	// Operation errors
	CodeBadPattern     Code = "BAD_PATTERN"
	CodeEncoding       Code = "ENCODING"
	CodeRetryExhausted Code = "RETRY_EXHAUSTED"

	// Network errors
	CodeNetworkError Code = "NETWORK_ERROR"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeAPIError     Code = "API_ERROR"
)

// Category groups codes by the subsystem that produced them.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryStorage       Category = "storage"
	CategoryOperation     Category = "operation"
	CategoryNetwork       Category = "network"
)

// Error is a structured error with a stable code and operational context.
type Error struct {
	Code      Code
	Category  Category
	Message   string
	Component string
	Operation string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error-wrapping compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so comparisons survive wrapping.
func (e *Error) Is(target error) bool {
	var te *Error
	if stderrors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// New creates a structured error.
func New(code Code, category Category, message string) *Error {
	return &Error{
		Code:     code,
		Category: category,
		Message:  message,
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code Code, category Category, format string, args ...interface{}) *Error {
	return New(code, category, fmt.Sprintf(format, args...))
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(cause error, code Code, category Category, message string) *Error {
	return &Error{
		Code:     code,
		Category: category,
		Message:  message,
		Cause:    cause,
	}
}

// WithComponent records the component that produced the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation records the operation that failed.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithRetryable marks whether the failed operation is worth retrying.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the code from err, or CodeAPIError's zero value when err
// is not a structured error.
func GetCode(err error) (Code, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}
