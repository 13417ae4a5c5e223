package errors

import (
	"errors"
	"fmt"
)

// Re-export the stdlib errors helpers so callers only need to import this
// package for both construction and inspection (errors.Is, errors.As).
var (
	Is = errors.Is
	As = errors.As
)

// Well-known error codes shared across packages.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeInternal         = "INTERNAL"
	CodeUnavailable      = "UNAVAILABLE"
	CodeDeadlineExceeded = "DEADLINE_EXCEEDED"
	CodeAlreadyExists    = "ALREADY_EXISTS"
)

// AppError is the structured error type used throughout the module. It
// carries a stable machine-readable Code alongside a human message and an
// optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// New creates an AppError. err may be nil.
func New(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Wrap creates an AppError with CodeInternal from an existing error.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Code returns the error code of err if it is (or wraps) an *AppError, and
// ok=false otherwise.
func Code(err error) (string, bool) {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}
