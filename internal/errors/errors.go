package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code      string
	Message   string
	Field     string
	Retryable bool
	Cause     error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so callers can test against the sentinels below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

const (
	CodeValidation    = "VALIDATION"
	CodeStateConflict = "STATE_CONFLICT"
	CodeNotFound      = "NOT_FOUND"
	CodeStorage       = "STORAGE"
	CodeConfigInvalid = "CONFIG_INVALID"
	CodeUnauthorized  = "AUTH_001"
	CodeRateLimited   = "RATE_LIMITED"
)

var (
	ErrValidation    = &AppError{Code: CodeValidation, Message: "invalid input"}
	ErrStateConflict = &AppError{Code: CodeStateConflict, Message: "transition not allowed in current state"}
	ErrNotFound      = &AppError{Code: CodeNotFound, Message: "resource not found"}
	ErrStorage       = &AppError{Code: CodeStorage, Message: "storage failure", Retryable: true}

	ErrConfigInvalid = &AppError{Code: CodeConfigInvalid, Message: "invalid configuration"}
	ErrUnauthorized  = &AppError{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrRateLimited   = &AppError{Code: CodeRateLimited, Message: "rate limit exceeded", Retryable: true}
)

// Validation reports malformed input for a named field. Nothing has been
// written when this is returned.
func Validation(field, message string) *AppError {
	return &AppError{Code: CodeValidation, Field: field, Message: message}
}

func Conflict(format string, args ...any) *AppError {
	return &AppError{Code: CodeStateConflict, Message: fmt.Sprintf(format, args...)}
}

func NotFound(kind, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

// Storage wraps a persistence failure with the operation that hit it. The
// caller decides whether to retry.
func Storage(op string, cause error) *AppError {
	return &AppError{Code: CodeStorage, Message: op, Retryable: true, Cause: cause}
}

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}
