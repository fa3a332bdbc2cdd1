package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ResponseCode business error code carried in the response envelope
type ResponseCode int

const (
	CodeSuccess ResponseCode = 0

	CodeInvalidParam ResponseCode = 1001
	CodeUnauthorized ResponseCode = 1002
	CodeForbidden    ResponseCode = 1003
	CodeRateLimit    ResponseCode = 1004

	CodeNotificationNotFound ResponseCode = 2001
	CodeValidationFailed     ResponseCode = 2002

	CodeInternalError   ResponseCode = 5000
	CodeServiceError    ResponseCode = 5001
	CodeDatabaseError   ResponseCode = 5002
	CodeRedisError      ResponseCode = 5003
	CodeServiceDegraded ResponseCode = 5004
	CodeTimeout         ResponseCode = 5005
)

// HTTPStatus maps a business code onto the HTTP status used to carry it.
func (c ResponseCode) HTTPStatus() int {
	switch c {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam, CodeValidationFailed:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeNotificationNotFound:
		return http.StatusNotFound
	case CodeServiceDegraded:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// AppError application error structure
type AppError struct {
	Code    ResponseCode `json:"code"`
	Message string       `json:"message"`
	Fields  []string     `json:"fields,omitempty"`
	Err     error        `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code: %d, message: %s, error: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on code so wrapped predefined errors compare equal.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError create new application error
func NewError(code ResponseCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NewErrorWithErr create application error with original error
func NewErrorWithErr(code ResponseCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// WrapError wrap error
func WrapError(err error, code ResponseCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewValidationError reports one message per offending field.
func NewValidationError(fields []string) *AppError {
	return &AppError{Code: CodeValidationFailed, Message: "validation failed", Fields: fields}
}

// Predefined errors
var (
	ErrInvalidParam = NewError(CodeInvalidParam, "invalid parameter")
	ErrUnauthorized = NewError(CodeUnauthorized, "unauthorized")
	ErrRateLimit    = NewError(CodeRateLimit, "rate limit exceeded")

	ErrNotificationNotFound = NewError(CodeNotificationNotFound, "notification not found")

	ErrInternalError   = NewError(CodeInternalError, "internal server error")
	ErrServiceError    = NewError(CodeServiceError, "service error")
	ErrDatabaseError   = NewError(CodeDatabaseError, "database error")
	ErrRedisError      = NewError(CodeRedisError, "redis error")
	ErrServiceDegraded = NewError(CodeServiceDegraded, "service degraded")
)

// IsAppError reports whether err is, or wraps, an application error.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetErrorCode get error code
func GetErrorCode(err error) ResponseCode {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternalError
}

// GetErrorMessage get error message
func GetErrorMessage(err error) string {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
