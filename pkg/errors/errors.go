package bookdesk_errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNetwork            = errors.New("network error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnknown            = errors.New("unknown error")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAuthorization      Code = "AUTHORIZATION_ERROR"
	CodeAuthentication     Code = "AUTHENTICATION_ERROR"
	CodeNetwork            Code = "NETWORK_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeRateLimit          Code = "RATE_LIMIT_ERROR"
	CodeUnknown            Code = "UNKNOWN_ERROR"
	CodeConflict           Code = "CONFLICT"
)

var sentinels = map[Code]error{
	CodeValidation:         ErrInvalidInput,
	CodeNotFound:           ErrNotFound,
	CodeAuthorization:      ErrForbidden,
	CodeAuthentication:     ErrUnauthorized,
	CodeNetwork:            ErrNetwork,
	CodeServiceUnavailable: ErrServiceUnavailable,
	CodeRateLimit:          ErrRateLimited,
	CodeUnknown:            ErrUnknown,
	CodeConflict:           ErrAlreadyExists,
}

// AppError carries a taxonomy code alongside a human readable message.
// errors.Is matches it against the sentinel for its code.
type AppError struct {
	Code    Code
	Message string
	Err     error
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

func (e *AppError) Is(target error) bool {
	return sentinels[e.Code] == target
}

func New(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func Validation(format string, args ...any) *AppError {
	return New(CodeValidation, format, args...)
}

func NotFound(what string) *AppError {
	return New(CodeNotFound, "%s not found", what)
}

func Forbidden(format string, args ...any) *AppError {
	return New(CodeAuthorization, format, args...)
}

// CodeOf resolves the taxonomy code of err, falling back to sentinel matching.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	for code, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// IsStoreError reports whether err is a conversation store violation. These
// are never retried by the delivery engine.
func IsStoreError(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeNotFound, CodeAuthorization, CodeConflict:
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeNetwork:
		return http.StatusBadGateway
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// NowPtr returns a pointer to the current UTC time
func NowPtr() *time.Time {
	now := time.Now().UTC()
	return &now
}
