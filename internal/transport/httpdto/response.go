package httpdto

import bookdesk_errors "bookdesk/pkg/errors"

// Response is the envelope every /v1 endpoint answers with.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func NewErrorResponse(msg string, code string) Response[any] {
	return Response[any]{Error: msg, Code: code}
}

// ErrorFrom returns the status err maps to and its envelope.
func ErrorFrom(err error) (int, Response[any]) {
	return bookdesk_errors.HTTPStatus(err), NewErrorResponse(err.Error(), string(bookdesk_errors.CodeOf(err)))
}
