package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"rmcloud/internal/cloud"
	"rmcloud/internal/services"
)

// ErrorType is the machine-readable error category sent to clients.
type ErrorType string

const (
	ErrorTypeInvalidSession    ErrorType = "invalid-session"
	ErrorTypeInvalidParameters ErrorType = "invalid-parameters"
	ErrorTypeDownloadFile      ErrorType = "download-file"
	ErrorTypeConvertFile       ErrorType = "convert-file"
	ErrorTypeRegister          ErrorType = "register"
	ErrorTypeLoadToken         ErrorType = "load-token"
	ErrorTypeRetrieveFiles     ErrorType = "retrieve-files"
	// ErrorTypeInternal covers failures outside the documented vocabulary.
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeUnauthorized is returned when the server access token is missing or wrong.
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
)

// maxDetail bounds the message sent to clients.
const maxDetail = 2048

// Error is a categorized failure safe to show to a client.
type Error struct {
	Type   ErrorType
	Detail string
	Err    error
}

// NewError builds an Error. Detail is trimmed and bounded.
func NewError(kind ErrorType, detail string, err error) *Error {
	detail = strings.TrimSpace(detail)
	if len(detail) > maxDetail {
		detail = detail[:maxDetail] + "..."
	}
	if detail == "" && err != nil {
		detail = err.Error()
	}
	return &Error{Type: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return string(e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Detail)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatus maps the error category onto a response code.
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}
	switch e.Type {
	case ErrorTypeInvalidParameters, ErrorTypeRegister:
		return http.StatusBadRequest
	case ErrorTypeInvalidSession, ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeLoadToken:
		return http.StatusPreconditionFailed
	case ErrorTypeDownloadFile, ErrorTypeRetrieveFiles:
		return http.StatusBadGateway
	case ErrorTypeConvertFile:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr, true
	}
	return nil, false
}

// FromError returns err as an *Error. Errors that already carry a category
// keep it; a missing device token becomes load-token; anything else is
// reported under fallback.
func FromError(err error, fallback ErrorType) *Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := AsError(err); ok {
		return apiErr
	}
	switch {
	case errors.Is(err, cloud.ErrNoToken):
		return NewError(ErrorTypeLoadToken, "no device token; register this server first", err)
	case errors.Is(err, cloud.ErrInvalidCode):
		return NewError(ErrorTypeRegister, err.Error(), err)
	case errors.Is(err, context.Canceled):
		return NewError(fallback, "request cancelled", err)
	case errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return NewError(fallback, "upstream request timed out", err)
	}
	return NewError(fallback, err.Error(), err)
}
