package dto

import (
	"net/http"

	"github.com/reconcilerd/reconcilerd/pkg/errors"
)

// APIError represents a structured error response.
// All error responses from the API use this format for consistency.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAPIError creates a new APIError with the given code and message
func NewAPIError(code, message string) APIError {
	return APIError{
		Code:    code,
		Message: message,
	}
}

// BadRequestError creates a bad request error response
func BadRequestError(message string) APIError {
	return NewAPIError("bad_request", message)
}

// InternalError creates an internal server error response
func InternalError() APIError {
	return NewAPIError("internal_error", "an internal error occurred")
}

// FromError maps a service error onto an HTTP status and response
// body. Internal errors surface a generic body; the handler logs the
// underlying cause.
func FromError(err error) (int, APIError) {
	domainErr, ok := errors.As(err)
	if !ok {
		return http.StatusInternalServerError, InternalError()
	}

	switch domainErr.Category {
	case errors.CategoryNotFound:
		return http.StatusNotFound, NewAPIError(string(domainErr.Code), domainErr.Message)
	case errors.CategoryInvalidState:
		return http.StatusConflict, NewAPIError(string(domainErr.Code), domainErr.Message)
	case errors.CategoryBusinessRule:
		return http.StatusUnprocessableEntity, NewAPIError(string(domainErr.Code), domainErr.Message)
	case errors.CategoryValidation:
		return http.StatusBadRequest, NewAPIError(string(domainErr.Code), domainErr.Message)
	default:
		return http.StatusInternalServerError, InternalError()
	}
}
