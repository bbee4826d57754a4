// errors.go - Structured error responses and domain error mapping
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/warehouse-map/backend/internal/engine"
	"github.com/warehouse-map/backend/internal/session"
	"github.com/warehouse-map/backend/internal/storage"
	"github.com/warehouse-map/backend/internal/telemetry"
	"github.com/warehouse-map/backend/internal/topology"
	"github.com/warehouse-map/backend/internal/track"
)

// Error codes returned in APIError.Code
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeSessionClosed     = "SESSION_CLOSED"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeUnavailable       = "SERVICE_UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
	CodeHTTP              = "HTTP_ERROR"
	CodeUnknown           = "UNKNOWN_ERROR"
)

// ShowErrorDetails exposes the cause of unexpected errors in responses.
// The server turns it off unless the log level is debug.
var ShowErrorDetails = true

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAPIError(status int, code, message string, cause error) *APIError {
	err := &APIError{Status: status, Code: code, Message: message}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewBadRequestError creates a 400 error carrying the cause as details
func NewBadRequestError(message string, cause error) *APIError {
	return newAPIError(http.StatusBadRequest, CodeBadRequest, message, cause)
}

// NewValidationError creates a 400 error for a missing or invalid field
func NewValidationError(field string) *APIError {
	return newAPIError(http.StatusBadRequest, CodeValidation, "validation failed for field: "+field, nil)
}

// NewNotFoundError creates a 404 error
func NewNotFoundError(resource string, id string) *APIError {
	return newAPIError(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id), nil)
}

// NewForbiddenError creates a 403 error
func NewForbiddenError(message string) *APIError {
	return newAPIError(http.StatusForbidden, CodeForbidden, message, nil)
}

// NewConflictError creates a 409 error
func NewConflictError(message string) *APIError {
	return newAPIError(http.StatusConflict, CodeConflict, message, nil)
}

// NewUnsupportedMediaError creates a 415 error for an unknown scene format
func NewUnsupportedMediaError(format string) *APIError {
	return newAPIError(http.StatusUnsupportedMediaType, CodeUnsupportedFormat, "unsupported format: "+format, nil)
}

// NewServiceUnavailableError creates a 503 error
func NewServiceUnavailableError(message string) *APIError {
	return newAPIError(http.StatusServiceUnavailable, CodeUnavailable, message, nil)
}

// NewInternalError creates a 500 error
func NewInternalError(message string, cause error) *APIError {
	return newAPIError(http.StatusInternalServerError, CodeInternal, message, cause)
}

// domainErrors maps package sentinels onto responses. Order matters only for
// errors that wrap more than one sentinel.
var domainErrors = []struct {
	target  error
	status  int
	code    string
	message string
}{
	{engine.ErrClosed, http.StatusConflict, CodeSessionClosed, "session is closed"},
	{session.ErrNotFound, http.StatusNotFound, CodeNotFound, "session not found"},
	{session.ErrTooManySessions, http.StatusServiceUnavailable, CodeUnavailable, "too many active sessions"},
	{storage.ErrNotFound, http.StatusNotFound, CodeNotFound, "topology not found"},
	{topology.ErrInvalidSnapshot, http.StatusBadRequest, CodeBadRequest, "invalid topology snapshot"},
	{telemetry.ErrDecode, http.StatusBadRequest, CodeBadRequest, "invalid telemetry frame"},
	{track.ErrClosed, http.StatusServiceUnavailable, CodeUnavailable, "trail recorder is closed"},
}

// FromError converts any error into an APIError. Known domain errors keep
// their meaning; anything else becomes a 500 with message as the summary.
func FromError(err error, message string) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, d := range domainErrors {
		if errors.Is(err, d.target) {
			return newAPIError(d.status, d.code, d.message, err)
		}
	}
	return NewInternalError(message, err)
}

// engineError maps engine failures onto API errors.
func engineError(err error, message string) error {
	return FromError(err, message)
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusRequestEntityTooLarge:
		return CodePayloadTooLarge
	case http.StatusServiceUnavailable:
		return CodeUnavailable
	default:
		return CodeHTTP
	}
}

// ErrorHandler renders every handler error as an APIError.
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    httpErrorCode(httpErr.Code),
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = FromError(err, "An unexpected error occurred")
		if apiErr.Status == http.StatusInternalServerError {
			apiErr.Code = CodeUnknown
			if !ShowErrorDetails {
				apiErr.Details = ""
			}
		}
	}

	c.JSON(apiErr.Status, apiErr)
}
