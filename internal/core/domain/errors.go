package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Store sentinels. Callers match them with errors.Is.
var (
	ErrNotFound          = errors.New("request not found")
	ErrAlreadyExists     = errors.New("request already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest covers rejected input and unsafe callback URLs.
	// The request is never created.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeNotFound indicates a request identifier that does not exist.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeServer indicates work execution or storage failed.
	ErrorTypeServer ErrorType = "server"

	// ErrorTypeUnavailable indicates the service cannot accept work right now.
	ErrorTypeUnavailable ErrorType = "unavailable"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeUnsafeCallbackURL ErrorCode = "unsafe_callback_url"
	ErrorCodeInvalidInput      ErrorCode = "invalid_input"
	ErrorCodeExecutionFailed   ErrorCode = "execution_failed"
)

// APIError is the caller-facing error returned by the lifecycle controller
// and rendered by the HTTP frontdoor.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`

	// StatusCode overrides the status derived from Type.
	StatusCode int `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeServer:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithCause records the error that produced this one.
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// ErrValidation creates an invalid request error.
func ErrValidation(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message).WithCode(ErrorCodeInvalidInput)
}

// ErrRequestNotFound creates a not found error for a request identifier.
func ErrRequestNotFound(id string) *APIError {
	return NewAPIError(ErrorTypeNotFound, fmt.Sprintf("request %s not found", id)).
		WithCause(ErrNotFound)
}

// ErrExecution creates a server error carrying a work execution failure.
func ErrExecution(message string) *APIError {
	return NewAPIError(ErrorTypeServer, "work processing failed: "+message).
		WithCode(ErrorCodeExecutionFailed)
}

// ErrServer creates a generic server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// AsAPIError extracts an *APIError from err, wrapping unknown errors as server errors.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrServer(err.Error()).WithCause(err)
}
