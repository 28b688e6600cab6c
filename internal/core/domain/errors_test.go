package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "error with type and message",
			err:      &APIError{Type: ErrorTypeInvalidRequest, Message: "bad request"},
			expected: "invalid_request: bad request",
		},
		{
			name:     "error with type, code, and message",
			err:      &APIError{Type: ErrorTypeServer, Code: ErrorCodeExecutionFailed, Message: "boom"},
			expected: "server (execution_failed): boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected int
	}{
		{
			name:     "invalid request",
			err:      &APIError{Type: ErrorTypeInvalidRequest},
			expected: http.StatusBadRequest,
		},
		{
			name:     "not found error",
			err:      &APIError{Type: ErrorTypeNotFound},
			expected: http.StatusNotFound,
		},
		{
			name:     "server error",
			err:      &APIError{Type: ErrorTypeServer},
			expected: http.StatusInternalServerError,
		},
		{
			name:     "unavailable error",
			err:      &APIError{Type: ErrorTypeUnavailable},
			expected: http.StatusServiceUnavailable,
		},
		{
			name:     "unknown error type defaults to 500",
			err:      &APIError{Type: ErrorType("unknown")},
			expected: http.StatusInternalServerError,
		},
		{
			name:     "custom status code overrides default",
			err:      &APIError{Type: ErrorTypeInvalidRequest, StatusCode: http.StatusUnprocessableEntity},
			expected: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("ErrValidation", func(t *testing.T) {
		err := ErrValidation("text must not be empty").WithParam("text")
		if err.Type != ErrorTypeInvalidRequest {
			t.Errorf("Type = %v, want %v", err.Type, ErrorTypeInvalidRequest)
		}
		if err.Param != "text" {
			t.Errorf("Param = %q, want %q", err.Param, "text")
		}
	})

	t.Run("ErrRequestNotFound", func(t *testing.T) {
		err := ErrRequestNotFound("abc")
		if err.Type != ErrorTypeNotFound {
			t.Errorf("Type = %v, want %v", err.Type, ErrorTypeNotFound)
		}
		if !errors.Is(err, ErrNotFound) {
			t.Error("expected errors.Is(err, ErrNotFound)")
		}
	})

	t.Run("ErrExecution", func(t *testing.T) {
		err := ErrExecution("division by zero")
		if err.Message != "work processing failed: division by zero" {
			t.Errorf("Message = %q", err.Message)
		}
		if err.HTTPStatusCode() != http.StatusInternalServerError {
			t.Errorf("HTTPStatusCode() = %d, want 500", err.HTTPStatusCode())
		}
	})
}

func TestAsAPIError(t *testing.T) {
	wrapped := fmt.Errorf("controller: %w", ErrValidation("bad"))
	if got := AsAPIError(wrapped); got.Type != ErrorTypeInvalidRequest {
		t.Errorf("AsAPIError() type = %v, want %v", got.Type, ErrorTypeInvalidRequest)
	}

	plain := errors.New("disk full")
	got := AsAPIError(plain)
	if got.Type != ErrorTypeServer {
		t.Errorf("AsAPIError() type = %v, want %v", got.Type, ErrorTypeServer)
	}
	if !errors.Is(got, plain) {
		t.Error("expected wrapped cause to be preserved")
	}
}
