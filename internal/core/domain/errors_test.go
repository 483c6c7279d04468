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
			err:      &APIError{Type: ErrorTypeOverloaded, Code: ErrorCodeQueueUnavailable, Message: "queue down"},
			expected: "overloaded (queue_unavailable): queue down",
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
			name:     "conflict error",
			err:      &APIError{Type: ErrorTypeConflict},
			expected: http.StatusConflict,
		},
		{
			name:     "upstream error",
			err:      &APIError{Type: ErrorTypeUpstream},
			expected: http.StatusBadGateway,
		},
		{
			name:     "overloaded error",
			err:      &APIError{Type: ErrorTypeOverloaded},
			expected: http.StatusServiceUnavailable,
		},
		{
			name:     "server error",
			err:      &APIError{Type: ErrorTypeServer},
			expected: http.StatusInternalServerError,
		},
		{
			name:     "unknown error type",
			err:      &APIError{Type: ErrorType("unknown")},
			expected: http.StatusInternalServerError,
		},
		{
			name:     "explicit status code",
			err:      &APIError{Type: ErrorTypeUpstream, StatusCode: http.StatusGatewayTimeout},
			expected: http.StatusGatewayTimeout,
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
	tests := []struct {
		name         string
		constructor  func(string) *APIError
		message      string
		expectedType ErrorType
		expectedCode ErrorCode
	}{
		{
			name:         "ErrInvalidRequest",
			constructor:  ErrInvalidRequest,
			message:      "bad request",
			expectedType: ErrorTypeInvalidRequest,
		},
		{
			name:         "ErrNotFoundAPI",
			constructor:  ErrNotFoundAPI,
			message:      "conversation not found",
			expectedType: ErrorTypeNotFound,
		},
		{
			name:         "ErrConflict",
			constructor:  ErrConflict,
			message:      "already exported",
			expectedType: ErrorTypeConflict,
		},
		{
			name:         "ErrUpstream",
			constructor:  ErrUpstream,
			message:      "agent timed out",
			expectedType: ErrorTypeUpstream,
		},
		{
			name:         "ErrOverloaded",
			constructor:  ErrOverloaded,
			message:      "queue unavailable",
			expectedType: ErrorTypeOverloaded,
			expectedCode: ErrorCodeQueueUnavailable,
		},
		{
			name:         "ErrServer",
			constructor:  ErrServer,
			message:      "internal error",
			expectedType: ErrorTypeServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor(tt.message)
			if err.Type != tt.expectedType {
				t.Errorf("Type = %v, want %v", err.Type, tt.expectedType)
			}
			if err.Code != tt.expectedCode {
				t.Errorf("Code = %v, want %v", err.Code, tt.expectedCode)
			}
			if err.Message != tt.message {
				t.Errorf("Message = %q, want %q", err.Message, tt.message)
			}
		})
	}
}

func TestErrMissingField(t *testing.T) {
	err := ErrMissingField("query")
	if err.Param != "query" {
		t.Errorf("Param = %q, want %q", err.Param, "query")
	}
	if err.Code != ErrorCodeMissingField {
		t.Errorf("Code = %v, want %v", err.Code, ErrorCodeMissingField)
	}
	if err.HTTPStatusCode() != http.StatusBadRequest {
		t.Errorf("HTTPStatusCode() = %d, want %d", err.HTTPStatusCode(), http.StatusBadRequest)
	}
}

func TestAPIError_Chaining(t *testing.T) {
	err := NewAPIError(ErrorTypeInvalidRequest, "test").
		WithCode(ErrorCodeInvalidTimestamp).
		WithParam("timestamp").
		WithStatusCode(http.StatusUnprocessableEntity)

	if err.Code != ErrorCodeInvalidTimestamp {
		t.Errorf("Code = %v, want %v", err.Code, ErrorCodeInvalidTimestamp)
	}
	if err.Param != "timestamp" {
		t.Errorf("Param = %q, want %q", err.Param, "timestamp")
	}
	if err.HTTPStatusCode() != http.StatusUnprocessableEntity {
		t.Errorf("HTTPStatusCode() = %d, want %d", err.HTTPStatusCode(), http.StatusUnprocessableEntity)
	}
}

func TestTransitionError(t *testing.T) {
	var err error = &TransitionError{ConversationID: "c1", From: StateDelivered, To: StateQueued}
	wrapped := fmt.Errorf("mark queued: %w", err)

	if !errors.Is(wrapped, ErrInvalidTransition) {
		t.Error("errors.Is(wrapped, ErrInvalidTransition) = false, want true")
	}
	if !IsInvalidTransition(wrapped) {
		t.Error("IsInvalidTransition(wrapped) = false, want true")
	}
	if IsInvalidTransition(ErrNotFound) {
		t.Error("IsInvalidTransition(ErrNotFound) = true, want false")
	}
	want := "invalid state transition for c1: DELIVERED -> QUEUED"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
