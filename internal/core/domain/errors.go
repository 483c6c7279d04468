// Package domain provides the canonical types and errors of the revops pipeline.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeConflict indicates the resource is in a state that forbids the operation.
	ErrorTypeConflict ErrorType = "conflict"

	// ErrorTypeUpstream indicates the reasoning agent failed or timed out.
	ErrorTypeUpstream ErrorType = "upstream"

	// ErrorTypeOverloaded indicates the delivery queue cannot accept work.
	ErrorTypeOverloaded ErrorType = "overloaded"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeMissingField     ErrorCode = "missing_field"
	ErrorCodeInvalidTimestamp ErrorCode = "invalid_timestamp"
	ErrorCodeInvalidJSON      ErrorCode = "invalid_json"
	ErrorCodeAgentTimeout     ErrorCode = "agent_timeout"
	ErrorCodeAgentEmpty       ErrorCode = "agent_empty_response"
	ErrorCodeQueueUnavailable ErrorCode = "queue_unavailable"
)

// APIError represents an error returned to HTTP callers.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the request field that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
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
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	case ErrorTypeOverloaded:
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

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// Convenience constructors for common errors

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrMissingField creates an invalid request error for an absent required field.
func ErrMissingField(param string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, fmt.Sprintf("missing required field %q", param)).
		WithCode(ErrorCodeMissingField).
		WithParam(param)
}

// ErrNotFoundAPI creates a not found error.
func ErrNotFoundAPI(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrConflict creates a conflict error.
func ErrConflict(message string) *APIError {
	return NewAPIError(ErrorTypeConflict, message)
}

// ErrUpstream creates an upstream (agent) error.
func ErrUpstream(message string) *APIError {
	return NewAPIError(ErrorTypeUpstream, message)
}

// ErrOverloaded creates an overloaded error.
func ErrOverloaded(message string) *APIError {
	return NewAPIError(ErrorTypeOverloaded, message).
		WithCode(ErrorCodeQueueUnavailable)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// Pipeline sentinel errors. Compare with errors.Is.
var (
	ErrNotFound          = errors.New("conversation not found")
	ErrAlreadyExists     = errors.New("conversation already exists")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAlreadySet        = errors.New("field already set")
	ErrAlreadyDelivered  = errors.New("conversation already delivered")
	ErrAlreadyExported   = errors.New("conversation already exported")
	ErrTerminal          = errors.New("conversation in terminal state")
	ErrAttemptsExhausted = errors.New("delivery attempts exhausted")
	ErrEmptyResponse     = errors.New("agent returned an empty response")
	ErrQueueUnavailable  = errors.New("delivery queue unavailable")
)

// TransitionError is returned when a caller asks the tracker for a state
// change the lifecycle does not allow.
type TransitionError struct {
	ConversationID string
	From           State
	To             State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for %s: %s -> %s", e.ConversationID, e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsInvalidTransition reports whether err is (or wraps) a TransitionError.
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
