package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
)

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Success  bool              `json:"success"`
	Error    *domain.APIError  `json:"error"`
	Tracking map[string]string `json:"tracking,omitempty"`
}

// ToAPIError converts any error to a domain.APIError. Pipeline sentinels map
// to their HTTP category; anything else becomes a server error.
func ToAPIError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.ErrNotFoundAPI(err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyExported),
		errors.Is(err, domain.ErrAlreadyDelivered),
		errors.Is(err, domain.ErrTerminal):
		return domain.ErrConflict(err.Error())
	case errors.Is(err, domain.ErrQueueUnavailable):
		return domain.ErrOverloaded(err.Error())
	}
	return domain.ErrServer(err.Error())
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes err in the error envelope and records it on the request
// log line. tracking, when non-nil, is echoed so callers can follow up on a
// conversation that was opened before the failure.
func WriteError(w http.ResponseWriter, r *http.Request, err error, tracking map[string]string) {
	apiErr := ToAPIError(err)
	AddError(r.Context(), apiErr)
	WriteJSON(w, apiErr.HTTPStatusCode(), ErrorBody{
		Success:  false,
		Error:    apiErr,
		Tracking: tracking,
	})
}
