// Package ingest is the HTTP front door of the pipeline. It validates
// inbound queries and hands them to the ingestion service.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pipeline"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/server"
)

// MaxBodyBytes caps the request body.
const MaxBodyBytes = 1 << 20

// Ingester runs a validated query through the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, q pipeline.Query) (*pipeline.Result, error)
}

// Request is the inbound query body. Unknown fields are ignored.
type Request struct {
	SourceProcess string `json:"source_process"`
	Timestamp     string `json:"timestamp"`
	SourceSystem  string `json:"source_system"`
	Query         string `json:"query"`
}

// Tracking identifies an accepted conversation.
type Tracking struct {
	ConversationID   string          `json:"conversation_id"`
	WebhookType      domain.Category `json:"webhook_type"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
}

// Response is the success body.
type Response struct {
	Success  bool     `json:"success"`
	Tracking Tracking `json:"tracking"`
}

type Handler struct {
	ingester Ingester
}

func NewHandler(ingester Ingester) *Handler {
	return &Handler{ingester: ingester}
}

// Register mounts the ingestion routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/queries", h.HandleQuery)
	r.Post("/webhook", h.HandleQuery)
}

// HandleQuery validates the body, runs the query through the pipeline and
// acknowledges once the answer is queued for delivery.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	q, err := decode(w, r)
	if err != nil {
		server.WriteError(w, r, err, nil)
		return
	}
	server.AddLogField(r.Context(), "source_system", q.SourceSystem)

	res, err := h.ingester.Ingest(r.Context(), q)
	if res != nil {
		server.AddLogField(r.Context(), "conversation_id", res.ConversationID)
		server.AddLogField(r.Context(), "webhook_type", string(res.WebhookType))
	}
	if err != nil {
		var tracking map[string]string
		if res != nil {
			tracking = map[string]string{"conversation_id": res.ConversationID}
		}
		server.WriteError(w, r, err, tracking)
		return
	}

	server.WriteJSON(w, http.StatusOK, Response{
		Success: true,
		Tracking: Tracking{
			ConversationID:   res.ConversationID,
			WebhookType:      res.WebhookType,
			ProcessingTimeMs: res.ProcessingTime.Milliseconds(),
		},
	})
}

func decode(w http.ResponseWriter, r *http.Request) (pipeline.Query, error) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return pipeline.Query{}, domain.ErrInvalidRequest("request body too large").
				WithStatusCode(http.StatusRequestEntityTooLarge)
		}
		return pipeline.Query{}, domain.ErrInvalidRequest("request body must be a JSON object: " + err.Error()).
			WithCode(domain.ErrorCodeInvalidJSON)
	}

	for _, f := range []struct{ name, value string }{
		{"query", req.Query},
		{"source_system", req.SourceSystem},
		{"source_process", req.SourceProcess},
		{"timestamp", req.Timestamp},
	} {
		if strings.TrimSpace(f.value) == "" {
			return pipeline.Query{}, domain.ErrMissingField(f.name)
		}
	}

	at, err := ParseTimestamp(req.Timestamp)
	if err != nil {
		return pipeline.Query{}, domain.ErrInvalidRequest("timestamp must be ISO-8601").
			WithCode(domain.ErrorCodeInvalidTimestamp).
			WithParam("timestamp")
	}

	return pipeline.Query{
		SourceSystem:  strings.TrimSpace(req.SourceSystem),
		SourceProcess: strings.TrimSpace(req.SourceProcess),
		Text:          req.Query,
		RequestedAt:   at,
	}, nil
}

// Layouts without a zone are read as UTC.
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp: RFC 3339 with or without
// fractional seconds, the zone-less date-time forms, or a bare date.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	var firstErr error
	for _, layout := range zonelessLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
