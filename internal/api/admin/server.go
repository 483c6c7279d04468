// Package admin serves the read-mostly operator API: conversation audit
// records and timelines, the dead-letter table, a manual export trigger and
// process stats.
package admin

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/server"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Tracker is the read side of the conversation tracker.
type Tracker interface {
	Get(ctx context.Context, id string) (*domain.ConversationRecord, error)
	Timeline(ctx context.Context, id string) ([]domain.Transition, error)
	List(ctx context.Context, opts ports.ListOptions) ([]*domain.ConversationRecord, error)
}

// Queue is the part of the delivery queue the admin API reads or resolves.
type Queue interface {
	ports.DeadLetterStore
	Len(ctx context.Context) (int, error)
}

// MetricsSource returns collected metric points.
type MetricsSource interface {
	Snapshot(ctx context.Context) ([]telemetry.Point, error)
}

type Server struct {
	startTime time.Time
	tracker   Tracker
	queue     Queue
	exporter  ports.Exporter
	metrics   MetricsSource
}

// NewServer creates the admin API. metrics may be nil.
func NewServer(tracker Tracker, queue Queue, exporter ports.Exporter, metrics MetricsSource) *Server {
	return &Server{
		startTime: time.Now(),
		tracker:   tracker,
		queue:     queue,
		exporter:  exporter,
		metrics:   metrics,
	}
}

// Register mounts the health check and the /admin routes.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", s.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{id}", s.handleConversation)
		r.Get("/conversations/{id}/timeline", s.handleTimeline)
		r.Post("/conversations/{id}/export", s.handleExport)
		r.Get("/dead-letters", s.handleListDeadLetters)
		r.Get("/dead-letters/{id}", s.handleDeadLetter)
		r.Delete("/dead-letters/{id}", s.handleResolveDeadLetter)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Len(r.Context())
	if err != nil {
		server.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "queue_depth": depth})
}

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	QueueDepth   int         `json:"queue_depth"`
	Memory       MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	depth, err := s.queue.Len(r.Context())
	if err != nil {
		server.WriteError(w, r, err, nil)
		return
	}

	server.WriteJSON(w, http.StatusOK, StatsResponse{
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		QueueDepth:   depth,
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		server.WriteError(w, r, domain.ErrNotFoundAPI("metrics are not enabled"), nil)
		return
	}
	points, err := s.metrics.Snapshot(r.Context())
	if err != nil {
		server.WriteError(w, r, err, nil)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"metrics": points})
}

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	ConversationID string          `json:"conversation_id"`
	SourceSystem   string          `json:"source_system"`
	SourceProcess  string          `json:"source_process"`
	State          domain.State    `json:"state"`
	Classification domain.Category `json:"classification,omitempty"`
	Attempts       int             `json:"attempts"`
	ReceivedAt     time.Time       `json:"received_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		server.WriteError(w, r, err, nil)
		return
	}
	if v := r.URL.Query().Get("state"); v != "" {
		state := domain.State(strings.ToUpper(v))
		if !state.Valid() {
			server.WriteError(w, r, domain.ErrInvalidRequest("unknown state "+v).WithParam("state"), nil)
			return
		}
		opts.State = state
	}

	recs, err := s.tracker.List(r.Context(), opts)
	if err != nil {
		server.WriteError(w, r, err, nil)
		return
	}

	out := make([]ConversationSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ConversationSummary{
			ConversationID: rec.ID,
			SourceSystem:   rec.SourceSystem,
			SourceProcess:  rec.SourceProcess,
			State:          rec.State,
			Classification: rec.Classification,
			Attempts:       len(rec.DeliveryAttempts),
			ReceivedAt:     rec.ReceivedAt,
			UpdatedAt:      rec.UpdatedAt,
		})
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"conversations": out, "count": len(out)})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		server.WriteError(w, r, err, nil)
		return
	}
	server.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	timeline, err := s.tracker.Timeline(r.Context(), id)
	if err != nil {
		server.WriteError(w, r, err, nil)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "transitions": timeline})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	server.AddLogField(r.Context(), "conversation_id", id)

	ref, err := s.exporter.Export(r.Context(), id)
	if err != nil {
		server.WriteError(w, r, err, nil)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "export_ref": ref})
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		server.WriteError(w, r, err, nil)
		return
	}
	dls, err := s.queue.ListDeadLetters(r.Context(), opts)
	if err != nil {
		server.WriteError(w, r, err, nil)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"dead_letters": dls, "count": len(dls)})
}

func (s *Server) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	dl, err := s.queue.GetDeadLetter(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		server.WriteError(w, r, err, nil)
		return
	}
	server.WriteJSON(w, http.StatusOK, dl)
}

func (s *Server) handleResolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.queue.ResolveDeadLetter(r.Context(), id); err != nil {
		server.WriteError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func listOptions(r *http.Request) (ports.ListOptions, error) {
	opts := ports.ListOptions{Limit: defaultListLimit}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, domain.ErrInvalidRequest("limit must be a positive integer").WithParam("limit")
		}
		opts.Limit = min(n, maxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, domain.ErrInvalidRequest("offset must be a non-negative integer").WithParam("offset")
		}
		opts.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, domain.ErrInvalidRequest("since must be RFC 3339").WithParam("since")
		}
		opts.Since = t
	}
	return opts, nil
}
