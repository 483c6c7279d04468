package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
)

// =============================================================================
// RequestIDMiddleware Tests
// =============================================================================

func TestRequestIDMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("Expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	wrapped := RequestIDMiddleware(handler)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header to be set")
	}
}

func TestRequestIDMiddleware_UniqueIDs(t *testing.T) {
	wrapped := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec1 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec1, httptest.NewRequest("GET", "/", nil))
	rec2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec2, httptest.NewRequest("GET", "/", nil))

	if id1, id2 := rec1.Header().Get("X-Request-ID"), rec2.Header().Get("X-Request-ID"); id1 == id2 {
		t.Errorf("Expected unique request IDs, got same: %s", id1)
	}
}

func TestRequestIDMiddleware_KeepsCallerID(t *testing.T) {
	var seen string
	wrapped := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest("POST", "/v1/queries", nil)
	req.Header.Set("X-Request-ID", "slack-evt-42")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if seen != "slack-evt-42" || rec.Header().Get("X-Request-ID") != "slack-evt-42" {
		t.Errorf("request id = %q, header = %q", seen, rec.Header().Get("X-Request-ID"))
	}
}

func TestGetRequestID_NotSet(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("Expected empty string, got %q", id)
	}
}

// =============================================================================
// TimeoutMiddleware Tests
// =============================================================================

func TestTimeoutMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok := r.Context().Deadline()
		if !ok || deadline.IsZero() {
			t.Error("Expected context to have deadline")
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	TimeoutMiddleware(30*time.Second)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestTimeoutMiddleware_ContextCancelled(t *testing.T) {
	contextCancelled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			contextCancelled = true
		case <-time.After(100 * time.Millisecond):
		}
		w.WriteHeader(http.StatusOK)
	})

	TimeoutMiddleware(10*time.Millisecond)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !contextCancelled {
		t.Error("Expected context to be cancelled due to timeout")
	}
}

// =============================================================================
// LoggingMiddleware Tests
// =============================================================================

func newTestLogger(buf *strings.Builder) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLoggingMiddleware(t *testing.T) {
	var buf strings.Builder
	logger := newTestLogger(&buf)

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrapped := RequestIDMiddleware(LoggingMiddleware(logger)(testHandler))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test-path", nil))

	output := buf.String()
	for _, want := range []string{"request started", "request completed", "/test-path", "level=INFO"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in log output, got: %s", want, output)
		}
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusBadRequest, "level=WARN"},
		{http.StatusBadGateway, "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			var buf strings.Builder
			wrapped := LoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/queries", nil))

			var completed string
			for _, line := range strings.Split(buf.String(), "\n") {
				if strings.Contains(line, "request completed") {
					completed = line
				}
			}
			if !strings.Contains(completed, tt.want) {
				t.Errorf("completion line = %q, want %s", completed, tt.want)
			}
		})
	}
}

func TestAddLogField(t *testing.T) {
	var buf strings.Builder

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "conversation_id", "0195a1b2-c3d4")
		AddLogField(r.Context(), "webhook_type", "deal_analysis")
		w.WriteHeader(http.StatusOK)
	})

	LoggingMiddleware(newTestLogger(&buf))(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	output := buf.String()
	if !strings.Contains(output, "conversation_id=0195a1b2-c3d4") || !strings.Contains(output, "webhook_type=deal_analysis") {
		t.Errorf("Expected custom fields in log output, got: %s", output)
	}
}

func TestAddLogField_EmptyValue(t *testing.T) {
	var buf strings.Builder

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "empty_field", "")
	})

	LoggingMiddleware(newTestLogger(&buf))(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if strings.Contains(buf.String(), "empty_field") {
		t.Errorf("Empty field should not be in log output, got: %s", buf.String())
	}
}

func TestAddLogField_NoContext(t *testing.T) {
	// No-op without the middleware.
	AddLogField(context.Background(), "key", "value")
}

func TestAddError(t *testing.T) {
	var buf strings.Builder

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddError(r.Context(), errors.New("test error message"))
		w.WriteHeader(http.StatusInternalServerError)
	})

	LoggingMiddleware(newTestLogger(&buf))(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !strings.Contains(buf.String(), "test error message") {
		t.Errorf("Expected error in log output, got: %s", buf.String())
	}
}

func TestAddError_Nil(t *testing.T) {
	AddError(context.Background(), nil)
}

// =============================================================================
// Error response Tests
// =============================================================================

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"api error", domain.ErrMissingField("query"), http.StatusBadRequest},
		{"not found", fmt.Errorf("get: %w", domain.ErrNotFound), http.StatusNotFound},
		{"invalid transition", &domain.TransitionError{ConversationID: "c", From: domain.StateExported, To: domain.StateFailed}, http.StatusConflict},
		{"already exported", domain.ErrAlreadyExported, http.StatusConflict},
		{"queue unavailable", domain.ErrQueueUnavailable, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToAPIError(tt.err).HTTPStatusCode(); got != tt.wantStatus {
				t.Errorf("ToAPIError(%v) status = %d, want %d", tt.err, got, tt.wantStatus)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/queries", nil)

	WriteError(rec, req, domain.ErrUpstream("reasoning agent timed out").WithCode(domain.ErrorCodeAgentTimeout),
		map[string]string{"conversation_id": "c-1"})

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Type string `json:"type"`
			Code string `json:"code"`
		} `json:"error"`
		Tracking map[string]string `json:"tracking"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body.Success || body.Error.Type != "upstream" || body.Error.Code != "agent_timeout" || body.Tracking["conversation_id"] != "c-1" {
		t.Errorf("body = %+v", body)
	}
}
