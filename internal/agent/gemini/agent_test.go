package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
)

func fakeGemini(t *testing.T, answer string) (*httptest.Server, *string) {
	t.Helper()
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
			return
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": answer}},
				},
				"finishReason": "STOP",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &gotBody
}

func TestAgent_Invoke(t *testing.T) {
	srv, body := fakeGemini(t, "Acme is in negotiation.\n\nwebhook_type: deal_analysis")

	a, err := New(context.Background(), Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Categories: []string{"deal_analysis", "general"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := a.Invoke(context.Background(), &ports.AgentRequest{ConversationID: "c1", Query: "How is Acme doing?"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.HasSuffix(resp.Text, "webhook_type: deal_analysis") {
		t.Errorf("Text = %q", resp.Text)
	}
	if len(resp.AgentsUsed) != 1 || resp.AgentsUsed[0] != defaultModel {
		t.Errorf("AgentsUsed = %v", resp.AgentsUsed)
	}
	if !strings.Contains(*body, "How is Acme doing?") || !strings.Contains(*body, "deal_analysis, general") {
		t.Errorf("request body = %s", *body)
	}
}

func TestAgent_EmptyAnswer(t *testing.T) {
	srv, _ := fakeGemini(t, "  ")
	a, err := New(context.Background(), Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := a.Invoke(context.Background(), &ports.AgentRequest{Query: "q"}); !errors.Is(err, domain.ErrEmptyResponse) {
		t.Errorf("Invoke() error = %v, want ErrEmptyResponse", err)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("New() without API key succeeded")
	}
}

func TestSystemInstruction(t *testing.T) {
	if got := systemInstruction(nil); strings.Contains(got, "webhook_type") {
		t.Errorf("systemInstruction(nil) = %q", got)
	}
	if got := systemInstruction([]string{"lead_analysis"}); !strings.Contains(got, "webhook_type: <category>") {
		t.Errorf("systemInstruction() = %q", got)
	}
}
