package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pkg/config"
)

type destination struct {
	mu       sync.Mutex
	payloads []domain.WebhookPayload
	srv      *httptest.Server
}

func newDestination(t *testing.T) *destination {
	t.Helper()
	d := &destination{}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p domain.WebhookPayload
		json.NewDecoder(r.Body).Decode(&p)
		d.mu.Lock()
		d.payloads = append(d.payloads, p)
		d.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *destination) received() []domain.WebhookPayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.WebhookPayload(nil), d.payloads...)
}

func writeConfig(t *testing.T, dir, destURL string) string {
	t.Helper()
	body := fmt.Sprintf(`
storage:
  type: sqlite
  sqlite:
    path: %s
delivery:
  poll_interval: 10ms
  base_delay: 10ms
export:
  sink: file
  dir: %s
  sweep_interval: 50ms
destinations:
  - category: deal_analysis
    url: %s/deals
    patterns: ["\\bpipeline\\b"]
  - category: general
    url: %s/general
`, filepath.Join(dir, "revops.db"), filepath.Join(dir, "exports"), destURL, destURL)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func dealAgent() ports.Agent {
	return ports.AgentFunc(func(ctx context.Context, req *ports.AgentRequest) (*domain.AgentResponse, error) {
		return &domain.AgentResponse{
			Text:       "## Acme renewal\n\nThe **pipeline** for Q3 is at risk.",
			Category:   domain.CategoryDealAnalysis,
			AgentsUsed: []string{"deal-analyst"},
		}, nil
	})
}

func startPipeline(t *testing.T, agent ports.Agent) (*Pipeline, *destination) {
	t.Helper()
	dest := newDestination(t)
	path := writeConfig(t, t.TempDir(), dest.srv.URL)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	p, err := New(
		WithFileConfig(path),
		WithAgent(agent),
		WithListener(l),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})
	return p, dest
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Fatal("expected error without config provider")
	}
	if err.Error() != "config provider required (use WithFileConfig or WithConfigProvider)" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	p, dest := startPipeline(t, dealAgent())
	base := "http://" + p.Addr()

	body, _ := json.Marshal(map[string]string{
		"source_process": "deal-review",
		"timestamp":      "2026-10-16T09:30:00Z",
		"source_system":  "slack",
		"query":          "How is the Acme renewal tracking?",
	})
	resp, err := http.Post(base+"/v1/queries", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/queries error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, raw)
	}
	var ack struct {
		Success  bool `json:"success"`
		Tracking struct {
			ConversationID string `json:"conversation_id"`
			WebhookType    string `json:"webhook_type"`
		} `json:"tracking"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack error = %v", err)
	}
	if !ack.Success || ack.Tracking.WebhookType != "deal_analysis" {
		t.Fatalf("ack = %+v", ack)
	}

	rec := waitForState(t, base, ack.Tracking.ConversationID, domain.StateExported)
	if rec.Outcome() != domain.StateDelivered || rec.ExportRef == "" {
		t.Errorf("record outcome = %s, export_ref = %q", rec.Outcome(), rec.ExportRef)
	}
	if len(rec.DeliveryAttempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(rec.DeliveryAttempts))
	}

	got := dest.received()
	if len(got) != 1 {
		t.Fatalf("destination received %d payloads, want 1", len(got))
	}
	if got[0].Header != domain.CategoryDealAnalysis || got[0].AgentsUsed[0] != "deal-analyst" {
		t.Errorf("payload = %+v", got[0])
	}

	health, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", health.StatusCode)
	}
}

func TestPipeline_ReloadSwapsClassifier(t *testing.T) {
	p, dest := startPipeline(t, dealAgent())
	lead := &domain.AgentResponse{Text: "webhook_type: lead_analysis\nICP fit is strong."}

	before := p.components.classifiers.Current()
	if got := before.Classify(lead); got.Category != domain.CategoryGeneral {
		t.Fatalf("Classify() before reload = %+v, want general", got)
	}
	if url, _ := before.TargetURL(domain.CategoryLeadAnalysis); url != dest.srv.URL+"/general" {
		t.Fatalf("TargetURL(lead_analysis) before reload = %q, want general destination", url)
	}

	p.onConfigChange(&config.Config{Destinations: []config.DestinationConfig{
		{Category: "lead_analysis", URL: dest.srv.URL + "/leads"},
		{Category: "general", URL: dest.srv.URL + "/general"},
	}})

	after := p.components.classifiers.Current()
	if got := after.Classify(lead); got.Category != domain.CategoryLeadAnalysis || got.Rule != "hint:lead_analysis" {
		t.Errorf("Classify() after reload = %+v, want hint:lead_analysis", got)
	}
	if url, ok := after.TargetURL(domain.CategoryLeadAnalysis); !ok || url != dest.srv.URL+"/leads" {
		t.Errorf("TargetURL(lead_analysis) after reload = %q, %v", url, ok)
	}
	if got := before.Classify(lead); got.Category != domain.CategoryGeneral {
		t.Errorf("snapshot taken before reload changed: %+v", got)
	}
}

func TestPipeline_ShutdownIsIdempotent(t *testing.T) {
	p, _ := startPipeline(t, dealAgent())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func waitForState(t *testing.T, base, id string, want domain.State) *domain.ConversationRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/admin/conversations/" + id)
		if err != nil {
			t.Fatalf("GET conversation error = %v", err)
		}
		var rec domain.ConversationRecord
		err = json.NewDecoder(resp.Body).Decode(&rec)
		resp.Body.Close()
		if err == nil && rec.State == want {
			return &rec
		}
		if time.Now().After(deadline) {
			t.Fatalf("conversation %s state = %s, want %s", id, rec.State, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
