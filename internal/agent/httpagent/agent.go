// Package httpagent calls a reasoning agent exposed as an HTTP endpoint.
//
// The agent receives {"query", "session_id", "source_system",
// "source_process"} and may answer with JSON carrying the text under
// "response", "output" or "text", an optional "category" or "webhook_type"
// hint and an optional "agents_used" list. Plain-text bodies are taken as the
// answer.
package httpagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
)

const maxResponseBytes = 4 << 20

// Agent is an HTTP implementation of ports.Agent.
type Agent struct {
	url     string
	apiKey  string
	headers map[string]string
	client  *http.Client
}

var _ ports.Agent = (*Agent)(nil)

// Option configures an Agent.
type Option func(*Agent)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) { a.client = c }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(a *Agent) { a.apiKey = key }
}

// WithHeaders adds static request headers.
func WithHeaders(h map[string]string) Option {
	return func(a *Agent) { a.headers = h }
}

// New creates an agent client for url. The caller bounds each call with the
// context deadline.
func New(url string, opts ...Option) *Agent {
	a := &Agent{
		url:    url,
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type invokeRequest struct {
	Query         string `json:"query"`
	SessionID     string `json:"session_id"`
	SourceSystem  string `json:"source_system,omitempty"`
	SourceProcess string `json:"source_process,omitempty"`
}

type invokeResponse struct {
	Response    string   `json:"response"`
	Output      string   `json:"output"`
	Text        string   `json:"text"`
	Category    string   `json:"category"`
	WebhookType string   `json:"webhook_type"`
	AgentsUsed  []string `json:"agents_used"`
}

// Invoke sends the query and waits for the answer.
func (a *Agent) Invoke(ctx context.Context, req *ports.AgentRequest) (*domain.AgentResponse, error) {
	body, err := json.Marshal(invokeRequest{
		Query:         req.Query,
		SessionID:     req.ConversationID,
		SourceSystem:  req.SourceSystem,
		SourceProcess: req.SourceProcess,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read agent response: %w", err)
	}
	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	out := parseResponse(resp.Header.Get("Content-Type"), raw)
	out.LatencyMs = latency.Milliseconds()
	if strings.TrimSpace(out.Text) == "" {
		return nil, domain.ErrEmptyResponse
	}
	return out, nil
}

func parseResponse(contentType string, raw []byte) *domain.AgentResponse {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	trimmed := bytes.TrimSpace(raw)

	if mediaType == "application/json" || (len(trimmed) > 0 && trimmed[0] == '{') {
		var body invokeResponse
		if err := json.Unmarshal(trimmed, &body); err == nil {
			text := firstNonEmpty(body.Response, body.Output, body.Text)
			if text == "" && !hasTextField(trimmed) {
				// Structured answer without a text field; classify the JSON itself.
				text = string(trimmed)
			}
			hint := firstNonEmpty(body.Category, body.WebhookType)
			return &domain.AgentResponse{
				Text:       text,
				Category:   domain.Category(hint),
				AgentsUsed: body.AgentsUsed,
				Raw:        json.RawMessage(trimmed),
			}
		}
	}
	return &domain.AgentResponse{Text: string(trimmed)}
}

func hasTextField(raw []byte) bool {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return false
	}
	for _, k := range []string{"response", "output", "text"} {
		if _, ok := fields[k]; ok {
			return true
		}
	}
	return len(fields) == 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
