// Package gemini answers pipeline queries with a Gemini model through the
// Google GenAI SDK.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
)

const defaultModel = "gemini-2.5-flash"

// Agent implements ports.Agent with a single GenerateContent call.
type Agent struct {
	client      *genai.Client
	model       string
	instruction string
}

var _ ports.Agent = (*Agent)(nil)

// Config configures the Gemini agent.
type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint. Tests point it at httptest.
	BaseURL    string
	HTTPClient *http.Client
	// Categories are listed in the system instruction so the model labels
	// its answer with a webhook_type marker line.
	Categories []string
}

// New creates a Gemini agent.
func New(ctx context.Context, cfg Config) (*Agent, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Agent{
		client:      client,
		model:       cfg.Model,
		instruction: systemInstruction(cfg.Categories),
	}, nil
}

func systemInstruction(categories []string) string {
	var b strings.Builder
	b.WriteString("You are a revenue operations analyst. Answer the question using markdown.")
	if len(categories) > 0 {
		b.WriteString(" End your answer with a single line of the form \"webhook_type: <category>\" where <category> is one of: ")
		b.WriteString(strings.Join(categories, ", "))
		b.WriteString(".")
	}
	return b.String()
}

// Invoke sends the query to the model.
func (a *Agent) Invoke(ctx context.Context, req *ports.AgentRequest) (*domain.AgentResponse, error) {
	start := time.Now()
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(req.Query), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(a.instruction, genai.RoleUser),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyResponse
	}
	return &domain.AgentResponse{
		Text:       text,
		AgentsUsed: []string{a.model},
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
