package ports

import (
	"context"
	"time"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
)

// AgentRequest is the input handed to the reasoning agent.
type AgentRequest struct {
	ConversationID string
	Query          string
	SourceSystem   string
	SourceProcess  string
}

// Agent is the seam where the external reasoning service is plugged in.
// Implementations: HTTP agent, Gemini.
type Agent interface {
	Invoke(ctx context.Context, req *AgentRequest) (*domain.AgentResponse, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, req *AgentRequest) (*domain.AgentResponse, error)

func (f AgentFunc) Invoke(ctx context.Context, req *AgentRequest) (*domain.AgentResponse, error) {
	return f(ctx, req)
}

// Classifier maps an agent response to a destination category.
type Classifier interface {
	Classify(resp *domain.AgentResponse) domain.ClassificationResult
}

// SendResult is the outcome of one webhook POST.
type SendResult struct {
	// StatusCode is zero when no HTTP response was received.
	StatusCode int
	Err        error
	Latency    time.Duration
}

// Sender POSTs a delivery payload to its destination.
type Sender interface {
	Send(ctx context.Context, msg *domain.DeliveryMessage, attempt int) SendResult
}

// Exporter persists a finished conversation and marks it exported.
type Exporter interface {
	Export(ctx context.Context, conversationID string) (ref string, err error)
}
