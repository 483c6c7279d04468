// Package direct provides a lifecycle event publisher that logs each event
// and counts it with OpenTelemetry metrics in-process.
package direct

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
)

const instrumentationName = "github.com/GuyDuerFB/revops-ai-framework-sub002/internal/adapters/events/direct"

// Publisher implements ports.EventPublisher.
// This is the default implementation for single-instance deployments.
type Publisher struct {
	logger      *slog.Logger
	transitions metric.Int64Counter
	rejected    metric.Int64Counter
	deadLetters metric.Int64Counter
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a new direct event publisher.
func NewPublisher(logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger required")
	}

	meter := otel.Meter(instrumentationName)
	p := &Publisher{logger: logger.With(slog.String("component", "lifecycle"))}

	var err error
	if p.transitions, err = meter.Int64Counter("revops.conversation.transitions",
		metric.WithDescription("Conversation state transitions by target state")); err != nil {
		return nil, fmt.Errorf("create transitions counter: %w", err)
	}
	if p.rejected, err = meter.Int64Counter("revops.conversation.invalid_transitions",
		metric.WithDescription("Rejected state transitions")); err != nil {
		return nil, fmt.Errorf("create invalid transitions counter: %w", err)
	}
	if p.deadLetters, err = meter.Int64Counter("revops.delivery.dead_letters",
		metric.WithDescription("Deliveries moved to the dead-letter table")); err != nil {
		return nil, fmt.Errorf("create dead letter counter: %w", err)
	}
	return p, nil
}

// Publish logs the event and updates the matching counter.
func (p *Publisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	attrs := []slog.Attr{
		slog.String("conversation_id", event.ConversationID),
		slog.String("type", string(event.Type)),
	}

	switch data := event.Data.(type) {
	case domain.LifecycleTransitionData:
		attrs = append(attrs, slog.String("to", string(data.To)))
		if data.From != "" {
			attrs = append(attrs, slog.String("from", string(data.From)))
		}
		if data.Reason != "" {
			attrs = append(attrs, slog.String("reason", data.Reason))
		}
		if data.Classification != "" {
			attrs = append(attrs, slog.String("webhook_type", string(data.Classification)))
		}
		if event.Type == domain.LifecycleEventInvalidMove {
			p.rejected.Add(ctx, 1, metric.WithAttributes(
				attribute.String("from", string(data.From)),
				attribute.String("to", string(data.To))))
		} else {
			p.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(data.To))))
		}

	case domain.LifecycleAttemptData:
		attrs = append(attrs,
			slog.Int("attempt", data.Attempt.AttemptNumber),
			slog.Bool("succeeded", data.Attempt.Succeeded()))
		if data.Attempt.HTTPStatus != nil {
			attrs = append(attrs, slog.Int("status", *data.Attempt.HTTPStatus))
		}

	case domain.LifecycleDeadLetterData:
		attrs = append(attrs,
			slog.String("target_url", data.TargetURL),
			slog.Int("attempts", data.Attempts),
			slog.String("reason", data.Reason))
		p.deadLetters.Add(ctx, 1)
	}

	p.logger.LogAttrs(ctx, slog.LevelDebug, "lifecycle event", attrs...)
	return nil
}

// Close is a no-op for direct publisher.
func (p *Publisher) Close() error {
	return nil
}
