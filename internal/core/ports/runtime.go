package ports

import (
	"context"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// EventPublisher publishes conversation lifecycle events.
// Implementations: direct logging + metrics (default).
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *domain.LifecycleEvent) error { return nil }
func (NopPublisher) Close() error                                         { return nil }
