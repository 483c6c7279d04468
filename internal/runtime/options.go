package runtime

import (
	"log/slog"
	"net"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/api/admin"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
)

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(p *Pipeline) error {
		p.configPath = path
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
// For advanced use cases where you need full control over config loading.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(p *Pipeline) error {
		p.config = provider
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		p.logger = logger
		return nil
	}
}

// WithAgent replaces the agent built from the agent config section.
func WithAgent(agent ports.Agent) Option {
	return func(p *Pipeline) error {
		p.agent = agent
		return nil
	}
}

// WithEventPublisher sets a custom lifecycle event publisher.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(p *Pipeline) error {
		p.events = publisher
		return nil
	}
}

// WithMetrics exposes collected metrics on /admin/metrics.
func WithMetrics(source admin.MetricsSource) Option {
	return func(p *Pipeline) error {
		p.metrics = source
		return nil
	}
}

// WithListener serves HTTP on l instead of listening on server.port.
func WithListener(l net.Listener) Option {
	return func(p *Pipeline) error {
		p.listener = l
		return nil
	}
}
