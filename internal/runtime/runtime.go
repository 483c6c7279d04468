// Package runtime provides the Pipeline struct and lifecycle management for
// the RevOps query pipeline: it builds every component from configuration,
// serves the ingestion and admin APIs, runs the delivery worker and export
// sweeper, and hot-swaps classification rules when the config file changes.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/adapters/config/file"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/adapters/events/direct"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/api/admin"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/classifier"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/frontdoor/ingest"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pkg/config"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/server"
)

// Pipeline is the main entry point for running the query pipeline.
// It can be embedded in larger applications or run standalone.
type Pipeline struct {
	// Dependencies (injected via options)
	configPath string
	config     ports.ConfigProvider
	events     ports.EventPublisher
	agent      ports.Agent
	metrics    admin.MetricsSource
	listener   net.Listener
	logger     *slog.Logger

	// Internal state
	components *components
	server     *server.Server
	background errgroup.Group

	// Lifecycle management
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

// New creates a Pipeline with the given options.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if p.config == nil && p.configPath != "" {
		provider, err := file.NewProvider(p.configPath, p.logger)
		if err != nil {
			return nil, fmt.Errorf("create file config provider: %w", err)
		}
		p.config = provider
	}
	if p.config == nil {
		return nil, errors.New("config provider required (use WithFileConfig or WithConfigProvider)")
	}

	if p.events == nil {
		publisher, err := direct.NewPublisher(p.logger)
		if err != nil {
			return nil, fmt.Errorf("create default event publisher: %w", err)
		}
		p.events = publisher
	}

	return p, nil
}

// Start loads configuration, builds all components and starts serving.
// It returns once the listener is bound; serving and the background loops
// continue until Shutdown.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pipeline already started")
	}

	cfg, err := p.config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	c, err := p.build(ctx, cfg)
	if err != nil {
		return err
	}

	l := p.listener
	if l == nil {
		l, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
		if err != nil {
			c.close()
			return fmt.Errorf("listen: %w", err)
		}
		p.listener = l
	}

	srv := server.New(cfg.Server.Port, config.Duration(cfg.Server.RequestTimeout, 60*time.Second), p.logger)
	ingest.NewHandler(c.service).Register(srv.Router)
	admin.NewServer(c.tracker, c.queue, c.exporter, p.metrics).Register(srv.Router)

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.components = c
	p.server = srv
	p.started = true

	p.background.Go(func() error { return srv.Serve(l) })
	p.background.Go(func() error { return c.worker.Run(bg) })
	p.background.Go(func() error {
		return c.exporter.RunSweeper(bg, config.Duration(cfg.Export.SweepInterval, 30*time.Second))
	})

	if err := p.config.Watch(bg, p.onConfigChange); err != nil {
		p.logger.Warn("config watch unavailable, rules will not hot-reload", slog.String("error", err.Error()))
	}

	p.logger.Info("pipeline started",
		slog.String("addr", l.Addr().String()),
		slog.String("storage", cfg.Storage.Type),
		slog.String("agent", cfg.Agent.Type),
		slog.String("export_sink", cfg.Export.Sink),
		slog.Int("destinations", len(cfg.Destinations)))

	return nil
}

// Addr returns the address the HTTP server listens on, or "" before Start.
func (p *Pipeline) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Shutdown stops accepting queries, drains in-flight requests and
// deliveries, then closes storage.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	p.started = false
	p.logger.Info("shutting down pipeline")

	var errs []error
	if err := p.server.Shutdown(ctx); err != nil {
		p.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	p.cancel()
	done := make(chan error, 1)
	go func() { done <- p.background.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		p.logger.Error("background loops did not stop before the shutdown deadline")
		errs = append(errs, ctx.Err())
	}

	if err := p.config.Close(); err != nil {
		p.logger.Error("failed to close config", slog.String("error", err.Error()))
	}
	if err := p.events.Close(); err != nil {
		p.logger.Error("failed to close events", slog.String("error", err.Error()))
	}
	if err := p.components.close(); err != nil {
		p.logger.Error("failed to close storage", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	p.logger.Info("pipeline shutdown complete")
	return errors.Join(errs...)
}

// onConfigChange swaps in the classifier for the new destinations. Queries
// already past classification keep their target; other sections need a
// restart.
func (p *Pipeline) onConfigChange(cfg *config.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	cl, err := classifier.FromConfig(cfg.Destinations)
	if err != nil {
		p.logger.Error("failed to reload classifier", slog.String("error", err.Error()))
		return
	}
	p.components.classifiers.Swap(cl)

	p.logger.Info("classifier reloaded",
		slog.Int("destinations", len(cfg.Destinations)),
		slog.Any("rules", cl.Rules()))
}
