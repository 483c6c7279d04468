package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/agent/gemini"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/agent/httpagent"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/classifier"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/conversation"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/delivery"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/export"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pipeline"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pkg/config"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/queue"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/storage/memory"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/storage/sqlite"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/tokens"
)

// components is everything built from one configuration.
type components struct {
	db          *sqlx.DB
	store       ports.ConversationStore
	queue       *queue.Queue
	tracker     *conversation.Tracker
	sink        ports.ExportSink
	exporter    *export.Exporter
	classifiers *classifier.Holder
	service     *pipeline.Service
	worker      *delivery.Worker
}

func (p *Pipeline) build(ctx context.Context, cfg *config.Config) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	c.db, c.store, err = openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	c.queue, err = queue.New(ctx, c.db, queue.Options{
		Visibility: config.Duration(cfg.Delivery.Visibility, 60*time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("open delivery queue: %w", err)
	}

	c.tracker = conversation.NewTracker(c.store,
		conversation.WithLogger(p.logger),
		conversation.WithEvents(p.events))

	c.sink, err = export.NewSink(ctx, cfg.Export, c.db)
	if err != nil {
		return nil, fmt.Errorf("open export sink: %w", err)
	}
	counter := tokens.NewTiktokenCounter(cfg.Export.TokenEncoding)
	if cerr := counter.Err(); cerr != nil {
		p.logger.Warn("token encoding unavailable, estimating token counts",
			slog.String("encoding", counter.Encoding()),
			slog.String("error", cerr.Error()))
	}
	c.exporter = export.New(c.tracker, c.sink, counter, p.logger)

	cl, err := classifier.FromConfig(cfg.Destinations)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	c.classifiers = classifier.NewHolder(cl)

	agent := p.agent
	if agent == nil {
		agent, err = buildAgent(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("build agent: %w", err)
		}
	}

	c.service = pipeline.New(c.tracker, agent, c.classifiers, c.queue,
		pipeline.WithAgentTimeout(config.Duration(cfg.Agent.Timeout, pipeline.DefaultAgentTimeout)),
		pipeline.WithExporter(c.exporter),
		pipeline.WithLogger(p.logger))

	sender := delivery.NewWebhookSender(delivery.WebhookSenderConfig{
		Timeout:      config.Duration(cfg.Delivery.RequestTimeout, 15*time.Second),
		BlockPrivate: cfg.Delivery.BlockPrivateTargets,
	})
	c.worker = delivery.NewWorker(delivery.ConfigFrom(cfg.Delivery), c.queue, c.tracker, sender,
		delivery.WithExporter(c.exporter),
		delivery.WithEvents(p.events),
		delivery.WithLogger(p.logger))

	return c, nil
}

// close releases storage. The queue and sqlite store share db, so it goes last.
func (c *components) close() error {
	var errs []error
	if c.sink != nil {
		errs = append(errs, c.sink.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}

// openStorage opens the database shared by the queue and the sql export
// sink, and the conversation store selected by cfg.Type. The memory store
// still needs a database for the queue, so it gets a private in-memory one.
func openStorage(cfg config.StorageConfig) (*sqlx.DB, ports.ConversationStore, error) {
	switch cfg.Type {
	case "memory":
		db, err := sqlite.Open(sqlite.MemoryDSN("revops-" + uuid.NewString()))
		if err != nil {
			return nil, nil, err
		}
		return db, memory.New(), nil

	case "", "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		store, err := sqlite.NewWithDB(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, store, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func buildAgent(ctx context.Context, cfg *config.Config) (ports.Agent, error) {
	switch cfg.Agent.Type {
	case "", "http":
		if cfg.Agent.URL == "" {
			return nil, errors.New("agent.url is required for the http agent")
		}
		return httpagent.New(cfg.Agent.URL,
			httpagent.WithAPIKey(cfg.Agent.APIKey),
			httpagent.WithHeaders(cfg.Agent.Headers)), nil

	case "gemini":
		categories := make([]string, 0, len(cfg.Destinations))
		for _, d := range cfg.Destinations {
			categories = append(categories, d.Category)
		}
		return gemini.New(ctx, gemini.Config{
			APIKey:     cfg.Agent.APIKey,
			Model:      cfg.Agent.Model,
			BaseURL:    cfg.Agent.URL,
			Categories: categories,
		})

	default:
		return nil, fmt.Errorf("unknown agent type %q", cfg.Agent.Type)
	}
}
