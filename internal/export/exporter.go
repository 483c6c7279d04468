// Package export writes finished conversations to durable storage and marks
// them EXPORTED.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/tokens"
)

// Tracker is the part of the conversation tracker the exporter needs.
type Tracker interface {
	Get(ctx context.Context, id string) (*domain.ConversationRecord, error)
	List(ctx context.Context, opts ports.ListOptions) ([]*domain.ConversationRecord, error)
	MarkExported(ctx context.Context, id, ref string) (*domain.ConversationRecord, error)
}

// Exporter implements ports.Exporter.
type Exporter struct {
	tracker Tracker
	sink    ports.ExportSink
	counter tokens.Counter
	logger  *slog.Logger
}

var _ ports.Exporter = (*Exporter)(nil)

// New creates an exporter. A nil counter leaves token counts at zero.
func New(tracker Tracker, sink ports.ExportSink, counter tokens.Counter, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		tracker: tracker,
		sink:    sink,
		counter: counter,
		logger:  logger.With(slog.String("component", "export")),
	}
}

// Export writes the conversation's document to the sink and marks it
// EXPORTED. Exporting an already exported conversation rewrites the same
// document and returns its key.
func (e *Exporter) Export(ctx context.Context, id string) (string, error) {
	rec, err := e.tracker.Get(ctx, id)
	if err != nil {
		return "", err
	}
	doc, err := BuildDocument(rec, e.counter)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", id, err)
	}

	ref, err := e.sink.Write(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("export %s: write: %w", id, err)
	}
	if rec.State == domain.StateExported {
		return ref, nil
	}

	if _, err := e.tracker.MarkExported(ctx, id, ref); err != nil {
		if errors.Is(err, domain.ErrAlreadyExported) {
			return ref, nil
		}
		return "", fmt.Errorf("export %s: %w", id, err)
	}
	e.logger.Info("conversation exported",
		slog.String("conversation_id", id),
		slog.String("outcome", string(doc.Summary.Outcome)),
		slog.String("ref", ref))
	return ref, nil
}

// Sweep exports every conversation that reached an outcome but was never
// exported. It returns how many were exported.
func (e *Exporter) Sweep(ctx context.Context) (int, error) {
	exported := 0
	var errs []error
	for _, state := range []domain.State{domain.StateDelivered, domain.StateFailed} {
		recs, err := e.tracker.List(ctx, ports.ListOptions{State: state, Limit: 500})
		if err != nil {
			return exported, fmt.Errorf("sweep list %s: %w", state, err)
		}
		for _, rec := range recs {
			if _, err := e.Export(ctx, rec.ID); err != nil {
				e.logger.Warn("sweep export failed",
					slog.String("conversation_id", rec.ID),
					slog.String("error", err.Error()))
				errs = append(errs, err)
				continue
			}
			exported++
		}
	}
	return exported, errors.Join(errs...)
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (e *Exporter) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	e.logger.Info("export sweeper started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("export sweeper stopped")
			return nil
		case <-ticker.C:
			n, err := e.Sweep(ctx)
			if n > 0 || err != nil {
				e.logger.Info("export sweep finished", slog.Int("exported", n), slog.Bool("errors", err != nil))
			}
		}
	}
}
