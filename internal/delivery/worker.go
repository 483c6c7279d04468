// Package delivery drains the delivery queue: it POSTs payloads to their
// destination webhooks, retries failures with exponential backoff and parks
// exhausted messages in the dead-letter table.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pkg/config"
)

const instrumentationName = "github.com/GuyDuerFB/revops-ai-framework-sub002/internal/delivery"

// Tracker is the part of the conversation tracker the worker drives.
type Tracker interface {
	ReserveAttempt(ctx context.Context, id string, maxAttempts int) (int, error)
	RecordAttempt(ctx context.Context, id string, attempt domain.DeliveryAttempt) (*domain.ConversationRecord, error)
	Fail(ctx context.Context, id, reason string) (*domain.ConversationRecord, error)
}

// Config tunes the worker pool.
type Config struct {
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	Concurrency          int
	PerTargetConcurrency int
	BatchSize            int
	PollInterval         time.Duration
}

// ConfigFrom converts the delivery section of the pipeline config.
func ConfigFrom(c config.DeliveryConfig) Config {
	return Config{
		MaxAttempts:          c.MaxRetries,
		BaseDelay:            config.Duration(c.BaseDelay, time.Second),
		MaxDelay:             config.Duration(c.MaxDelay, 5*time.Minute),
		Concurrency:          c.Concurrency,
		PerTargetConcurrency: c.PerTargetConcurrency,
		BatchSize:            c.BatchSize,
		PollInterval:         config.Duration(c.PollInterval, 500*time.Millisecond),
	}
}

func (c *Config) defaults() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Minute
	}
	if c.Concurrency < 1 {
		c.Concurrency = 8
	}
	if c.PerTargetConcurrency < 1 {
		c.PerTargetConcurrency = 2
	}
	if c.BatchSize < 1 {
		c.BatchSize = 16
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
}

// Worker delivers queued messages.
type Worker struct {
	cfg      Config
	queue    ports.DeliveryQueue
	tracker  Tracker
	sender   ports.Sender
	exporter ports.Exporter
	events   ports.EventPublisher
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer
	metrics  workerMetrics

	inflight atomic.Int64

	mu       sync.Mutex
	limiters map[string]*semaphore.Weighted
}

// Option configures a Worker.
type Option func(*Worker)

// WithExporter exports conversations as soon as they reach an outcome.
func WithExporter(e ports.Exporter) Option {
	return func(w *Worker) { w.exporter = e }
}

func WithEvents(p ports.EventPublisher) Option {
	return func(w *Worker) { w.events = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// NewWorker creates a worker.
func NewWorker(cfg Config, queue ports.DeliveryQueue, tracker Tracker, sender ports.Sender, opts ...Option) *Worker {
	cfg.defaults()
	w := &Worker{
		cfg:      cfg,
		queue:    queue,
		tracker:  tracker,
		sender:   sender,
		events:   ports.NopPublisher{},
		logger:   slog.Default(),
		now:      time.Now,
		tracer:   otel.Tracer(instrumentationName),
		limiters: make(map[string]*semaphore.Weighted),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "delivery"))
	w.metrics = newWorkerMetrics(w.logger)
	return w
}

// Run polls the queue until ctx is cancelled, then waits for in-flight
// deliveries to finish. Deliveries already started are not cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("delivery worker started",
		slog.Int("concurrency", w.cfg.Concurrency),
		slog.Int("per_target_concurrency", w.cfg.PerTargetConcurrency),
		slog.Int("batch_size", w.cfg.BatchSize),
		slog.Int("max_attempts", w.cfg.MaxAttempts),
		slog.Duration("poll_interval", w.cfg.PollInterval))

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	handleCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("delivery worker stopping, draining in-flight deliveries",
				slog.Int64("in_flight", w.inflight.Load()))
			g.Wait()
			w.logger.Info("delivery worker stopped")
			return nil
		case <-ticker.C:
			w.poll(ctx, handleCtx, &g)
		}
	}
}

// poll claims as many messages as there are free slots, repeating while
// full batches come back.
func (w *Worker) poll(ctx, handleCtx context.Context, g *errgroup.Group) {
	for ctx.Err() == nil {
		n := min(w.cfg.BatchSize, w.cfg.Concurrency-int(w.inflight.Load()))
		if n <= 0 {
			return
		}
		batch, err := w.queue.Claim(ctx, n)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("claim failed", slog.String("error", err.Error()))
			}
			return
		}
		for _, d := range batch {
			w.inflight.Add(1)
			g.Go(func() error {
				defer w.inflight.Add(-1)
				if err := w.Handle(handleCtx, d); err != nil {
					w.logger.Error("delivery handling failed",
						slog.String("conversation_id", d.Message.ConversationID),
						slog.String("error", err.Error()))
				}
				return nil
			})
		}
		if len(batch) < n {
			return
		}
	}
}

// Handle performs one delivery attempt for a claimed message. Duplicate
// messages for conversations that already reached an outcome are acked
// without a new attempt. An error leaves the message to reappear after its
// visibility timeout.
func (w *Worker) Handle(ctx context.Context, d *ports.QueuedDelivery) error {
	msg := &d.Message
	id := msg.ConversationID

	ctx, span := w.tracer.Start(ctx, "delivery.handle", trace.WithAttributes(
		attribute.String("conversation_id", id),
		attribute.String("target_url", msg.TargetURL),
		attribute.Int("claims", d.Claims),
	))
	defer span.End()

	logger := w.logger.With(
		slog.String("conversation_id", id),
		slog.String("delivery_id", msg.DeliveryID),
		slog.String("webhook_type", string(msg.Payload.Header)))

	// The target slot is taken before an attempt number is reserved, so a
	// message waiting on a busy target past its visibility timeout is claimed
	// again without burning an attempt.
	lim := w.limiter(msg.TargetURL)
	if err := lim.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for target slot: %w", err)
	}
	defer lim.Release(1)

	attempt, err := w.tracker.ReserveAttempt(ctx, id, w.cfg.MaxAttempts)
	switch {
	case errors.Is(err, domain.ErrAlreadyDelivered), errors.Is(err, domain.ErrTerminal):
		logger.Debug("dropping duplicate delivery", slog.String("reason", err.Error()))
		return w.queue.Ack(ctx, msg.DeliveryID)
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("delivery for unknown conversation, discarding")
		return w.queue.Ack(ctx, msg.DeliveryID)
	case errors.Is(err, domain.ErrAttemptsExhausted):
		return w.exhaust(ctx, logger, msg, w.cfg.MaxAttempts, "attempt results lost")
	case err != nil:
		span.RecordError(err)
		return fmt.Errorf("reserve attempt: %w", err)
	}
	span.SetAttributes(attribute.Int("attempt", attempt))

	sentAt := w.now()
	res := w.sender.Send(ctx, msg, attempt)
	a := domain.DeliveryAttempt{
		AttemptNumber: attempt,
		TargetURL:     msg.TargetURL,
		SentAt:        sentAt.UTC(),
		LatencyMs:     res.Latency.Milliseconds(),
	}
	if res.StatusCode != 0 {
		status := res.StatusCode
		a.HTTPStatus = &status
	}
	if res.Err != nil {
		e := res.Err.Error()
		a.Error = &e
	}

	succeeded := a.Succeeded()
	var delay time.Duration
	if !succeeded && attempt < w.cfg.MaxAttempts {
		delay = Backoff(attempt, w.cfg.BaseDelay, w.cfg.MaxDelay)
		a.RetryDelayMs = delay.Milliseconds()
	}
	w.metrics.recordAttempt(ctx, succeeded, res.Latency)

	if _, err := w.tracker.RecordAttempt(ctx, id, a); err != nil {
		if errors.Is(err, domain.ErrAlreadyDelivered) || errors.Is(err, domain.ErrTerminal) {
			logger.Info("ignoring late attempt result", slog.Int("attempt", attempt))
			return w.queue.Ack(ctx, msg.DeliveryID)
		}
		span.RecordError(err)
		return fmt.Errorf("record attempt %d: %w", attempt, err)
	}

	switch {
	case succeeded:
		logger.Info("delivered",
			slog.Int("attempt", attempt),
			slog.Int("status", res.StatusCode),
			slog.Int64("latency_ms", a.LatencyMs))
		w.metrics.recordOutcome(ctx, domain.StateDelivered)
		if err := w.queue.Ack(ctx, msg.DeliveryID); err != nil {
			logger.Warn("ack failed", slog.String("error", err.Error()))
		}
		w.export(ctx, logger, id)
		return nil

	case attempt < w.cfg.MaxAttempts:
		logger.Info("delivery attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("status", res.StatusCode),
			slog.Duration("retry_in", delay),
			slog.String("error", attemptError(a)))
		return w.queue.Retry(ctx, msg.DeliveryID, delay)

	default:
		return w.exhaust(ctx, logger, msg, attempt, attemptError(a))
	}
}

func (w *Worker) limiter(target string) *semaphore.Weighted {
	w.mu.Lock()
	defer w.mu.Unlock()
	lim, ok := w.limiters[target]
	if !ok {
		lim = semaphore.NewWeighted(int64(w.cfg.PerTargetConcurrency))
		w.limiters[target] = lim
	}
	return lim
}

// exhaust fails the conversation, dead-letters its message and exports it.
func (w *Worker) exhaust(ctx context.Context, logger *slog.Logger, msg *domain.DeliveryMessage, attempts int, lastError string) error {
	id := msg.ConversationID
	reason := fmt.Sprintf("delivery failed after %d attempts: %s", attempts, lastError)

	if _, err := w.tracker.Fail(ctx, id, reason); err != nil {
		if errors.Is(err, domain.ErrAlreadyDelivered) || errors.Is(err, domain.ErrTerminal) {
			return w.queue.Ack(ctx, msg.DeliveryID)
		}
		return fmt.Errorf("fail conversation: %w", err)
	}
	if err := w.queue.DeadLetter(ctx, msg.DeliveryID, reason, attempts); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("dead-letter: %w", err)
	}

	w.metrics.recordOutcome(ctx, domain.StateFailed)
	logger.Warn("delivery attempts exhausted",
		slog.Int("attempts", attempts),
		slog.String("target_url", msg.TargetURL),
		slog.String("reason", reason))

	if err := w.events.Publish(ctx, &domain.LifecycleEvent{
		Type:           domain.LifecycleEventDeadLetter,
		ConversationID: id,
		Timestamp:      w.now().UTC(),
		Data: domain.LifecycleDeadLetterData{
			TargetURL: msg.TargetURL,
			Attempts:  attempts,
			Reason:    reason,
		},
	}); err != nil {
		logger.Warn("failed to publish lifecycle event", slog.String("error", err.Error()))
	}

	w.export(ctx, logger, id)
	return nil
}

func (w *Worker) export(ctx context.Context, logger *slog.Logger, id string) {
	if w.exporter == nil {
		return
	}
	ref, err := w.exporter.Export(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadyExported) {
			logger.Warn("export failed, leaving it to the sweeper", slog.String("error", err.Error()))
		}
		return
	}
	logger.Debug("exported", slog.String("ref", ref))
}

func attemptError(a domain.DeliveryAttempt) string {
	if a.Error != nil {
		return *a.Error
	}
	if a.HTTPStatus != nil {
		return fmt.Sprintf("HTTP %d", *a.HTTPStatus)
	}
	return "unknown error"
}

type workerMetrics struct {
	attempts metric.Int64Counter
	outcomes metric.Int64Counter
	latency  metric.Float64Histogram
}

func newWorkerMetrics(logger *slog.Logger) workerMetrics {
	meter := otel.Meter(instrumentationName)
	var m workerMetrics
	var err error
	if m.attempts, err = meter.Int64Counter("revops.delivery.attempts",
		metric.WithDescription("Webhook POST attempts by result")); err != nil {
		logger.Warn("failed to create metric", slog.String("error", err.Error()))
	}
	if m.outcomes, err = meter.Int64Counter("revops.delivery.outcomes",
		metric.WithDescription("Deliveries that reached an outcome")); err != nil {
		logger.Warn("failed to create metric", slog.String("error", err.Error()))
	}
	if m.latency, err = meter.Float64Histogram("revops.delivery.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Webhook POST latency")); err != nil {
		logger.Warn("failed to create metric", slog.String("error", err.Error()))
	}
	return m
}

func (m workerMetrics) recordAttempt(ctx context.Context, succeeded bool, latency time.Duration) {
	result := "failure"
	if succeeded {
		result = "success"
	}
	if m.attempts != nil {
		m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
	if m.latency != nil {
		m.latency.Record(ctx, float64(latency.Microseconds())/1000)
	}
}

func (m workerMetrics) recordOutcome(ctx context.Context, outcome domain.State) {
	if m.outcomes != nil {
		m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	}
}
