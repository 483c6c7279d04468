// Package pipeline runs the synchronous half of a query's life: it opens the
// conversation record, calls the reasoning agent, classifies the answer and
// hands the rendered payload to the delivery queue. Delivery itself happens
// asynchronously in the delivery worker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/classifier"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/render"
)

const instrumentationName = "github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pipeline"

// DefaultAgentTimeout bounds one agent call when no timeout is configured.
const DefaultAgentTimeout = 45 * time.Second

// Tracker is the part of the conversation tracker used during ingestion.
type Tracker interface {
	Open(ctx context.Context, rec *domain.ConversationRecord) error
	RecordAgentResponse(ctx context.Context, id string, resp *domain.AgentResponse) (*domain.ConversationRecord, error)
	RecordClassification(ctx context.Context, id string, result domain.ClassificationResult, targetURL string) (*domain.ConversationRecord, error)
	MarkQueued(ctx context.Context, id string) (*domain.ConversationRecord, error)
	Fail(ctx context.Context, id, reason string) (*domain.ConversationRecord, error)
}

// Query is a validated inbound request.
type Query struct {
	SourceSystem  string
	SourceProcess string
	Text          string
	RequestedAt   time.Time
}

// Result describes an ingested query. It is returned alongside an error when
// the conversation was opened but could not be queued, so callers can still
// report the conversation ID.
type Result struct {
	ConversationID string
	WebhookType    domain.Category
	LowConfidence  bool
	ProcessingTime time.Duration
}

// Service is the ingestion orchestrator.
type Service struct {
	tracker      Tracker
	agent        ports.Agent
	classifiers  *classifier.Holder
	renderer     *render.Renderer
	queue        ports.DeliveryQueue
	exporter     ports.Exporter
	agentTimeout time.Duration
	newID        func() (string, error)
	now          func() time.Time
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithAgentTimeout bounds each agent call.
func WithAgentTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.agentTimeout = d
		}
	}
}

// WithExporter exports conversations that fail during ingestion.
func WithExporter(e ports.Exporter) Option {
	return func(s *Service) { s.exporter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithIDGenerator replaces UUIDv7 conversation IDs.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Service) { s.newID = fn }
}

// WithClock overrides the time source for enqueue timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates an ingestion service.
func New(tracker Tracker, agent ports.Agent, classifiers *classifier.Holder, queue ports.DeliveryQueue, opts ...Option) *Service {
	s := &Service{
		tracker:      tracker,
		agent:        agent,
		classifiers:  classifiers,
		renderer:     render.New(),
		queue:        queue,
		agentTimeout: DefaultAgentTimeout,
		newID:        newConversationID,
		now:          time.Now,
		logger:       slog.Default(),
		tracer:       otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newConversationID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Ingest opens a conversation for q, invokes the agent, classifies the
// answer and enqueues it for delivery. It does not wait for delivery.
//
// The agent call runs on a context detached from ctx so a disconnecting
// client cannot abandon a conversation half way. Errors are *domain.APIError
// values; when the conversation was opened the returned Result carries its ID.
func (s *Service) Ingest(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()

	id, err := s.newID()
	if err != nil {
		return nil, domain.ErrServer("failed to allocate conversation id")
	}

	ctx, span := s.tracer.Start(ctx, "pipeline.ingest", trace.WithAttributes(
		attribute.String("conversation_id", id),
		attribute.String("source_system", q.SourceSystem),
	))
	defer span.End()

	logger := s.logger.With(slog.String("conversation_id", id))
	res := &Result{ConversationID: id}

	rec := &domain.ConversationRecord{
		ID:            id,
		SourceSystem:  q.SourceSystem,
		SourceProcess: q.SourceProcess,
		QueryText:     q.Text,
		RequestedAt:   q.RequestedAt.UTC(),
	}
	if err := s.tracker.Open(ctx, rec); err != nil {
		span.RecordError(err)
		logger.Error("failed to open conversation", slog.String("error", err.Error()))
		return nil, domain.ErrServer("failed to record conversation")
	}

	// Past this point the conversation must reach an outcome, so the rest of
	// the work ignores client cancellation.
	work := context.WithoutCancel(ctx)

	resp, err := s.invokeAgent(work, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent failed")
		apiErr := domain.ErrUpstream("reasoning agent failed: " + err.Error())
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			apiErr = domain.ErrUpstream("reasoning agent timed out").WithCode(domain.ErrorCodeAgentTimeout)
		case errors.Is(err, domain.ErrEmptyResponse):
			apiErr.WithCode(domain.ErrorCodeAgentEmpty)
		}
		s.abort(work, logger, id, fmt.Sprintf("agent invocation failed: %v", err))
		res.ProcessingTime = time.Since(start)
		return res, apiErr
	}
	if _, err := s.tracker.RecordAgentResponse(work, id, resp); err != nil {
		return s.internalFailure(work, span, logger, res, start, "record agent response", err)
	}

	cl := s.classifiers.Current()
	result := cl.Classify(resp)
	res.WebhookType = result.Category
	res.LowConfidence = result.LowConfidence()
	span.SetAttributes(
		attribute.String("webhook_type", string(result.Category)),
		attribute.String("rule", result.Rule))

	target, ok := cl.TargetURL(result.Category)
	if !ok {
		return s.internalFailure(work, span, logger, res, start, "classify",
			fmt.Errorf("no destination configured for %s", result.Category))
	}
	if _, err := s.tracker.RecordClassification(work, id, result, target); err != nil {
		return s.internalFailure(work, span, logger, res, start, "record classification", err)
	}

	msg := &domain.DeliveryMessage{
		ConversationID: id,
		DeliveryID:     domain.DeliveryIDFor(id),
		TargetURL:      target,
		Payload:        s.renderer.Payload(result.Category, resp),
		EnqueuedAt:     s.now().UTC(),
	}
	if _, err := s.tracker.MarkQueued(work, id); err != nil {
		return s.internalFailure(work, span, logger, res, start, "mark queued", err)
	}
	if err := s.queue.Enqueue(work, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		s.abort(work, logger, id, fmt.Sprintf("enqueue failed: %v", err))
		res.ProcessingTime = time.Since(start)
		return res, domain.ErrOverloaded("delivery queue unavailable, retry later")
	}

	res.ProcessingTime = time.Since(start)
	logger.Info("query queued for delivery",
		slog.String("webhook_type", string(result.Category)),
		slog.String("rule", result.Rule),
		slog.Bool("low_confidence", res.LowConfidence),
		slog.Duration("processing_time", res.ProcessingTime))
	return res, nil
}

func (s *Service) invokeAgent(ctx context.Context, rec *domain.ConversationRecord) (*domain.AgentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.agentTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "pipeline.agent")
	defer span.End()

	resp, err := s.agent.Invoke(ctx, &ports.AgentRequest{
		ConversationID: rec.ID,
		Query:          rec.QueryText,
		SourceSystem:   rec.SourceSystem,
		SourceProcess:  rec.SourceProcess,
	})
	if err != nil {
		// Some clients surface a deadline as a plain transport error.
		if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		span.RecordError(err)
		return nil, err
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, domain.ErrEmptyResponse
	}
	return resp, nil
}

func (s *Service) internalFailure(ctx context.Context, span trace.Span, logger *slog.Logger, res *Result, start time.Time, step string, err error) (*Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, step)
	logger.Error("ingestion step failed", slog.String("step", step), slog.String("error", err.Error()))
	s.abort(ctx, logger, res.ConversationID, fmt.Sprintf("%s: %v", step, err))
	res.ProcessingTime = time.Since(start)
	return res, domain.ErrServer("failed to process query")
}

// abort moves the conversation to FAILED and exports it.
func (s *Service) abort(ctx context.Context, logger *slog.Logger, id, reason string) {
	logger.Warn("conversation failed during ingestion", slog.String("reason", reason))
	if _, err := s.tracker.Fail(ctx, id, reason); err != nil {
		logger.Error("failed to mark conversation failed", slog.String("error", err.Error()))
		return
	}
	if s.exporter == nil {
		return
	}
	if _, err := s.exporter.Export(ctx, id); err != nil {
		// The sweeper picks the record up later.
		logger.Warn("export failed", slog.String("error", err.Error()))
	}
}
