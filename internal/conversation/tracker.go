// Package conversation owns the conversation lifecycle. Every state change of
// a ConversationRecord goes through the Tracker, which validates it against
// the lifecycle graph and appends it to the record's timeline.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
)

// Tracker is the state machine and audit record owner.
type Tracker struct {
	store  ports.ConversationStore
	events ports.EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithEvents sets the lifecycle event publisher.
func WithEvents(p ports.EventPublisher) Option {
	return func(t *Tracker) { t.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides the time source used for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker over store.
func NewTracker(store ports.ConversationStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		events: ports.NopPublisher{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open persists a new record in state RECEIVED.
func (t *Tracker) Open(ctx context.Context, rec *domain.ConversationRecord) error {
	now := t.clock()
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = now
	}
	rec.State = domain.StateReceived
	rec.Transitions = []domain.Transition{{To: domain.StateReceived, At: now}}
	rec.DeliveryAttempts = []domain.DeliveryAttempt{}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := t.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	t.publish(ctx, &domain.LifecycleEvent{
		Type:           domain.LifecycleEventTransition,
		ConversationID: rec.ID,
		Timestamp:      now,
		Data:           domain.LifecycleTransitionData{To: domain.StateReceived},
	})
	return nil
}

// Get returns the authoritative record.
func (t *Tracker) Get(ctx context.Context, id string) (*domain.ConversationRecord, error) {
	return t.store.Get(ctx, id)
}

// Timeline returns the recorded transitions of a conversation in order.
func (t *Tracker) Timeline(ctx context.Context, id string) ([]domain.Transition, error) {
	rec, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Transitions, nil
}

// List returns records matching opts.
func (t *Tracker) List(ctx context.Context, opts ports.ListOptions) ([]*domain.ConversationRecord, error) {
	return t.store.List(ctx, opts)
}

// RecordAgentResponse stores the agent's answer and moves to AGENT_INVOKED.
func (t *Tracker) RecordAgentResponse(ctx context.Context, id string, resp *domain.AgentResponse) (*domain.ConversationRecord, error) {
	return t.mutate(ctx, id, "record agent response", func(m *mutation) error {
		if m.rec.AgentResponse != nil {
			return fmt.Errorf("agent response for %s: %w", id, domain.ErrAlreadySet)
		}
		if err := m.advance(domain.StateAgentInvoked, ""); err != nil {
			return err
		}
		r := *resp
		m.rec.AgentResponse = &r
		return nil
	})
}

// RecordClassification sets the category and destination once and moves to
// RESPONSE_CLASSIFIED.
func (t *Tracker) RecordClassification(ctx context.Context, id string, result domain.ClassificationResult, targetURL string) (*domain.ConversationRecord, error) {
	return t.mutate(ctx, id, "record classification", func(m *mutation) error {
		if m.rec.Classification != "" {
			return fmt.Errorf("classification for %s: %w", id, domain.ErrAlreadySet)
		}
		if err := m.advance(domain.StateResponseClassified, result.Rule); err != nil {
			return err
		}
		m.rec.Classification = result.Category
		m.rec.ClassificationRule = result.Rule
		m.rec.LowConfidence = result.LowConfidence()
		m.rec.TargetURL = targetURL
		return nil
	})
}

// MarkQueued records that the delivery message was handed to the queue.
func (t *Tracker) MarkQueued(ctx context.Context, id string) (*domain.ConversationRecord, error) {
	return t.mutate(ctx, id, "mark queued", func(m *mutation) error {
		return m.advance(domain.StateQueued, "")
	})
}

// ReserveAttempt allocates the next attempt number for a delivery. It
// re-reads the authoritative state, so a duplicate queue message for a
// conversation that is already delivered gets ErrAlreadyDelivered and a
// failed one gets ErrTerminal. The first reservation moves QUEUED to
// DELIVERING.
func (t *Tracker) ReserveAttempt(ctx context.Context, id string, maxAttempts int) (int, error) {
	var attempt int
	_, err := t.mutate(ctx, id, "reserve attempt", func(m *mutation) error {
		if err := outcomeError(m.rec); err != nil {
			return err
		}
		if m.rec.State == domain.StateQueued {
			if err := m.advance(domain.StateDelivering, ""); err != nil {
				return err
			}
		} else if m.rec.State != domain.StateDelivering {
			return &domain.TransitionError{ConversationID: id, From: m.rec.State, To: domain.StateDelivering}
		}
		if m.rec.AttemptsReserved >= maxAttempts {
			return fmt.Errorf("reserve attempt for %s (%d/%d): %w", id, m.rec.AttemptsReserved, maxAttempts, domain.ErrAttemptsExhausted)
		}
		m.rec.AttemptsReserved++
		attempt = m.rec.AttemptsReserved
		return nil
	})
	if err != nil {
		return 0, err
	}
	return attempt, nil
}

// RecordAttempt appends a delivery attempt. A successful attempt moves the
// record to DELIVERED. Results arriving after the record reached an outcome
// are dropped with ErrAlreadyDelivered or ErrTerminal.
func (t *Tracker) RecordAttempt(ctx context.Context, id string, attempt domain.DeliveryAttempt) (*domain.ConversationRecord, error) {
	rec, err := t.mutate(ctx, id, "record attempt", func(m *mutation) error {
		if err := outcomeError(m.rec); err != nil {
			return err
		}
		if m.rec.State != domain.StateDelivering {
			return &domain.TransitionError{ConversationID: id, From: m.rec.State, To: domain.StateDelivering}
		}
		if attempt.AttemptNumber < 1 || attempt.AttemptNumber > m.rec.AttemptsReserved {
			return fmt.Errorf("attempt %d for %s was never reserved", attempt.AttemptNumber, id)
		}
		if !m.rec.AddAttempt(attempt) {
			return fmt.Errorf("attempt %d for %s: %w", attempt.AttemptNumber, id, domain.ErrAlreadySet)
		}
		if attempt.Succeeded() {
			if err := m.advance(domain.StateDelivered, fmt.Sprintf("attempt %d returned %d", attempt.AttemptNumber, *attempt.HTTPStatus)); err != nil {
				return err
			}
			completed := m.now
			m.rec.CompletedAt = &completed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.publish(ctx, &domain.LifecycleEvent{
		Type:           domain.LifecycleEventAttempt,
		ConversationID: id,
		Timestamp:      attempt.SentAt,
		Data:           domain.LifecycleAttemptData{Attempt: attempt},
	})
	return rec, nil
}

// Fail moves a pre-outcome record to FAILED with reason.
func (t *Tracker) Fail(ctx context.Context, id, reason string) (*domain.ConversationRecord, error) {
	return t.mutate(ctx, id, "fail", func(m *mutation) error {
		if err := outcomeError(m.rec); err != nil {
			return err
		}
		if err := m.advance(domain.StateFailed, reason); err != nil {
			return err
		}
		completed := m.now
		m.rec.CompletedAt = &completed
		m.rec.FailureReason = reason
		return nil
	})
}

// MarkExported records the export reference and moves to EXPORTED. The
// record accepts no further changes afterwards.
func (t *Tracker) MarkExported(ctx context.Context, id, ref string) (*domain.ConversationRecord, error) {
	return t.mutate(ctx, id, "mark exported", func(m *mutation) error {
		if m.rec.State == domain.StateExported {
			return fmt.Errorf("export %s: %w", id, domain.ErrAlreadyExported)
		}
		if err := m.advance(domain.StateExported, ref); err != nil {
			return err
		}
		m.rec.ExportRef = ref
		return nil
	})
}

// outcomeError maps records that already reached an outcome to the benign
// sentinel a duplicate caller should see.
func outcomeError(rec *domain.ConversationRecord) error {
	switch rec.Outcome() {
	case domain.StateDelivered:
		return fmt.Errorf("conversation %s: %w", rec.ID, domain.ErrAlreadyDelivered)
	case domain.StateFailed:
		return fmt.Errorf("conversation %s: %w", rec.ID, domain.ErrTerminal)
	}
	return nil
}

// mutation carries the working copy of a record through one update.
type mutation struct {
	rec         *domain.ConversationRecord
	now         time.Time
	transitions []domain.Transition
}

func (m *mutation) advance(to domain.State, reason string) error {
	from := m.rec.State
	if !domain.CanTransition(from, to) {
		return &domain.TransitionError{ConversationID: m.rec.ID, From: from, To: to}
	}
	tr := domain.Transition{From: from, To: to, At: m.now, Reason: reason}
	m.rec.State = to
	m.rec.Transitions = append(m.rec.Transitions, tr)
	m.transitions = append(m.transitions, tr)
	return nil
}

func (t *Tracker) mutate(ctx context.Context, id, op string, fn func(*mutation) error) (*domain.ConversationRecord, error) {
	var m *mutation
	rec, err := t.store.Update(ctx, id, func(rec *domain.ConversationRecord) error {
		m = &mutation{rec: rec, now: t.clock()}
		if err := fn(m); err != nil {
			return err
		}
		rec.UpdatedAt = m.now
		return nil
	})
	if err != nil {
		var te *domain.TransitionError
		if errors.As(err, &te) {
			t.logger.Error("rejected invalid state transition",
				slog.String("conversation_id", id),
				slog.String("operation", op),
				slog.String("from", string(te.From)),
				slog.String("to", string(te.To)))
			t.publish(ctx, &domain.LifecycleEvent{
				Type:           domain.LifecycleEventInvalidMove,
				ConversationID: id,
				Timestamp:      t.clock(),
				Data:           domain.LifecycleTransitionData{From: te.From, To: te.To},
			})
		}
		return nil, err
	}

	for _, tr := range m.transitions {
		t.publish(ctx, &domain.LifecycleEvent{
			Type:           domain.LifecycleEventTransition,
			ConversationID: id,
			Timestamp:      tr.At,
			Data: domain.LifecycleTransitionData{
				From:           tr.From,
				To:             tr.To,
				Reason:         tr.Reason,
				Classification: rec.Classification,
			},
		})
	}
	return rec, nil
}

func (t *Tracker) publish(ctx context.Context, evt *domain.LifecycleEvent) {
	if err := t.events.Publish(ctx, evt); err != nil {
		t.logger.Warn("failed to publish lifecycle event",
			slog.String("conversation_id", evt.ConversationID),
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()))
	}
}

func (t *Tracker) clock() time.Time {
	return t.now().UTC()
}
