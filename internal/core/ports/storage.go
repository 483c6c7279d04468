package ports

import (
	"context"
	"time"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
)

// ConversationStore persists conversation records.
// Implementations: SQLite (default), in-memory (tests).
type ConversationStore interface {
	// Create inserts a new record. Returns domain.ErrAlreadyExists on ID reuse.
	Create(ctx context.Context, rec *domain.ConversationRecord) error

	// Get retrieves a record by conversation ID. Returns domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.ConversationRecord, error)

	// Update atomically reads the record, applies fn to a copy and persists
	// the result. If fn returns an error nothing is written and the error is
	// returned unchanged.
	Update(ctx context.Context, id string, fn func(rec *domain.ConversationRecord) error) (*domain.ConversationRecord, error)

	// List returns records ordered by received time, newest first.
	List(ctx context.Context, opts ListOptions) ([]*domain.ConversationRecord, error)

	// Close closes the storage connection
	Close() error
}

// ListOptions contains options for listing
type ListOptions struct {
	State  domain.State
	Since  time.Time
	Limit  int
	Offset int
}

// DeliveryQueue is the at-least-once queue between classification and delivery.
type DeliveryQueue interface {
	// Enqueue adds a message. Enqueueing a delivery ID that is already
	// queued is a no-op.
	Enqueue(ctx context.Context, msg *domain.DeliveryMessage) error

	// Claim hides up to n visible messages for the visibility timeout and
	// returns them. A claimed message that is never acked reappears.
	Claim(ctx context.Context, n int) ([]*QueuedDelivery, error)

	// Ack removes a processed message.
	Ack(ctx context.Context, deliveryID string) error

	// Retry makes a claimed message visible again after delay.
	Retry(ctx context.Context, deliveryID string, delay time.Duration) error

	// DeadLetter moves a message to the dead-letter table.
	DeadLetter(ctx context.Context, deliveryID, reason string, attempts int) error

	// Len returns the number of queued messages, visible or not.
	Len(ctx context.Context) (int, error)
}

// QueuedDelivery is a claimed queue message.
type QueuedDelivery struct {
	Message domain.DeliveryMessage
	Claims  int
}

// DeadLetterStore exposes the dead-letter path for manual recovery.
type DeadLetterStore interface {
	ListDeadLetters(ctx context.Context, opts ListOptions) ([]*domain.DeadLetter, error)
	GetDeadLetter(ctx context.Context, deliveryID string) (*domain.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, deliveryID string) error
}

// ExportSink durably stores export documents. Writing the same key twice
// overwrites the previous document.
type ExportSink interface {
	Write(ctx context.Context, doc *domain.ExportDocument) (ref string, err error)
	Read(ctx context.Context, key string) (*domain.ExportDocument, error)
	Close() error
}
