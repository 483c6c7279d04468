// Package queue implements the delivery queue on SQLite.
//
// Claimed messages stay invisible for the visibility timeout. A consumer that
// handles a message acks it, schedules it again with Retry, or parks it with
// DeadLetter. A consumer that crashes leaves the message to reappear once its
// visibility expires, so delivery is at-least-once.
//
// Schema (created by New):
//
//	delivery_queue(delivery_id PK, conversation_id, target_url, payload,
//	               visible_at, created_at, claims)
//	delivery_dead_letters(delivery_id PK, conversation_id, target_url, payload,
//	                      reason, attempts, created_at, resolved_at)
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/storage/sqlite"
)

// Options configures queue behaviour.
type Options struct {
	// Visibility is how long a claimed message stays invisible. Default: 60s.
	Visibility time.Duration
	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 60 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Queue is a SQLite implementation of ports.DeliveryQueue and
// ports.DeadLetterStore.
type Queue struct {
	db   *sqlx.DB
	opts Options
}

var (
	_ ports.DeliveryQueue   = (*Queue)(nil)
	_ ports.DeadLetterStore = (*Queue)(nil)
)

// New creates a queue on db and ensures its tables exist.
func New(ctx context.Context, db *sqlx.DB, opts Options) (*Queue, error) {
	opts.defaults()
	q := &Queue{db: db, opts: opts}
	if err := q.ensureTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return q, nil
}

func (q *Queue) ensureTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS delivery_queue (
			delivery_id     TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			target_url      TEXT NOT NULL,
			payload         BLOB NOT NULL,
			visible_at      INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL,
			claims          INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_queue_visible ON delivery_queue(visible_at)`,
		`CREATE TABLE IF NOT EXISTS delivery_dead_letters (
			delivery_id     TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			target_url      TEXT NOT NULL,
			payload         BLOB NOT NULL,
			reason          TEXT NOT NULL,
			attempts        INTEGER NOT NULL,
			created_at      INTEGER NOT NULL,
			resolved_at     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_created ON delivery_dead_letters(created_at)`,
	}
	for _, stmt := range statements {
		if _, err := sqlite.Exec(ctx, q.db, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue inserts msg, immediately visible. A delivery ID that is already
// queued is left untouched.
func (q *Queue) Enqueue(ctx context.Context, msg *domain.DeliveryMessage) error {
	if msg.DeliveryID == "" {
		return fmt.Errorf("enqueue: empty delivery id")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("enqueue: marshal message: %w", err)
	}
	now := q.opts.Now().UnixMilli()
	_, err = sqlite.Exec(ctx, q.db,
		`INSERT OR IGNORE INTO delivery_queue (delivery_id, conversation_id, target_url, payload, visible_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.DeliveryID, msg.ConversationID, msg.TargetURL, payload, now, now,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

type queueRow struct {
	DeliveryID string `db:"delivery_id"`
	Payload    []byte `db:"payload"`
	Claims     int    `db:"claims"`
}

// Claim atomically hides up to n visible messages for the visibility timeout
// and returns them oldest first. It returns an empty slice when nothing is
// visible.
func (q *Queue) Claim(ctx context.Context, n int) ([]*ports.QueuedDelivery, error) {
	if n <= 0 {
		return []*ports.QueuedDelivery{}, nil
	}
	now := q.opts.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	var rows []queueRow
	err := sqlite.RunTx(ctx, q.db, func(tx *sqlx.Tx) error {
		rows = rows[:0]
		return tx.SelectContext(ctx, &rows, `
			UPDATE delivery_queue
			SET visible_at = ?, claims = claims + 1
			WHERE delivery_id IN (
				SELECT delivery_id FROM delivery_queue
				WHERE visible_at <= ?
				ORDER BY visible_at ASC, created_at ASC
				LIMIT ?
			)
			RETURNING delivery_id, payload, claims`,
			hideUntil, now.UnixMilli(), n,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}

	out := make([]*ports.QueuedDelivery, 0, len(rows))
	for _, r := range rows {
		var msg domain.DeliveryMessage
		if err := json.Unmarshal(r.Payload, &msg); err != nil {
			return nil, fmt.Errorf("claim: decode %s: %w", r.DeliveryID, err)
		}
		out = append(out, &ports.QueuedDelivery{Message: msg, Claims: r.Claims})
	}
	// RETURNING order is unspecified.
	slices.SortStableFunc(out, func(a, b *ports.QueuedDelivery) int {
		if c := a.Message.EnqueuedAt.Compare(b.Message.EnqueuedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Message.DeliveryID, b.Message.DeliveryID)
	})
	return out, nil
}

// Ack deletes a processed message.
func (q *Queue) Ack(ctx context.Context, deliveryID string) error {
	_, err := sqlite.Exec(ctx, q.db, `DELETE FROM delivery_queue WHERE delivery_id = ?`, deliveryID)
	return err
}

// Retry makes a claimed message visible again after delay.
func (q *Queue) Retry(ctx context.Context, deliveryID string, delay time.Duration) error {
	visibleAt := q.opts.Now().Add(delay).UnixMilli()
	res, err := sqlite.Exec(ctx, q.db,
		`UPDATE delivery_queue SET visible_at = ? WHERE delivery_id = ?`, visibleAt, deliveryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeadLetter moves a message from the queue to the dead-letter table in one
// transaction. Dead-lettering a message that is no longer queued returns
// domain.ErrNotFound.
func (q *Queue) DeadLetter(ctx context.Context, deliveryID, reason string, attempts int) error {
	now := q.opts.Now().UnixMilli()
	return sqlite.RunTx(ctx, q.db, func(tx *sqlx.Tx) error {
		var row struct {
			ConversationID string `db:"conversation_id"`
			TargetURL      string `db:"target_url"`
			Payload        []byte `db:"payload"`
		}
		err := tx.GetContext(ctx, &row,
			`SELECT conversation_id, target_url, payload FROM delivery_queue WHERE delivery_id = ?`, deliveryID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO delivery_dead_letters
			 (delivery_id, conversation_id, target_url, payload, reason, attempts, created_at, resolved_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
			deliveryID, row.ConversationID, row.TargetURL, row.Payload, reason, attempts, now,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM delivery_queue WHERE delivery_id = ?`, deliveryID)
		return err
	})
}

// Len returns the number of queued messages, visible or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM delivery_queue`)
	return n, err
}

type deadLetterRow struct {
	DeliveryID     string        `db:"delivery_id"`
	ConversationID string        `db:"conversation_id"`
	TargetURL      string        `db:"target_url"`
	Payload        []byte        `db:"payload"`
	Reason         string        `db:"reason"`
	Attempts       int           `db:"attempts"`
	CreatedAt      int64         `db:"created_at"`
	ResolvedAt     sql.NullInt64 `db:"resolved_at"`
}

func (r *deadLetterRow) toDomain() (*domain.DeadLetter, error) {
	dl := &domain.DeadLetter{
		DeliveryID:     r.DeliveryID,
		ConversationID: r.ConversationID,
		TargetURL:      r.TargetURL,
		Reason:         r.Reason,
		Attempts:       r.Attempts,
		CreatedAt:      time.UnixMilli(r.CreatedAt).UTC(),
	}
	if err := json.Unmarshal(r.Payload, &dl.Message); err != nil {
		return nil, fmt.Errorf("decode dead letter %s: %w", r.DeliveryID, err)
	}
	if r.ResolvedAt.Valid {
		t := time.UnixMilli(r.ResolvedAt.Int64).UTC()
		dl.ResolvedAt = &t
	}
	return dl, nil
}

// ListDeadLetters returns unresolved dead letters, newest first.
func (q *Queue) ListDeadLetters(ctx context.Context, opts ports.ListOptions) ([]*domain.DeadLetter, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM delivery_dead_letters WHERE resolved_at IS NULL`
	args := []any{}
	if !opts.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, opts.Since.UnixMilli())
	}
	query += ` ORDER BY created_at DESC, delivery_id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	var rows []deadLetterRow
	if err := q.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]*domain.DeadLetter, 0, len(rows))
	for i := range rows {
		dl, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, nil
}

// GetDeadLetter returns one dead letter, resolved or not.
func (q *Queue) GetDeadLetter(ctx context.Context, deliveryID string) (*domain.DeadLetter, error) {
	var row deadLetterRow
	err := q.db.GetContext(ctx, &row, `SELECT * FROM delivery_dead_letters WHERE delivery_id = ?`, deliveryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// ResolveDeadLetter marks a dead letter as handled. The row is kept for audit.
func (q *Queue) ResolveDeadLetter(ctx context.Context, deliveryID string) error {
	res, err := sqlite.Exec(ctx, q.db,
		`UPDATE delivery_dead_letters SET resolved_at = ? WHERE delivery_id = ? AND resolved_at IS NULL`,
		q.opts.Now().UnixMilli(), deliveryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := q.GetDeadLetter(ctx, deliveryID); err != nil {
			return err
		}
	}
	return nil
}
