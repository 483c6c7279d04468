package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
)

// Store is a SQLite implementation of ports.ConversationStore.
type Store struct {
	db     *sqlx.DB
	ownsDB bool
}

var _ ports.ConversationStore = (*Store)(nil)

// conversationRow mirrors the conversations table. The full record lives in
// the record column; the other columns exist for filtering and ordering.
type conversationRow struct {
	ID             string `db:"id"`
	State          string `db:"state"`
	Classification string `db:"classification"`
	SourceSystem   string `db:"source_system"`
	ReceivedAt     string `db:"received_at"`
	UpdatedAt      string `db:"updated_at"`
	Record         string `db:"record"`
}

// New opens dsn and creates a store that owns the database handle.
func New(dsn string) (*Store, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	store, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewWithDB creates a store on an existing handle. Close does not close db.
func NewWithDB(db *sqlx.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// DB returns the underlying sqlx.DB so the queue and export sink can share it.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			classification TEXT NOT NULL DEFAULT '',
			source_system TEXT NOT NULL,
			received_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			record TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_state ON conversations(state, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_received ON conversations(received_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts a new conversation record.
func (s *Store) Create(ctx context.Context, rec *domain.ConversationRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}

	_, err = Exec(ctx, s.db, `
		INSERT INTO conversations (id, state, classification, source_system, received_at, updated_at, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.State, row.Classification, row.SourceSystem, row.ReceivedAt, row.UpdatedAt, row.Record,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create %s: %w", rec.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// Get retrieves a conversation record by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.ConversationRecord, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM conversations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return fromRow(&row)
}

// Update applies fn to the record inside one transaction.
func (s *Store) Update(ctx context.Context, id string, fn func(*domain.ConversationRecord) error) (*domain.ConversationRecord, error) {
	var updated *domain.ConversationRecord

	err := RunTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var row conversationRow
		err := tx.GetContext(ctx, &row, `SELECT * FROM conversations WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load conversation: %w", err)
		}

		rec, err := fromRow(&row)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}

		next, err := toRow(rec)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE conversations
			SET state = ?, classification = ?, updated_at = ?, record = ?
			WHERE id = ?`,
			next.State, next.Classification, next.UpdatedAt, next.Record, id,
		)
		if err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}

		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List returns conversations newest first, optionally filtered by state.
func (s *Store) List(ctx context.Context, opts ports.ListOptions) ([]*domain.ConversationRecord, error) {
	query := `SELECT * FROM conversations WHERE 1=1`
	var args []interface{}

	if opts.State != "" {
		query += ` AND state = ?`
		args = append(args, string(opts.State))
	}
	if !opts.Since.IsZero() {
		query += ` AND received_at >= ?`
		args = append(args, formatTime(opts.Since))
	}
	query += ` ORDER BY received_at DESC, id DESC`

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	var rows []conversationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	out := make([]*domain.ConversationRecord, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func toRow(rec *domain.ConversationRecord) (*conversationRow, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return &conversationRow{
		ID:             rec.ID,
		State:          string(rec.State),
		Classification: string(rec.Classification),
		SourceSystem:   rec.SourceSystem,
		ReceivedAt:     formatTime(rec.ReceivedAt),
		UpdatedAt:      formatTime(rec.UpdatedAt),
		Record:         string(body),
	}, nil
}

func fromRow(row *conversationRow) (*domain.ConversationRecord, error) {
	var rec domain.ConversationRecord
	if err := json.Unmarshal([]byte(row.Record), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation %s: %w", row.ID, err)
	}
	return &rec, nil
}

// formatTime renders t in a fixed-width UTC form so text ordering matches time ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
