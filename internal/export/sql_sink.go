package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pkg/config"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/storage/sqlite"
)

// SQLSink stores exports in the conversation_exports table.
type SQLSink struct {
	db     *sqlx.DB
	ownsDB bool
}

var _ ports.ExportSink = (*SQLSink)(nil)

// NewSQLSink creates the table on db if needed.
func NewSQLSink(ctx context.Context, db *sqlx.DB) (*SQLSink, error) {
	_, err := sqlite.Exec(ctx, db, `CREATE TABLE IF NOT EXISTS conversation_exports (
		conversation_id TEXT PRIMARY KEY,
		export_key      TEXT NOT NULL UNIQUE,
		outcome         TEXT NOT NULL,
		classification  TEXT NOT NULL DEFAULT '',
		received_at     TEXT NOT NULL,
		record          TEXT NOT NULL,
		summary         TEXT NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize export schema: %w", err)
	}
	return &SQLSink{db: db}, nil
}

func (s *SQLSink) Write(ctx context.Context, doc *domain.ExportDocument) (string, error) {
	record, err := encode(doc.Record)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	summary, err := encode(doc.Summary)
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}

	_, err = sqlite.Exec(ctx, s.db, `
		INSERT INTO conversation_exports (conversation_id, export_key, outcome, classification, received_at, record, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			export_key = excluded.export_key,
			outcome = excluded.outcome,
			classification = excluded.classification,
			received_at = excluded.received_at,
			record = excluded.record,
			summary = excluded.summary`,
		doc.Record.ID, doc.Key, string(doc.Summary.Outcome), string(doc.Summary.Classification),
		doc.Record.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"), string(record), string(summary),
	)
	if err != nil {
		return "", err
	}
	return doc.Key, nil
}

func (s *SQLSink) Read(ctx context.Context, key string) (*domain.ExportDocument, error) {
	var row struct {
		Record  string `db:"record"`
		Summary string `db:"summary"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT record, summary FROM conversation_exports WHERE export_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	doc := &domain.ExportDocument{Key: key}
	if err := json.Unmarshal([]byte(row.Record), &doc.Record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Summary), &doc.Summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return doc, nil
}

// Close closes the database only when the sink opened it.
func (s *SQLSink) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// NewSink builds the sink named by cfg.Sink. The sqlite sink writes to
// cfg.DSN when set and otherwise shares db.
func NewSink(ctx context.Context, cfg config.ExportConfig, db *sqlx.DB) (ports.ExportSink, error) {
	switch cfg.Sink {
	case "", "file":
		return NewFileSink(cfg.Dir)
	case "sqlite", "sql":
		if cfg.DSN == "" {
			if db == nil {
				return nil, fmt.Errorf("export sink %q needs export.dsn or a sqlite store", cfg.Sink)
			}
			return NewSQLSink(ctx, db)
		}
		own, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		sink, err := NewSQLSink(ctx, own)
		if err != nil {
			own.Close()
			return nil, err
		}
		sink.ownsDB = true
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown export sink %q", cfg.Sink)
	}
}
