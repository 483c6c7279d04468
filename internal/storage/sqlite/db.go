// Package sqlite provides SQLite-backed persistence for conversation records.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// pragmas run on every new database handle.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// Open opens a SQLite database through sqlx and applies the pipeline's pragmas.
// The pool is limited to one connection so read-modify-write transactions
// on the same file never interleave.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma %q: %w", stmt, err)
		}
	}

	return db, nil
}

// MemoryDSN returns a DSN for a named, shared-cache in-memory database.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}
