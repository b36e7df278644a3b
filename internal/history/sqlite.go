package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS call_history (
    id          TEXT PRIMARY KEY,
    caller      TEXT NOT NULL,
    recipient   TEXT NOT NULL,
    kind        TEXT NOT NULL,
    duration_s  INTEGER NOT NULL,
    started_at  TIMESTAMP NOT NULL,
    outcome     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS call_history_caller_idx ON call_history (caller);
CREATE INDEX IF NOT EXISTS call_history_recipient_idx ON call_history (recipient);
`

// SQLiteStore persists records in a local SQLite file via the pure-Go
// modernc driver, the default durable backend for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	// The driver is in-process; a single connection avoids SQLITE_BUSY on
	// concurrent appends.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec Record) (Record, error) {
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO call_history (id, caller, recipient, kind, duration_s, started_at, outcome)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Caller, rec.Recipient, string(rec.Kind),
		rec.DurationSeconds, rec.StartedAt, string(rec.Outcome),
	)
	if err != nil {
		return Record{}, fmt.Errorf("history: insert: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListFor(ctx context.Context, identity string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, caller, recipient, kind, duration_s, started_at, outcome
        FROM call_history
        WHERE caller = ? OR recipient = ?
        ORDER BY started_at DESC`,
		identity, identity,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
