package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS call_history (
    id          TEXT PRIMARY KEY,
    caller      TEXT NOT NULL,
    recipient   TEXT NOT NULL,
    kind        TEXT NOT NULL,
    duration_s  BIGINT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    outcome     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS call_history_caller_idx ON call_history (caller);
CREATE INDEX IF NOT EXISTS call_history_recipient_idx ON call_history (recipient);
`

// PostgresStore persists records in PostgreSQL, for deployments where the
// history must survive server restarts and be shared across nodes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) (Record, error) {
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
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.Caller, rec.Recipient, string(rec.Kind),
		rec.DurationSeconds, rec.StartedAt, string(rec.Outcome),
	)
	if err != nil {
		return Record{}, fmt.Errorf("history: insert: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListFor(ctx context.Context, identity string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, caller, recipient, kind, duration_s, started_at, outcome
        FROM call_history
        WHERE caller = $1 OR recipient = $1
        ORDER BY started_at DESC`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func scanRecords(rows *sql.Rows) ([]Record, error) {
	out := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var kind, outcome string
		if err := rows.Scan(&rec.ID, &rec.Caller, &rec.Recipient, &kind,
			&rec.DurationSeconds, &rec.StartedAt, &outcome); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		rec.Kind = Kind(kind)
		rec.Outcome = Outcome(outcome)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return out, nil
}
