package eventsink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const outboxSchema = `
CREATE TABLE IF NOT EXISTS interaction_outbox (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL,
	session_key TEXT NOT NULL,
	context_key TEXT NOT NULL UNIQUE,
	enqueued_at TEXT NOT NULL,
	status TEXT NOT NULL
);
`

// enqueuedAtLayout is fixed-width so rows sort by enqueued_at as text.
const enqueuedAtLayout = "2006-01-02T15:04:05.000000000Z"

// Outbox statuses.
const (
	StatusPending = "PENDING"
	StatusDone    = "DONE"
)

// OutboxSink writes events to an interaction_outbox table that the pipeline
// drains. It works against Postgres (lib/pq) and SQLite (modernc.org/sqlite).
//
// The context key is unique, so a platform redelivering the same click lands
// on the existing row instead of producing a second event.
type OutboxSink struct {
	db  *sql.DB
	now func() time.Time
}

// NewOutboxSink wraps db. Call Init before first use.
func NewOutboxSink(db *sql.DB) *OutboxSink {
	return &OutboxSink{db: db, now: time.Now}
}

// Init creates the outbox table if needed.
func (s *OutboxSink) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, outboxSchema); err != nil {
		return fmt.Errorf("eventsink: init outbox: %w", err)
	}
	return nil
}

// Enqueue inserts a pending row.
func (s *OutboxSink) Enqueue(ctx context.Context, label string, ev Event) error {
	query := `
		INSERT INTO interaction_outbox (id, label, session_key, context_key, enqueued_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (context_key) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), label, ev.SessionKey, ev.ContextKey,
		s.now().UTC().Format(enqueuedAtLayout), StatusPending,
	)
	if err != nil {
		return fmt.Errorf("eventsink: insert outbox row: %w", err)
	}
	return nil
}

// Pending returns up to limit pending envelopes, oldest first.
func (s *OutboxSink) Pending(ctx context.Context, limit int) ([]Envelope, error) {
	query := `
		SELECT id, label, session_key, context_key, enqueued_at
		FROM interaction_outbox
		WHERE status = $1
		ORDER BY enqueued_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("eventsink: query outbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	//nolint:prealloc // result count unknown from SQL query
	var out []Envelope
	for rows.Next() {
		var env Envelope
		var enqueuedAt string
		if err := rows.Scan(&env.ID, &env.Label, &env.Event.SessionKey, &env.Event.ContextKey, &enqueuedAt); err != nil {
			return nil, err
		}
		ts, err := time.Parse(enqueuedAtLayout, enqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("corrupt enqueued_at in outbox record %s: %w", env.ID, err)
		}
		env.EnqueuedAt = ts
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkDone flags a row as consumed.
func (s *OutboxSink) MarkDone(ctx context.Context, id string) error {
	query := `UPDATE interaction_outbox SET status = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, StatusDone, id); err != nil {
		return fmt.Errorf("eventsink: mark done %s: %w", id, err)
	}
	return nil
}
