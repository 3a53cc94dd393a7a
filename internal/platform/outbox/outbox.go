// Package outbox implements the transactional outbox (C1): events are
// appended inside the caller's own transaction so the business write and the
// intent-to-publish can never diverge.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a pending (or already-drained) outbound event row.
type Event struct {
	ID            string
	AggregateType string // "ORDER" | "PRODUCT" | "COURIER"
	AggregateID   string
	Type          string // routing key
	Payload       []byte // opaque JSON blob
	CreatedAt     time.Time
	Processed     bool
}

// Store is the append-only outbox table of the service that publishes
// through the persistent-outbox mode (Order; Store uses the commit-phase
// alternative in package txevents instead, and Notification publishes no
// events).
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts a pending row using the caller's transaction. This is the
// only way to write to the outbox; there is deliberately no variant that
// opens its own transaction, because the append and the aggregate write
// MUST commit or roll back together.
func (s *Store) Append(ctx context.Context, tx *sql.Tx, aggregateType, aggregateID, eventType string, payload []byte) error {
	id := uuid.New().String()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (id, aggregate_type, aggregate_id, type, payload, created_at, processed)
		 VALUES ($1, $2, $3, $4, $5, $6, false)`,
		id, aggregateType, aggregateID, eventType, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("outbox: append %s for %s: %w", eventType, aggregateID, err)
	}
	return nil
}

// FetchPendingBatch returns up to n oldest unprocessed rows, ordered by
// createdAt ascending, so per-aggregate order is preserved within a batch.
func (s *Store) FetchPendingBatch(ctx context.Context, n int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, aggregate_type, aggregate_id, type, payload, created_at, processed
		 FROM outbox WHERE processed = false ORDER BY created_at ASC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("outbox: fetch pending batch: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type, &e.Payload, &e.CreatedAt, &e.Processed); err != nil {
			return nil, fmt.Errorf("outbox: scan row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkProcessed flips processed=true after the broker has acknowledged
// publication of the row.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET processed = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("outbox: mark processed %s: %w", id, err)
	}
	return nil
}

// DeleteProcessedOlderThan removes processed rows older than cutoff, in
// batches capped at batchSize to avoid holding long locks, returning the
// number of rows actually deleted.
func (s *Store) DeleteProcessedOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE id IN (
			SELECT id FROM outbox WHERE processed = true AND created_at < $1 LIMIT $2
		)`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: cleanup older than %s: %w", cutoff, err)
	}
	return res.RowsAffected()
}
