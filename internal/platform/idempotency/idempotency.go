// Package idempotency implements the processed-events guard (C2): the only
// supported primitive is TryClaim, a single insert whose unique-constraint
// violation IS the "already processed" signal. Callers must never
// check-then-insert.
package idempotency

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Store claims idempotency keys of the form "<OPERATION>:<aggregateId>"
// against the processed_events table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// TryClaim attempts to insert eventKey. It returns true iff this call is the
// one that performed the insert; under a concurrent race exactly one caller
// observes true and all others observe false, with no error returned for the
// losing callers — a unique-constraint violation is not a failure here.
func (s *Store) TryClaim(ctx context.Context, eventKey string) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_key) VALUES ($1)`, eventKey)
	if err == nil {
		return true, nil
	}
	if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
		return false, nil
	}
	return false, fmt.Errorf("idempotency: claim %s: %w", eventKey, err)
}

// Key builds the canonical "<OPERATION>:<aggregateId>" idempotency key.
func Key(operation, aggregateID string) string {
	return operation + ":" + aggregateID
}
