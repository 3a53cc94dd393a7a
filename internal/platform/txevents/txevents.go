// Package txevents implements the commit-phase publication alternative to
// the persistent outbox (spec §4.5's second mode, used by the Store
// service): events are buffered per-transaction and flushed only after the
// transaction actually commits, so a rollback emits nothing.
//
// This replaces the "self-injection proxy for intra-class transactional
// method calls" pattern by splitting the concern into two composed types:
// Manager (the outer, transactional unit) and Publisher (the outbound
// sender), instead of one type calling back into its own proxy.
package txevents

import (
	"context"
	"database/sql"
	"fmt"
)

// PendingEvent is a not-yet-published event queued against an in-flight
// transaction.
type PendingEvent struct {
	RoutingKey string
	Payload    []byte
}

// Publisher sends an already-committed event to the broker. Implemented by
// the AMQP publisher in package broker at the call site.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
}

// Manager runs a unit of work inside a transaction and flushes any events
// queued during that unit only after Commit succeeds.
type Manager struct {
	db        *sql.DB
	publisher Publisher
}

func NewManager(db *sql.DB, publisher Publisher) *Manager {
	return &Manager{db: db, publisher: publisher}
}

// Tx is the mutable per-transaction event buffer passed into the work func.
type Tx struct {
	*sql.Tx
	pending []PendingEvent
}

// Emit queues an event to be published after this transaction commits. It
// has no effect if the transaction later rolls back.
func (t *Tx) Emit(routingKey string, payload []byte) {
	t.pending = append(t.pending, PendingEvent{RoutingKey: routingKey, Payload: payload})
}

// WithTransaction opens a transaction, runs work, commits (or rolls back on
// error), and — only on a successful commit — publishes every event queued
// via Emit. Publish failures after commit are logged by the caller; they do
// not re-open the transaction, matching the "broker errors never fail the
// business transaction" propagation rule in spec §7.
func (m *Manager) WithTransaction(ctx context.Context, work func(*Tx) error) error {
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("txevents: begin: %w", err)
	}

	tx := &Tx{Tx: sqlTx}
	if err := work(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("txevents: commit: %w", err)
	}

	for _, e := range tx.pending {
		if err := m.publisher.Publish(ctx, e.RoutingKey, e.Payload); err != nil {
			return fmt.Errorf("txevents: publish after commit (business state already committed): %w", err)
		}
	}
	return nil
}
