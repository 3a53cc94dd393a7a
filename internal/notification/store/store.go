// Package store is the Notification service's Postgres repository: create,
// paged history, unread listing, mark-as-read, and the pending-replay query
// the dispatcher uses on reconnect (spec §4.10).
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/timour/order-microservices/internal/notification/domain"
	"github.com/timour/order-microservices/internal/platform/apperr"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a notification with deliveredAt left NULL; the dispatcher
// marks it delivered only after a live push actually succeeds.
func (s *Store) Create(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, order_id, store_id, courier_id, message, payload, is_read, delivered_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, NULL, now())`,
		n.ID, n.UserID, n.Type, n.OrderID, n.StoreID, n.CourierID, n.Message, n.Payload)
	if err != nil {
		return fmt.Errorf("notification: create: %w", err)
	}
	return nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET delivered_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("notification: mark delivered %s: %w", id, err)
	}
	return nil
}

// MarkRead flips is_read, but only if userID actually owns the row —
// ownership mismatches are a 400 Validation per spec §4.10, not a silent
// no-op and not a 404 (the row does exist, just not for this caller).
func (s *Store) MarkRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("notification: mark read %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("notification: mark read rows affected %s: %w", id, err)
	}
	if rows == 0 {
		return apperr.New(apperr.Validation, "notification does not belong to the caller")
	}
	return nil
}

func (s *Store) ListUnread(ctx context.Context, userID string) ([]domain.Notification, error) {
	return s.query(ctx,
		`SELECT id, user_id, type, order_id, store_id, courier_id, message, payload, is_read, delivered_at, created_at
		 FROM notifications WHERE user_id = $1 AND is_read = false ORDER BY created_at DESC`, userID)
}

func (s *Store) ListHistory(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error) {
	return s.query(ctx,
		`SELECT id, user_id, type, order_id, store_id, courier_id, message, payload, is_read, delivered_at, created_at
		 FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
}

// ListPending returns undelivered notifications for userID, used to replay
// missed pushes when a session reconnects (spec §4.10).
func (s *Store) ListPending(ctx context.Context, userID string) ([]domain.Notification, error) {
	return s.query(ctx,
		`SELECT id, user_id, type, order_id, store_id, courier_id, message, payload, is_read, delivered_at, created_at
		 FROM notifications WHERE user_id = $1 AND delivered_at IS NULL ORDER BY created_at ASC`, userID)
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("notification: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.OrderID, &n.StoreID, &n.CourierID,
			&n.Message, &n.Payload, &n.IsRead, &n.DeliveredAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notification: scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
