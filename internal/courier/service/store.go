package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/timour/order-microservices/internal/courier/domain"
	"github.com/timour/order-microservices/internal/platform/apperr"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetByUser(ctx context.Context, userID string) (*domain.Courier, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, status, lat, lng, updated_at FROM couriers WHERE user_id = $1`, userID))
}

// EnsureForUser returns the courier row for userID, creating one in OFFLINE
// status on first sight — there is no separate courier-onboarding flow in
// scope (spec §1), a courier simply exists the first time its user logs in.
func (s *Store) EnsureForUser(ctx context.Context, userID string) (*domain.Courier, error) {
	c, err := s.GetByUser(ctx, userID)
	if err == nil {
		return c, nil
	}
	if appErr, ok := apperr.As(err); !ok || appErr.Kind != apperr.NotFound {
		return nil, err
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO couriers (id, user_id, status, updated_at) VALUES ($1, $2, $3, now())`,
		id, userID, domain.StatusOffline)
	if err != nil {
		return nil, fmt.Errorf("courier: create for user %s: %w", userID, err)
	}
	return s.GetByUser(ctx, userID)
}

func (s *Store) UpdateStatus(ctx context.Context, courierID string, status domain.Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE couriers SET status = $1, updated_at = now() WHERE id = $2`, status, courierID)
	if err != nil {
		return fmt.Errorf("courier: update status %s: %w", courierID, err)
	}
	return nil
}

func (s *Store) UpdateLocation(ctx context.Context, courierID string, lat, lng float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE couriers SET lat = $1, lng = $2, updated_at = now() WHERE id = $3`, lat, lng, courierID)
	if err != nil {
		return fmt.Errorf("courier: update location %s: %w", courierID, err)
	}
	return nil
}

// FirstAvailable implements the stub assignment policy (spec §4.11 Design
// Notes): the AVAILABLE courier whose status has been stable longest, under
// FOR UPDATE SKIP LOCKED so two concurrent assignment attempts never pick
// the same courier.
func (s *Store) FirstAvailable(ctx context.Context, tx *sql.Tx) (*domain.Courier, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, user_id, status, lat, lng, updated_at FROM couriers
		 WHERE status = $1 ORDER BY updated_at ASC FOR UPDATE SKIP LOCKED LIMIT 1`,
		domain.StatusAvailable)
	return s.scanOne(row)
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) UpdateStatusTx(ctx context.Context, tx *sql.Tx, courierID string, status domain.Status) error {
	_, err := tx.ExecContext(ctx, `UPDATE couriers SET status = $1, updated_at = now() WHERE id = $2`, status, courierID)
	if err != nil {
		return fmt.Errorf("courier: update status tx %s: %w", courierID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanOne(row rowScanner) (*domain.Courier, error) {
	var c domain.Courier
	err := row.Scan(&c.ID, &c.UserID, &c.Status, &c.Lat, &c.Lng, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "no courier available")
	}
	if err != nil {
		return nil, fmt.Errorf("courier: scan: %w", err)
	}
	return &c, nil
}
