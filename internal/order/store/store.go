// Package store is the Order service's Postgres-backed repository,
// replacing the teacher's MongoDB store so the outbox and processed_events
// tables can live in the same transactional database as the order rows
// (spec §2 requires a single private relational store per service).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/timour/order-microservices/internal/order/domain"
	"github.com/timour/order-microservices/internal/platform/apperr"
)

var ErrOrderNotFound = errors.New("store: order not found")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts order and its items inside tx, so the insert and the
// caller's outbox.Append share the one enclosing transaction.
func (s *Store) Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, store_id, courier_id, status, total_price, shipping_address, pickup_address, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.UserID, o.StoreID, o.CourierID, o.Status, o.TotalPrice, o.ShippingAddress, o.PickupAddress, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert order: %w", err)
	}

	for _, it := range o.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, price, quantity)
			 VALUES ($1, $2, $3, $4, $5)`,
			o.ID, it.ProductID, it.ProductName, it.Price, it.Quantity)
		if err != nil {
			return fmt.Errorf("store: insert order item: %w", err)
		}
	}
	return nil
}

// GetForUpdate reads order and its items, locking the order row so a caller
// can validate and transition state inside the same transaction without a
// concurrent writer racing it (the TOCTOU guard spec §4.6/§5 calls for).
func (s *Store) GetForUpdate(ctx context.Context, tx *sql.Tx, id string) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, user_id, store_id, courier_id, status, total_price, shipping_address, pickup_address, created_at
		 FROM orders WHERE id = $1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	items, err := s.itemsFor(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// Get reads order and its items without locking, for read-only endpoints.
func (s *Store) Get(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, store_id, courier_id, status, total_price, shipping_address, pickup_address, created_at
		 FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	items, err := s.itemsForDB(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// ListByUser returns a user's orders, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, store_id, courier_id, status, total_price, shipping_address, pickup_address, created_at
		 FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list orders for user: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateStatus writes a new status (and optionally pickupAddress/courierId)
// inside tx, after the caller has already validated the transition.
func (s *Store) UpdateStatus(ctx context.Context, tx *sql.Tx, id string, status domain.Status, pickupAddress, courierID *string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1,
		   pickup_address = COALESCE($2, pickup_address),
		   courier_id = COALESCE($3, courier_id)
		 WHERE id = $4`,
		status, pickupAddress, courierID, id)
	if err != nil {
		return fmt.Errorf("store: update order status: %w", err)
	}
	return nil
}

func (s *Store) itemsFor(ctx context.Context, tx *sql.Tx, orderID string) ([]domain.Item, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, product_name, price, quantity FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("store: query items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *Store) itemsForDB(ctx context.Context, orderID string) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, product_name, price, quantity FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("store: query items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]domain.Item, error) {
	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Price, &it.Quantity); err != nil {
			return nil, fmt.Errorf("store: scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.UserID, &o.StoreID, &o.CourierID, &o.Status, &o.TotalPrice, &o.ShippingAddress, &o.PickupAddress, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.NotFound, "order not found", ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan order: %w", err)
	}
	return &o, nil
}

func scanOrderRows(rows *sql.Rows) (*domain.Order, error) {
	var o domain.Order
	if err := rows.Scan(&o.ID, &o.UserID, &o.StoreID, &o.CourierID, &o.Status, &o.TotalPrice, &o.ShippingAddress, &o.PickupAddress, &o.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: scan order row: %w", err)
	}
	return &o, nil
}
