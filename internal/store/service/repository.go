// Package service holds the Store service's read-side product repository,
// used by the stock-reservation saga (C7), the cancellation compensator (C8)
// and the REST handler, including the product.* event payload read inside
// the mutating transaction.
package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/timour/order-microservices/internal/platform/apperr"
	"github.com/timour/order-microservices/internal/store/domain"
)

// ProductRepository reads product rows for the saga and event-publication
// paths. Catalog mutation (create/update of products) is an external
// collaborator's concern per spec §1; this repository only reads and
// exposes the stock column the Engine mutates directly.
type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRowContext(ctx,
		`SELECT id, category_id, store_id, name, price, stock, available FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.CategoryID, &p.StoreID, &p.Name, &p.Price, &p.Stock, &p.Available)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("product %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("store: get product %s: %w", id, err)
	}
	return &p, nil
}

func (r *ProductRepository) GetMany(ctx context.Context, ids []string) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, category_id, store_id, name, price, stock, available FROM products WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("store: get products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.CategoryID, &p.StoreID, &p.Name, &p.Price, &p.Stock, &p.Available); err != nil {
			return nil, fmt.Errorf("store: scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// PickupAddress returns the store's pickup address for the saga success reply.
func (r *ProductRepository) PickupAddress(ctx context.Context, storeID string) (string, error) {
	var addr string
	err := r.db.QueryRowContext(ctx, `SELECT pickup_address FROM stores WHERE id = $1`, storeID).Scan(&addr)
	if err != nil {
		return "", fmt.Errorf("store: pickup address for %s: %w", storeID, err)
	}
	return addr, nil
}

// SnapshotEvent is the wire shape the Order service's snapshot cache expects
// from every product.* event (mirrors order/snapshot.Snapshot's JSON tags).
type SnapshotEvent struct {
	ProductID string  `json:"productId"`
	StoreID   string  `json:"storeId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Stock     int     `json:"stock"`
	Available bool    `json:"available"`
}

// SnapshotEventTx reads a product's current row inside tx, so it reflects the
// mutation just applied in the same transaction rather than a stale read.
func (r *ProductRepository) SnapshotEventTx(ctx context.Context, tx *sql.Tx, productID string) (SnapshotEvent, error) {
	var e SnapshotEvent
	err := tx.QueryRowContext(ctx,
		`SELECT id, store_id, name, price, stock, available FROM products WHERE id = $1`, productID).
		Scan(&e.ProductID, &e.StoreID, &e.Name, &e.Price, &e.Stock, &e.Available)
	if err != nil {
		return SnapshotEvent{}, fmt.Errorf("store: snapshot event for %s: %w", productID, err)
	}
	return e, nil
}
