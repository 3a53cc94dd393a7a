// Package stock implements the Product Stock Engine (C3): atomic
// conditional decrement, unconditional restore, and batch reservation, the
// only code in the system permitted to mutate a product's stock column.
// Grounded directly on the teacher's store_postgres.go DecrementQuantity
// (`UPDATE items SET quantity = quantity - $1 WHERE id = $2 AND quantity >=
// $1`), generalized with the available-flag toggle folded into the same
// statement and extended to a transactional batch loop.
package stock

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/timour/order-microservices/internal/platform/apperr"
)

type Engine struct {
	db *sql.DB
}

func New(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Item is one line of a batch reservation/restore request.
type Item struct {
	ProductID string
	Quantity  int
}

// DecreaseStock performs the single conditional update that is the only
// legal way to remove stock: it succeeds (rowsAffected=1) only if enough
// stock remains, and never drives stock negative. availableNowFalse
// reports whether this call crossed stock to exactly zero.
func (e *Engine) DecreaseStock(ctx context.Context, tx *sql.Tx, productID string, qty int) (rowsAffected int64, availableNowFalse bool, err error) {
	row := tx.QueryRowContext(ctx,
		`UPDATE products SET
		   stock = stock - $1,
		   available = (stock - $1) > 0
		 WHERE id = $2 AND stock >= $1
		 RETURNING available`,
		qty, productID)

	var available bool
	if scanErr := row.Scan(&available); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stock: decrease %s: %w", productID, scanErr)
	}
	return 1, !available, nil
}

// RestoreStock unconditionally increments stock and re-enables available
// when crossing from 0 to positive.
func (e *Engine) RestoreStock(ctx context.Context, tx *sql.Tx, productID string, qty int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products SET
		   stock = stock + $1,
		   available = (stock + $1) > 0
		 WHERE id = $2`,
		qty, productID)
	if err != nil {
		return fmt.Errorf("stock: restore %s: %w", productID, err)
	}
	return nil
}

// BatchReserve validates store membership/availability and decrements every
// item inside tx. The first item that cannot be fully reserved aborts the
// whole batch by returning an *apperr.Error; the caller's transaction
// rollback then undoes every decrement already applied in this loop, so
// partial reservations are structurally impossible (spec §4.3, §8).
func (e *Engine) BatchReserve(ctx context.Context, tx *sql.Tx, storeID string, items []Item) error {
	for _, it := range items {
		p, err := e.getForUpdate(ctx, tx, it.ProductID)
		if err != nil {
			return err
		}
		if p.StoreID != storeID {
			return apperr.New(apperr.Validation, fmt.Sprintf("product %s does not belong to store %s", it.ProductID, storeID))
		}
		if !p.Available {
			return apperr.New(apperr.InsufficientStock, fmt.Sprintf("product %s is not available", it.ProductID))
		}
		rows, _, err := e.DecreaseStock(ctx, tx, it.ProductID, it.Quantity)
		if err != nil {
			return err
		}
		if rows == 0 {
			return apperr.New(apperr.InsufficientStock, fmt.Sprintf("insufficient stock for product %s", it.ProductID))
		}
	}
	return nil
}

// BatchRestore unconditionally restores every item, used by the
// Cancellation Compensator (C8) when ghost-inventory rules call for it.
func (e *Engine) BatchRestore(ctx context.Context, tx *sql.Tx, items []Item) error {
	for _, it := range items {
		if err := e.RestoreStock(ctx, tx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

type productRow struct {
	StoreID   string
	Available bool
}

func (e *Engine) getForUpdate(ctx context.Context, tx *sql.Tx, productID string) (productRow, error) {
	var p productRow
	err := tx.QueryRowContext(ctx, `SELECT store_id, available FROM products WHERE id = $1 FOR UPDATE`, productID).
		Scan(&p.StoreID, &p.Available)
	if err == sql.ErrNoRows {
		return productRow{}, apperr.New(apperr.NotFound, fmt.Sprintf("product %s not found", productID))
	}
	if err != nil {
		return productRow{}, fmt.Errorf("stock: lookup %s: %w", productID, err)
	}
	return p, nil
}
