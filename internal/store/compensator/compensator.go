// Package compensator implements the Cancellation Compensator (C8):
// consumes order.cancelled and restores stock only when the order had
// actually deducted it, preventing ghost inventory.
package compensator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/timour/order-microservices/internal/platform/idempotency"
	"github.com/timour/order-microservices/internal/platform/txevents"
	"github.com/timour/order-microservices/internal/store/service"
	"github.com/timour/order-microservices/internal/store/stock"
)

const (
	operationCancelOrder = "CANCEL_ORDER"

	routingProductStockRestored = "product.stock.restored"
)

// restoringStatuses are the oldStatus values for which stock was actually
// deducted before cancellation; any other oldStatus means no stock change.
var restoringStatuses = map[string]bool{
	"PREPARING":   true,
	"ON_THE_WAY":  true,
}

type OrderCancelled struct {
	OrderID   string      `json:"orderId"`
	StoreID   string      `json:"storeId"`
	UserID    string      `json:"userId"`
	CourierID *string     `json:"courierId"`
	OldStatus string      `json:"oldStatus"`
	Items     []stockItem `json:"items"`
}

type stockItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Compensator struct {
	txManager *txevents.Manager
	engine    *stock.Engine
	products  *service.ProductRepository
	idem      *idempotency.Store
}

func New(txManager *txevents.Manager, engine *stock.Engine, products *service.ProductRepository, idem *idempotency.Store) *Compensator {
	return &Compensator{txManager: txManager, engine: engine, products: products, idem: idem}
}

// Handle claims CANCEL_ORDER:<orderId> unconditionally — even on the no-op
// path — so replays are absorbed whether or not restoration actually
// happens, per spec §4.8's closing sentence.
func (c *Compensator) Handle(ctx context.Context, evt OrderCancelled) error {
	key := idempotency.Key(operationCancelOrder, evt.OrderID)
	claimed, err := c.idem.TryClaim(ctx, key)
	if err != nil {
		return fmt.Errorf("compensator: claim %s: %w", key, err)
	}
	if !claimed {
		return nil
	}

	if !restoringStatuses[evt.OldStatus] {
		return nil
	}

	items := make([]stock.Item, len(evt.Items))
	for i, it := range evt.Items {
		items[i] = stock.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	return c.txManager.WithTransaction(ctx, func(tx *txevents.Tx) error {
		if err := c.engine.BatchRestore(ctx, tx.Tx, items); err != nil {
			return err
		}
		for _, it := range items {
			snap, err := c.products.SnapshotEventTx(ctx, tx.Tx, it.ProductID)
			if err != nil {
				return err
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("compensator: marshal restore event for %s: %w", it.ProductID, err)
			}
			tx.Emit(routingProductStockRestored, payload)
		}
		return nil
	})
}
