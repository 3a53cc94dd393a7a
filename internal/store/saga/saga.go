// Package saga implements the Store-service (resource-manager) side of the
// Stock-Reservation Saga (C7): claim the idempotency key, batch-reserve
// inside one transaction, and reply with success via the commit-phase
// publisher or — in a freshly opened, independent transaction — with
// failure, per spec §4.7's explicit requirement that the failure path
// commit on its own.
package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/timour/order-microservices/internal/platform/apperr"
	"github.com/timour/order-microservices/internal/platform/idempotency"
	"github.com/timour/order-microservices/internal/platform/txevents"
	"github.com/timour/order-microservices/internal/store/service"
	"github.com/timour/order-microservices/internal/store/stock"
)

const (
	operationReserveStock = "RESERVE_STOCK"

	routingStockReserved         = "order.stock_reserved"
	routingStockReservationFailed = "order.stock_reservation_failed"
	routingProductStockReserved  = "product.stock.reserved"
)

// ItemRequest mirrors the Order service's saga.ItemRequest wire shape.
type ItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ReservationRequested is the inbound message from order.stock_reservation.requested.
type ReservationRequested struct {
	OrderID         string        `json:"orderId"`
	StoreID         string        `json:"storeId"`
	UserID          string        `json:"userId"`
	Items           []ItemRequest `json:"items"`
	ShippingAddress string        `json:"shippingAddress"`
}

type Handler struct {
	db        *sql.DB
	txManager *txevents.Manager
	engine    *stock.Engine
	products  *service.ProductRepository
	idem      *idempotency.Store
	log       *slog.Logger
}

func NewHandler(db *sql.DB, txManager *txevents.Manager, engine *stock.Engine, products *service.ProductRepository, idem *idempotency.Store, log *slog.Logger) *Handler {
	return &Handler{db: db, txManager: txManager, engine: engine, products: products, idem: idem, log: log}
}

// HandleReservationRequested claims the idempotency key, reserves stock, and
// replies success-or-failure. Claims happen first and unconditionally: a
// redelivered request simply finds the key already claimed and is dropped
// silently (spec §4.2, §7 "Conflict/Race: not an error").
func (h *Handler) HandleReservationRequested(ctx context.Context, req ReservationRequested) error {
	key := idempotency.Key(operationReserveStock, req.OrderID)
	claimed, err := h.idem.TryClaim(ctx, key)
	if err != nil {
		return fmt.Errorf("saga: claim %s: %w", key, err)
	}
	if !claimed {
		h.log.Info("saga: reservation request already claimed, dropping redelivery", "order_id", req.OrderID)
		return nil
	}

	items := make([]stock.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = stock.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	err = h.txManager.WithTransaction(ctx, func(tx *txevents.Tx) error {
		if err := h.engine.BatchReserve(ctx, tx.Tx, req.StoreID, items); err != nil {
			return err
		}
		pickupAddress, err := h.products.PickupAddress(ctx, req.StoreID)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(successReply(req, pickupAddress))
		if err != nil {
			return fmt.Errorf("saga: marshal success reply: %w", err)
		}
		tx.Emit(routingStockReserved, payload)

		// Feed the Order service's snapshot cache (C4) with the post-decrement
		// row for every reserved product, inside the same transaction so the
		// event only ships if the reservation itself commits.
		for _, it := range items {
			evt, err := h.products.SnapshotEventTx(ctx, tx.Tx, it.ProductID)
			if err != nil {
				return err
			}
			evtPayload, err := json.Marshal(evt)
			if err != nil {
				return fmt.Errorf("saga: marshal stock event for %s: %w", it.ProductID, err)
			}
			tx.Emit(routingProductStockReserved, evtPayload)
		}
		return nil
	})

	if err == nil {
		return nil
	}

	appErr, ok := apperr.As(err)
	if !ok {
		return fmt.Errorf("saga: reservation transaction failed: %w", err)
	}

	// Domain failure: the reservation transaction above has already rolled
	// back. Append the failure reply in a brand-new, independent
	// transaction so it commits regardless of the rollback above — this is
	// the "fresh, not nested" transaction spec §4.7 requires, since
	// database/sql has no nested-transaction primitive.
	return h.appendFailure(ctx, req.OrderID, req.UserID, appErr.Message)
}

func (h *Handler) appendFailure(ctx context.Context, orderID, userID, reason string) error {
	return h.txManager.WithTransaction(ctx, func(tx *txevents.Tx) error {
		payload, err := json.Marshal(map[string]string{"orderId": orderID, "userId": userID, "reason": reason})
		if err != nil {
			return fmt.Errorf("saga: marshal failure reply: %w", err)
		}
		tx.Emit(routingStockReservationFailed, payload)
		return nil
	})
}

func successReply(req ReservationRequested, pickupAddress string) map[string]interface{} {
	return map[string]interface{}{
		"orderId": req.OrderID, "storeId": req.StoreID, "userId": req.UserID,
		"pickupAddress": pickupAddress, "items": req.Items,
	}
}
