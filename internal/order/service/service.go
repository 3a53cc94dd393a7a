// Package service orchestrates the Order aggregate: validating and applying
// state transitions (C6), emitting outbox events (C1), and driving the
// initiator side of the stock-reservation saga (C7). Grounded on the
// transaction-then-outbox-insert-then-commit shape in
// kyungseok-lee-msa-saga-go-practical's order_service.go, adapted onto this
// system's Postgres schema and async saga messages instead of that repo's
// payment-first saga.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timour/order-microservices/internal/order/domain"
	"github.com/timour/order-microservices/internal/order/orderstate"
	"github.com/timour/order-microservices/internal/order/saga"
	"github.com/timour/order-microservices/internal/order/snapshot"
	"github.com/timour/order-microservices/internal/order/store"
	"github.com/timour/order-microservices/internal/platform/apperr"
	"github.com/timour/order-microservices/internal/platform/authn"
	"github.com/timour/order-microservices/internal/platform/metrics"
	"github.com/timour/order-microservices/internal/platform/outbox"
)

const (
	routingOrderCreated              = "order.created"
	routingStockReservationRequested = "order.stock_reservation.requested"
	routingOrderPreparing            = "order.preparing"
	routingOrderOnTheWay             = "order.on_the_way"
	routingOrderDelivered            = "order.delivered"
	routingOrderCancelled            = "order.cancelled"
	routingOrderAssigned             = "order.assigned"
)

// CreateOrderInput is the validated request body for POST /api/v1/orders.
type CreateOrderInput struct {
	StoreID         string
	ShippingAddress string
	Items           []saga.ItemRequest
}

type Service struct {
	db        *sql.DB
	orders    *store.Store
	snapshots *snapshot.Cache
	outboxes  *outbox.Store
	logger    *slog.Logger
	business  *metrics.BusinessMetrics
}

func New(db *sql.DB, orders *store.Store, snapshots *snapshot.Cache, outboxes *outbox.Store, logger *slog.Logger, business *metrics.BusinessMetrics) *Service {
	return &Service{db: db, orders: orders, snapshots: snapshots, outboxes: outboxes, logger: logger, business: business}
}

// CreateOrder validates the requested items against the (possibly stale)
// snapshot cache, persists the order as PENDING, and emits order.created —
// all inside one transaction, per spec §4.1's append-and-write contract.
// The snapshot read here is explicitly best-effort: the authoritative check
// happens later, in the reservation saga (spec §9 Open Question).
func (s *Service) CreateOrder(ctx context.Context, userID string, in CreateOrderInput) (*domain.Order, error) {
	if len(in.Items) == 0 {
		return nil, apperr.New(apperr.Validation, "order must contain at least one item")
	}
	ids := make([]string, len(in.Items))
	for i, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, apperr.New(apperr.Validation, "item quantity must be positive")
		}
		ids[i] = it.ProductID
	}

	snapshots, err := s.snapshots.FindAll(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("create order: load snapshots: %w", err)
	}

	items := make([]domain.Item, 0, len(in.Items))
	for _, req := range in.Items {
		snap, ok := snapshots[req.ProductID]
		if !ok {
			return nil, apperr.New(apperr.NotFound, fmt.Sprintf("product %s not found in catalog snapshot", req.ProductID))
		}
		items = append(items, domain.Item{
			ProductID:   snap.ProductID,
			ProductName: snap.Name,
			Price:       snap.Price,
			Quantity:    req.Quantity,
		})
	}

	order := &domain.Order{
		ID:              uuid.New().String(),
		UserID:          userID,
		StoreID:         in.StoreID,
		Status:          domain.StatusPending,
		TotalPrice:      domain.Total(items),
		ShippingAddress: in.ShippingAddress,
		Items:           items,
		CreatedAt:       time.Now().UTC(),
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.orders.Create(ctx, tx, order); err != nil {
			return err
		}
		return s.emitOrderCreated(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	s.business.OrdersCreated.Inc()
	return order, nil
}

// AcceptOrder moves PENDING -> RESERVING_STOCK and emits the reservation
// request, the start of the stock-reservation saga.
func (s *Service) AcceptOrder(ctx context.Context, principal authn.Principal, orderID string) error {
	return s.transition(ctx, principal, orderID, domain.StatusReservingStock, func(tx *sql.Tx, o *domain.Order) error {
		req := saga.ReservationRequested{
			OrderID:         o.ID,
			StoreID:         o.StoreID,
			UserID:          o.UserID,
			ShippingAddress: o.ShippingAddress,
		}
		for _, it := range o.Items {
			req.Items = append(req.Items, saga.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		return s.emit(ctx, tx, "ORDER", o.ID, routingStockReservationRequested, req)
	})
}

// HandleStockReserved is the saga reply handler for order.stock_reserved.
// It only acts if the order is still RESERVING_STOCK, which is the
// structural guard against acting twice on a redelivered reply.
func (s *Service) HandleStockReserved(ctx context.Context, msg saga.StockReserved) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, msg.OrderID)
		if err != nil {
			return err
		}
		if o.Status != domain.StatusReservingStock {
			s.logger.Info("saga: stock_reserved reply ignored, order already past RESERVING_STOCK", "order_id", o.ID, "status", o.Status)
			return nil
		}
		if err := orderstate.CheckTransition(o.Status, domain.StatusPreparing, orderstate.ActorSaga); err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, tx, o.ID, domain.StatusPreparing, &msg.PickupAddress, nil); err != nil {
			return err
		}
		s.business.ReservationsSucceeded.Inc()
		payload := map[string]interface{}{
			"orderId": o.ID, "storeId": o.StoreID, "userId": o.UserID,
			"pickupAddress": msg.PickupAddress, "shippingAddress": o.ShippingAddress,
		}
		return s.emit(ctx, tx, "ORDER", o.ID, routingOrderPreparing, payload)
	})
}

// HandleStockReservationFailed reverts RESERVING_STOCK -> PENDING, leaving
// items and totalPrice unchanged.
func (s *Service) HandleStockReservationFailed(ctx context.Context, msg saga.StockReservationFailed) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, msg.OrderID)
		if err != nil {
			return err
		}
		if o.Status != domain.StatusReservingStock {
			s.logger.Info("saga: stock_reservation_failed reply ignored, order already past RESERVING_STOCK", "order_id", o.ID, "status", o.Status)
			return nil
		}
		if err := orderstate.CheckTransition(o.Status, domain.StatusPending, orderstate.ActorSaga); err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, tx, o.ID, domain.StatusPending, nil, nil); err != nil {
			return err
		}
		s.business.ReservationsFailed.Inc()
		s.logger.Warn("saga: stock reservation failed, order reverted to PENDING", "order_id", o.ID, "reason", msg.Reason)
		return nil
	})
}

// AssignCourier binds courierID to order (called from the internal
// order.assign_courier command the Courier service emits) and publishes
// order.assigned.
func (s *Service) AssignCourier(ctx context.Context, orderID, courierID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status != domain.StatusPreparing {
			return apperr.New(apperr.InvalidState, "courier can only be assigned to a PREPARING order")
		}
		if err := s.orders.UpdateStatus(ctx, tx, o.ID, o.Status, nil, &courierID); err != nil {
			return err
		}
		payload := map[string]interface{}{
			"orderId": o.ID, "storeId": o.StoreID, "courierId": courierID, "userId": o.UserID,
			"pickupAddress": o.PickupAddress, "shippingAddress": o.ShippingAddress,
		}
		return s.emit(ctx, tx, "ORDER", o.ID, routingOrderAssigned, payload)
	})
}

// PickupOrder moves PREPARING -> ON_THE_WAY.
func (s *Service) PickupOrder(ctx context.Context, principal authn.Principal, orderID string) error {
	return s.transition(ctx, principal, orderID, domain.StatusOnTheWay, func(tx *sql.Tx, o *domain.Order) error {
		return s.emitOrderEnvelope(ctx, tx, o, routingOrderOnTheWay)
	})
}

// DeliverOrder moves ON_THE_WAY -> DELIVERED.
func (s *Service) DeliverOrder(ctx context.Context, principal authn.Principal, orderID string) error {
	return s.transition(ctx, principal, orderID, domain.StatusDelivered, func(tx *sql.Tx, o *domain.Order) error {
		return s.emitOrderEnvelope(ctx, tx, o, routingOrderDelivered)
	})
}

// CancelOrder moves PENDING or PREPARING -> CANCELLED, carrying oldStatus so
// the Cancellation Compensator (C8) can decide whether to restore stock.
func (s *Service) CancelOrder(ctx context.Context, principal authn.Principal, orderID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		actor, err := orderstate.ActorForRole(principal, o)
		if err != nil {
			return err
		}
		oldStatus := o.Status
		if err := orderstate.CheckTransition(o.Status, domain.StatusCancelled, actor); err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, tx, o.ID, domain.StatusCancelled, nil, nil); err != nil {
			return err
		}
		s.business.OrdersCancelled.Inc()
		payload := map[string]interface{}{
			"orderId": o.ID, "storeId": o.StoreID, "userId": o.UserID,
			"courierId": o.CourierID, "oldStatus": oldStatus, "items": o.Items,
		}
		return s.emit(ctx, tx, "ORDER", o.ID, routingOrderCancelled, payload)
	})
}

// Get returns a single order, or apperr.NotFound.
func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	return s.orders.Get(ctx, id)
}

// ListMine returns userID's orders.
func (s *Service) ListMine(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	return s.orders.ListByUser(ctx, userID, limit, offset)
}

// transition is the shared read-validate-write wrapper every customer/
// store-owner/courier-initiated transition uses: re-read under FOR UPDATE,
// re-derive the actor from the principal against the freshly read order (not
// a stale copy), check legality, apply, emit.
func (s *Service) transition(ctx context.Context, principal authn.Principal, orderID string, to domain.Status, apply func(tx *sql.Tx, o *domain.Order) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		actor, err := orderstate.ActorForRole(principal, o)
		if err != nil {
			return err
		}
		if err := orderstate.CheckTransition(o.Status, to, actor); err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, tx, o.ID, to, nil, nil); err != nil {
			return err
		}
		o.Status = to
		return apply(tx, o)
	})
}

func (s *Service) withTx(ctx context.Context, work func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("service: begin transaction: %w", err)
	}
	if err := work(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("service: commit transaction: %w", err)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, tx *sql.Tx, aggregateType, aggregateID, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("service: marshal %s event: %w", routingKey, err)
	}
	return s.outboxes.Append(ctx, tx, aggregateType, aggregateID, routingKey, body)
}

func (s *Service) emitOrderCreated(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	payload := map[string]interface{}{
		"orderId": o.ID, "userId": o.UserID, "storeId": o.StoreID, "status": o.Status,
		"totalPrice": o.TotalPrice, "shippingAddress": o.ShippingAddress, "createdAt": o.CreatedAt,
	}
	return s.emit(ctx, tx, "ORDER", o.ID, routingOrderCreated, payload)
}

func (s *Service) emitOrderEnvelope(ctx context.Context, tx *sql.Tx, o *domain.Order, routingKey string) error {
	payload := map[string]interface{}{
		"orderId": o.ID, "userId": o.UserID, "storeId": o.StoreID, "status": o.Status,
		"totalPrice": o.TotalPrice, "shippingAddress": o.ShippingAddress, "createdAt": o.CreatedAt,
		"courierId": o.CourierID,
	}
	return s.emit(ctx, tx, "ORDER", o.ID, routingKey, payload)
}
