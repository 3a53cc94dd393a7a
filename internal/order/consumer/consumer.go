// Package consumer wires the Order service's inbound queue to the shared
// Event Router (C9): product snapshot events, saga replies, and the
// internal courier-assignment command.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/timour/order-microservices/internal/order/saga"
	"github.com/timour/order-microservices/internal/order/service"
	"github.com/timour/order-microservices/internal/order/snapshot"
	"github.com/timour/order-microservices/internal/platform/broker"
	"github.com/timour/order-microservices/internal/platform/idempotency"
	"github.com/timour/order-microservices/internal/platform/router"
)

const QueueName = "order.inbound"

var routingKeys = []string{
	"product.created", "product.updated", "product.stock.updated",
	"product.stock.reserved", "product.stock.restored", "product.availability.updated",
	"product.deleted",
	"order.stock_reserved", "order.stock_reservation_failed",
	"order.assign_courier",
}

// Register declares the queue and binds every handler this service needs.
func Register(ch *amqp.Channel, svc *service.Service, snapshots *snapshot.Cache, idem *idempotency.Store, logger *slog.Logger) (*router.Router, error) {
	if err := broker.DeclareQueue(ch, QueueName, routingKeys); err != nil {
		return nil, err
	}

	r := router.New(ch, QueueName, logger)

	productHandler := func(ctx context.Context, d amqp.Delivery) error {
		if d.RoutingKey == "product.deleted" {
			var id string
			if err := json.Unmarshal(d.Body, &id); err != nil {
				return fmt.Errorf("order consumer: unmarshal product.deleted: %w", err)
			}
			return snapshots.Delete(ctx, id)
		}
		var s snapshot.Snapshot
		if err := json.Unmarshal(d.Body, &s); err != nil {
			return fmt.Errorf("order consumer: unmarshal %s: %w", d.RoutingKey, err)
		}
		return snapshots.Upsert(ctx, s)
	}
	for _, rk := range []string{"product.created", "product.updated", "product.stock.updated", "product.stock.reserved", "product.stock.restored", "product.availability.updated", "product.deleted"} {
		r.Handle(rk, productHandler)
	}

	r.Handle("order.stock_reserved", func(ctx context.Context, d amqp.Delivery) error {
		var msg saga.StockReserved
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			return fmt.Errorf("order consumer: unmarshal stock_reserved: %w", err)
		}
		return svc.HandleStockReserved(ctx, msg)
	})

	r.Handle("order.stock_reservation_failed", func(ctx context.Context, d amqp.Delivery) error {
		var msg saga.StockReservationFailed
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			return fmt.Errorf("order consumer: unmarshal stock_reservation_failed: %w", err)
		}
		return svc.HandleStockReservationFailed(ctx, msg)
	})

	r.Handle("order.assign_courier", func(ctx context.Context, d amqp.Delivery) error {
		var cmd struct {
			OrderID   string `json:"orderId"`
			CourierID string `json:"courierId"`
		}
		if err := json.Unmarshal(d.Body, &cmd); err != nil {
			return fmt.Errorf("order consumer: unmarshal assign_courier: %w", err)
		}
		return svc.AssignCourier(ctx, cmd.OrderID, cmd.CourierID)
	})

	return r, nil
}
