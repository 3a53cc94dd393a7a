// Package consumer wires the Store service's inbound queue to the Event
// Router (C9): the saga's reservation-request handler and the cancellation
// compensator.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/timour/order-microservices/internal/platform/broker"
	"github.com/timour/order-microservices/internal/platform/router"
	"github.com/timour/order-microservices/internal/store/compensator"
	"github.com/timour/order-microservices/internal/store/saga"
)

const QueueName = "store.inbound"

var routingKeys = []string{
	"order.stock_reservation.requested",
	"order.cancelled",
}

func Register(ch *amqp.Channel, sagaHandler *saga.Handler, comp *compensator.Compensator, logger *slog.Logger) (*router.Router, error) {
	if err := broker.DeclareQueue(ch, QueueName, routingKeys); err != nil {
		return nil, err
	}

	r := router.New(ch, QueueName, logger)

	r.Handle("order.stock_reservation.requested", func(ctx context.Context, d amqp.Delivery) error {
		var req saga.ReservationRequested
		if err := json.Unmarshal(d.Body, &req); err != nil {
			return fmt.Errorf("store consumer: unmarshal reservation request: %w", err)
		}
		return sagaHandler.HandleReservationRequested(ctx, req)
	})

	r.Handle("order.cancelled", func(ctx context.Context, d amqp.Delivery) error {
		var evt compensator.OrderCancelled
		if err := json.Unmarshal(d.Body, &evt); err != nil {
			return fmt.Errorf("store consumer: unmarshal order.cancelled: %w", err)
		}
		return comp.Handle(ctx, evt)
	})

	return r, nil
}
