// Package consumer wires the Courier service's inbound queue: assignment on
// order.preparing, and status reversion on order.delivered / order.cancelled.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/timour/order-microservices/internal/courier/service"
	"github.com/timour/order-microservices/internal/platform/broker"
	"github.com/timour/order-microservices/internal/platform/router"
)

const QueueName = "courier.inbound"

var routingKeys = []string{"order.preparing", "order.delivered", "order.cancelled"}

func Register(ch *amqp.Channel, svc *service.Service, logger *slog.Logger) (*router.Router, error) {
	if err := broker.DeclareQueue(ch, QueueName, routingKeys); err != nil {
		return nil, err
	}

	r := router.New(ch, QueueName, logger)

	r.Handle("order.preparing", func(ctx context.Context, d amqp.Delivery) error {
		var msg struct {
			OrderID string `json:"orderId"`
		}
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			return fmt.Errorf("courier consumer: unmarshal order.preparing: %w", err)
		}
		return svc.AssignForOrder(ctx, msg.OrderID)
	})

	release := func(ctx context.Context, d amqp.Delivery) error {
		var msg struct {
			CourierID *string `json:"courierId"`
		}
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			return fmt.Errorf("courier consumer: unmarshal %s: %w", d.RoutingKey, err)
		}
		if msg.CourierID == nil {
			return nil
		}
		return svc.ReleaseForUser(ctx, *msg.CourierID)
	}
	r.Handle("order.delivered", release)
	r.Handle("order.cancelled", release)

	return r, nil
}
