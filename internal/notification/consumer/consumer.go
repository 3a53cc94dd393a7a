// Package consumer wires the Notification service's inbound queue: each
// order.* event whose routing key is listed in messages becomes a persisted
// Notification row (deliveredAt initially NULL), with a live push attempted
// immediately afterward. Other order.* keys reaching the queue have no
// handler and are acknowledged without creating a notification.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/timour/order-microservices/internal/notification/dispatcher"
	"github.com/timour/order-microservices/internal/notification/domain"
	"github.com/timour/order-microservices/internal/notification/store"
	"github.com/timour/order-microservices/internal/platform/broker"
	"github.com/timour/order-microservices/internal/platform/metrics"
	"github.com/timour/order-microservices/internal/platform/router"
)

const QueueName = "notification.inbound"

// routingKeys uses the topic exchange's wildcard form, so this is the one
// queue in the system that binds on a pattern instead of enumerating routing
// keys; only the keys in messages get a handler.
var routingKeys = []string{"order.#"}

type orderEnvelope struct {
	OrderID   string  `json:"orderId"`
	StoreID   *string `json:"storeId"`
	UserID    string  `json:"userId"`
	CourierID *string `json:"courierId"`
}

var messages = map[string]string{
	"order.created":                   "Your order has been placed.",
	"order.preparing":                 "Your order is being prepared.",
	"order.assigned":                  "A courier has been assigned to your order.",
	"order.on_the_way":                "Your order is on the way.",
	"order.delivered":                 "Your order has been delivered.",
	"order.cancelled":                 "Your order has been cancelled.",
	"order.stock_reservation_failed":  "We couldn't reserve stock for your order.",
}

func Register(ch *amqp.Channel, notifStore *store.Store, dispatch *dispatcher.Dispatcher, business *metrics.BusinessMetrics, logger *slog.Logger) (*router.Router, error) {
	if err := broker.DeclareQueue(ch, QueueName, routingKeys); err != nil {
		return nil, err
	}

	r := router.New(ch, QueueName, logger)

	handler := func(ctx context.Context, d amqp.Delivery) error {
		var env orderEnvelope
		if err := json.Unmarshal(d.Body, &env); err != nil {
			return fmt.Errorf("notification consumer: unmarshal %s: %w", d.RoutingKey, err)
		}
		if env.UserID == "" {
			return nil
		}

		n := &domain.Notification{
			UserID:  env.UserID,
			Type:    d.RoutingKey,
			OrderID: env.OrderID,
			StoreID: env.StoreID,
			Message: messageFor(d.RoutingKey),
			Payload: json.RawMessage(d.Body),
		}
		if err := notifStore.Create(ctx, n); err != nil {
			return err
		}

		if dispatch.Push(*n) {
			if err := notifStore.MarkDelivered(ctx, n.ID); err != nil {
				logger.Error("notification consumer: mark delivered failed", "notification_id", n.ID, "error", err)
			} else {
				business.NotificationsDelivered.Inc()
			}
		} else {
			business.NotificationsPending.Inc()
		}
		return nil
	}

	for rk := range messages {
		r.Handle(rk, handler)
	}

	return r, nil
}

func messageFor(routingKey string) string {
	if m, ok := messages[routingKey]; ok {
		return m
	}
	return "Your order has an update."
}
