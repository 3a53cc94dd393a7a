// Package router implements the Event Router (C9): routing-key-based
// dispatch to typed handlers, replacing the one-off hand-rolled consume
// loop each service used to write for itself.
package router

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/timour/order-microservices/internal/platform/broker"
)

// Handler processes one delivery already known (by routing key) to carry a
// specific payload shape. Returning an error triggers retry-then-DLQ;
// returning nil Acks the delivery.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Router binds routing keys to handlers and drives one queue's consume loop.
// Disambiguation is by routing key only — never by inspecting the payload —
// per spec §4.9 and the Design Notes' "event-kind polymorphism via payload
// type" rejection.
type Router struct {
	ch       *amqp.Channel
	queue    string
	logger   *slog.Logger
	handlers map[string]Handler
}

func New(ch *amqp.Channel, queue string, logger *slog.Logger) *Router {
	return &Router{ch: ch, queue: queue, logger: logger, handlers: make(map[string]Handler)}
}

// Handle registers h for routingKey. Declaring the queue binding itself is
// the caller's responsibility via broker.DeclareQueue, since bindings are a
// one-time setup step distinct from dispatch.
func (r *Router) Handle(routingKey string, h Handler) {
	r.handlers[routingKey] = h
}

// Listen consumes the queue until ctx is cancelled, dispatching each
// delivery to the handler registered for its routing key. Handler errors are
// retried via broker.HandleRetry up to broker.MaxRetryCount before the
// message is dead-lettered; deliveries with no registered handler are Acked
// immediately (the queue may be bound to keys this process doesn't care
// about today).
func (r *Router) Listen(ctx context.Context) error {
	deliveries, err := r.ch.Consume(r.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("router: consume %s: %w", r.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("router: delivery channel for %s closed", r.queue)
			}
			r.dispatch(ctx, d)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, d amqp.Delivery) {
	handler, ok := r.handlers[d.RoutingKey]
	if !ok {
		r.logger.Warn("router: no handler registered for routing key", "routing_key", d.RoutingKey, "queue", r.queue)
		_ = d.Ack(false)
		return
	}

	handlerCtx := broker.ExtractTraceContext(ctx, d.Headers)
	if err := handler(handlerCtx, d); err != nil {
		r.logger.Error("router: handler failed, scheduling retry", "routing_key", d.RoutingKey, "queue", r.queue, "error", err)
		if retryErr := broker.HandleRetry(r.ch, &d); retryErr != nil {
			r.logger.Error("router: retry/dlq routing failed", "routing_key", d.RoutingKey, "error", retryErr)
		}
		return
	}
	_ = d.Ack(false)
}
