package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher adapts a channel to the txevents.Publisher interface, for
// services (Store) that publish in the commit-phase mode rather than through
// a persistent outbox.
type AMQPPublisher struct {
	ch *amqp.Channel
}

func NewAMQPPublisher(ch *amqp.Channel) *AMQPPublisher {
	return &AMQPPublisher{ch: ch}
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	headers := InjectTraceContext(ctx)
	err := p.ch.PublishWithContext(ctx, OrderEventsExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
		Headers:     headers,
	})
	if err != nil {
		return fmt.Errorf("broker: publish %s: %w", routingKey, err)
	}
	return nil
}
