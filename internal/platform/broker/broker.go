// Package broker owns the AMQP connection, the single topic exchange, and
// the dead-letter plumbing shared by every service's publisher and consumers.
//
// Warum ein einziger Topic-Exchange statt vier direkter Exchanges? Jede
// Routing-Key-Familie (order.*, product.*) braucht unabhängige Bindings pro
// Konsument; ein Topic-Exchange erlaubt das ohne einen Exchange pro
// Ereignistyp anzulegen.
package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// OrderEventsExchange is the one durable topic exchange every service
	// publishes business events to and binds queues against.
	OrderEventsExchange = "order_events_exchange"

	dlx = "order_events_dlx"

	// MaxRetryCount bounds in-process redelivery attempts before a message
	// is routed to its queue's dead-letter queue for operator inspection.
	MaxRetryCount = 3
)

// Connect dials the AMQP broker, opens one channel, and declares the shared
// topic exchange plus its dead-letter exchange. The returned close func
// closes both the channel and the connection.
func Connect(user, pass, host, port string) (*amqp.Connection, *amqp.Channel, func() error, error) {
	uri := fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("broker: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("broker: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(OrderEventsExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, fmt.Errorf("broker: declare topic exchange: %w", err)
	}

	if err := ch.ExchangeDeclare(dlx, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, fmt.Errorf("broker: declare dlx: %w", err)
	}

	closeFn := func() error {
		if err := ch.Close(); err != nil {
			return err
		}
		return conn.Close()
	}

	return conn, ch, closeFn, nil
}

// DeclareQueue declares a durable queue bound to routingKeys on the shared
// topic exchange, with a dead-letter queue of the same name parked behind
// the shared DLX. Every consumer queue in the system is declared this way.
func DeclareQueue(ch *amqp.Channel, queueName string, routingKeys []string) error {
	dlqName := queueName + ".dlq"
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare dlq %s: %w", dlqName, err)
	}
	if err := ch.QueueBind(dlqName, "", dlx, false, nil); err != nil {
		return fmt.Errorf("broker: bind dlq %s: %w", dlqName, err)
	}

	args := amqp.Table{"x-dead-letter-exchange": dlx}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", queueName, err)
	}
	for _, rk := range routingKeys {
		if err := ch.QueueBind(queueName, rk, OrderEventsExchange, false, nil); err != nil {
			return fmt.Errorf("broker: bind %s to %s: %w", queueName, rk, err)
		}
	}
	return nil
}

// HandleRetry inspects the x-retry-count header on a failed delivery and
// either republishes it to its own queue with the counter incremented, or
// Nacks it without requeue once MaxRetryCount is reached, letting the
// broker route it to the dead-letter queue.
func HandleRetry(ch *amqp.Channel, d *amqp.Delivery) error {
	retryCount := int64(0)
	if v, ok := d.Headers["x-retry-count"]; ok {
		if n, ok := v.(int64); ok {
			retryCount = n
		}
	}
	retryCount++

	if retryCount > MaxRetryCount {
		return d.Nack(false, false)
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-retry-count"] = retryCount

	if err := ch.Publish(d.Exchange, d.RoutingKey, false, false, amqp.Publishing{
		ContentType: d.ContentType,
		Body:        d.Body,
		Headers:     headers,
	}); err != nil {
		return fmt.Errorf("broker: republish for retry: %w", err)
	}
	return d.Ack(false)
}
