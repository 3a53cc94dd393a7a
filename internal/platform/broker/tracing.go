package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HeadersCarrier adapts amqp.Table to propagation.TextMapCarrier so the W3C
// trace context travels inside AMQP message headers across the publish/
// consume boundary, instead of being dropped at the broker.
type HeadersCarrier amqp.Table

func (c HeadersCarrier) Get(key string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (c HeadersCarrier) Set(key, value string) {
	c[key] = value
}

func (c HeadersCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectTraceContext writes ctx's active span context into a fresh header
// table suitable for amqp.Publishing.Headers.
func InjectTraceContext(ctx context.Context) amqp.Table {
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, HeadersCarrier(headers))
	return headers
}

// ExtractTraceContext recovers the span context a publisher injected into
// headers, returning a context a consumer can start a child span from.
func ExtractTraceContext(ctx context.Context, headers amqp.Table) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, HeadersCarrier(headers))
}
