package outbox

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/timour/order-microservices/internal/platform/broker"
)

// Publisher drains the outbox to the broker on one ticker and prunes
// processed rows on another, the two periodic tasks spec §4.5 describes as
// living in one process per service.
type Publisher struct {
	store        *Store
	ch           *amqp.Channel
	logger       *slog.Logger
	drainEvery   time.Duration
	cleanupEvery time.Duration
	batchSize    int
	ttl          time.Duration
	onDrained    func()
	onDrainError func()
}

type Option func(*Publisher)

func WithDrainInterval(d time.Duration) Option     { return func(p *Publisher) { p.drainEvery = d } }
func WithCleanupInterval(d time.Duration) Option   { return func(p *Publisher) { p.cleanupEvery = d } }
func WithBatchSize(n int) Option                   { return func(p *Publisher) { p.batchSize = n } }
func WithProcessedTTL(d time.Duration) Option      { return func(p *Publisher) { p.ttl = d } }
func WithOnDrained(fn func()) Option               { return func(p *Publisher) { p.onDrained = fn } }
func WithOnDrainError(fn func()) Option            { return func(p *Publisher) { p.onDrainError = fn } }

func NewPublisher(store *Store, ch *amqp.Channel, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		store:        store,
		ch:           ch,
		logger:       logger,
		drainEvery:   5 * time.Second,
		cleanupEvery: time.Hour,
		batchSize:    50,
		ttl:          7 * 24 * time.Hour,
		onDrained:    func() {},
		onDrainError: func() {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks, driving the drain and cleanup loops until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	drainTicker := time.NewTicker(p.drainEvery)
	cleanupTicker := time.NewTicker(p.cleanupEvery)
	defer drainTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-drainTicker.C:
			p.drainOnce(ctx)
		case <-cleanupTicker.C:
			p.cleanupOnce(ctx)
		}
	}
}

// drainOnce fetches a pending batch and publishes each row in confirm mode,
// marking a row processed only after the broker acknowledges it. A failure
// to publish one row, or a broker nack, is logged and the row is left
// unprocessed for the next tick to retry; it never blocks the remaining
// rows in the batch.
func (p *Publisher) drainOnce(ctx context.Context) {
	events, err := p.store.FetchPendingBatch(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("outbox: fetch pending batch failed", "error", err)
		return
	}
	if err := p.ch.Confirm(false); err != nil {
		p.logger.Error("outbox: enable publisher confirms failed", "error", err)
		return
	}

	for _, e := range events {
		headers := broker.InjectTraceContext(ctx)
		confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, broker.OrderEventsExchange, e.Type, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        e.Payload,
			Headers:     headers,
		})
		if err != nil {
			p.logger.Error("outbox: publish failed, leaving row pending", "event_id", e.ID, "type", e.Type, "error", err)
			p.onDrainError()
			continue
		}
		if !confirm.Wait() {
			p.logger.Error("outbox: broker did not acknowledge publish, leaving row pending", "event_id", e.ID, "type", e.Type)
			p.onDrainError()
			continue
		}
		if err := p.store.MarkProcessed(ctx, e.ID); err != nil {
			p.logger.Error("outbox: mark processed failed", "event_id", e.ID, "error", err)
			p.onDrainError()
			continue
		}
		p.onDrained()
	}
}

func (p *Publisher) cleanupOnce(ctx context.Context) {
	cutoff := time.Now().Add(-p.ttl)
	deleted, err := p.store.DeleteProcessedOlderThan(ctx, cutoff, 1000)
	if err != nil {
		p.logger.Error("outbox: cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		p.logger.Info("outbox: cleanup removed processed rows", "count", deleted)
	}
}
