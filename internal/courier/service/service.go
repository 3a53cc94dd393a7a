// Package service implements the Courier Assignment component (C11): a
// stub "first AVAILABLE courier" policy plus self-service status/location
// updates, and the status reversion that happens when a delivery ends.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/timour/order-microservices/internal/courier/domain"
	"github.com/timour/order-microservices/internal/platform/apperr"
	"github.com/timour/order-microservices/internal/platform/broker"
)

const (
	routingAssignCourier = "order.assign_courier"
)

type Service struct {
	store  *Store
	ch     *amqp.Channel
	logger *slog.Logger
}

func New(store *Store, ch *amqp.Channel, logger *slog.Logger) *Service {
	return &Service{store: store, ch: ch, logger: logger}
}

func (s *Service) GetMine(ctx context.Context, userID string) (*domain.Courier, error) {
	return s.store.EnsureForUser(ctx, userID)
}

func (s *Service) SetStatus(ctx context.Context, userID string, status domain.Status) error {
	c, err := s.store.EnsureForUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.store.UpdateStatus(ctx, c.ID, status)
}

func (s *Service) SetLocation(ctx context.Context, userID string, lat, lng float64) error {
	c, err := s.store.EnsureForUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.store.UpdateLocation(ctx, c.ID, lat, lng)
}

// AssignForOrder picks the longest-idle AVAILABLE courier, marks it BUSY,
// and publishes the order.assign_courier command the Order service consumes
// to attach courierId. When no courier is available it logs a warning and
// returns nil, so the order.preparing delivery is acknowledged and not
// retried; the order stays PREPARING with no courier attached.
func (s *Service) AssignForOrder(ctx context.Context, orderID string) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("courier: begin assignment: %w", err)
	}

	c, err := s.store.FirstAvailable(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.NotFound {
			s.logger.Warn("courier: no courier available for order", "order_id", orderID)
			return nil
		}
		return err
	}

	if err := s.store.UpdateStatusTx(ctx, tx, c.ID, domain.StatusBusy); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("courier: commit assignment: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"orderId": orderID, "courierId": c.UserID})
	if err != nil {
		return fmt.Errorf("courier: marshal assign command: %w", err)
	}
	headers := broker.InjectTraceContext(ctx)
	if err := s.ch.PublishWithContext(ctx, broker.OrderEventsExchange, routingAssignCourier, false, false, amqp.Publishing{
		ContentType: "application/json", Body: payload, Headers: headers,
	}); err != nil {
		return fmt.Errorf("courier: publish assign command: %w", err)
	}
	return nil
}

// ReleaseForUser reverts a courier back to AVAILABLE once a delivery ends
// (order.delivered, or order.cancelled after a courier was attached).
func (s *Service) ReleaseForUser(ctx context.Context, courierUserID string) error {
	c, err := s.store.GetByUser(ctx, courierUserID)
	if err != nil {
		return err
	}
	return s.store.UpdateStatus(ctx, c.ID, domain.StatusAvailable)
}
