package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tienda/internal/apperrors"
	"tienda/internal/models"
	"tienda/internal/payments"
	"tienda/internal/repositories"

	"go.uber.org/zap"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100

	// A status write that loses this many compare-and-set races in a row gives up.
	maxTransitionAttempts = 3
)

// OrderService owns the order state machine and the order query API.
type OrderService struct {
	orders   repositories.OrderRepository
	ledger   *InventoryLedger
	provider payments.Provider
	events   EventPublisher
	log      *zap.Logger
	now      func() time.Time
}

// NewOrderService creates a new OrderService. events may be nil.
func NewOrderService(orders repositories.OrderRepository, ledger *InventoryLedger, provider payments.Provider, events EventPublisher, log *zap.Logger) *OrderService {
	return &OrderService{
		orders:   orders,
		ledger:   ledger,
		provider: provider,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

// GetOrder retrieves a single order by its ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// ListOrders returns one page of orders matching filter, newest first.
func (s *OrderService) ListOrders(ctx context.Context, filter models.OrderFilter, page models.Pagination) (*models.OrderPage, error) {
	if filter.Status != "" {
		if _, err := models.ParseStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	page = normalizePage(page)

	orders, total, err := s.orders.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return &models.OrderPage{Orders: orders, Meta: models.NewPageMeta(page, total)}, nil
}

// UpdateOrderStatus moves an order to the raw target status through the state machine.
// Payment is only ever recorded by reconciliation, and cancellation goes through CancelOrder.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id, rawStatus string) (*models.Order, error) {
	to, err := models.ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	switch to {
	case models.StatusPaid:
		return nil, fmt.Errorf("%w: orders become paid only through payment confirmation", apperrors.ErrInvalidTransition)
	case models.StatusCanceled:
		return s.CancelOrder(ctx, id)
	}

	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, order, to)
}

// CancelOrder cancels a pending, paid or in-progress order. Reserved stock is
// released; stock of a paid order is restocked and its payment refunded.
func (s *OrderService) CancelOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status == models.StatusPending && order.PaymentSessionID != nil {
		if err := s.closeSession(ctx, *order.PaymentSessionID); err != nil {
			return nil, err
		}
	}
	return s.transition(ctx, order, models.StatusCanceled)
}

// closeSession makes sure an unpaid session can no longer be completed.
func (s *OrderService) closeSession(ctx context.Context, sessionID string) error {
	status, err := s.provider.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return err
	}
	if status.Paid {
		return fmt.Errorf("%w: payment for session %s was captured; confirm it before canceling", apperrors.ErrInvalidTransition, sessionID)
	}
	if status.Processing() {
		return fmt.Errorf("%w: payment for session %s is still processing", apperrors.ErrInvalidTransition, sessionID)
	}
	if status.State != payments.SessionOpen {
		return nil
	}
	if err := s.provider.ExpireSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to expire payment session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteOrder removes an order that no longer holds inventory.
func (s *OrderService) DeleteOrder(ctx context.Context, id string) error {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if order.Status.HoldsInventory() {
		return fmt.Errorf("%w: order %s is %s", apperrors.ErrOutstandingCommitments, id, order.Status)
	}
	if err := s.orders.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete order %s: %w", id, err)
	}
	s.log.Info("order deleted", zap.String("order_id", id), zap.String("status", string(order.Status)))
	return nil
}

// FulfillmentEvent is a warehouse or carrier notification about an order.
type FulfillmentEvent struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// HandleFulfillmentMessage applies a fulfillment notification. Messages that can
// never succeed are logged and swallowed; only infrastructure errors are returned.
func (s *OrderService) HandleFulfillmentMessage(ctx context.Context, body []byte) error {
	var event FulfillmentEvent
	if err := json.Unmarshal(body, &event); err != nil || event.OrderID == "" {
		s.log.Warn("dropping malformed fulfillment message", zap.ByteString("body", body), zap.Error(err))
		return nil
	}

	_, err := s.UpdateOrderStatus(ctx, event.OrderID, event.Status)
	if err != nil && apperrors.IsClientError(err) {
		s.log.Warn("rejected fulfillment update",
			zap.String("order_id", event.OrderID),
			zap.String("status", event.Status),
			zap.Error(err))
		return nil
	}
	return err
}

// transition moves order to the target status and applies the side effects of that
// edge. The status write is a compare-and-set: a caller that loses a race re-reads the
// order and re-validates, so each side effect runs for exactly one writer.
func (s *OrderService) transition(ctx context.Context, order *models.Order, to models.OrderStatus) (*models.Order, error) {
	for attempt := 1; ; attempt++ {
		effect, err := models.Transition(order.Status, to)
		if err != nil {
			return nil, err
		}

		at := s.now()
		err = s.orders.UpdateStatus(ctx, order.ID, order.Status, to, at)
		if err == nil {
			from := order.Status
			order.Status = to
			if effErr := s.applyEffect(ctx, order, effect); effErr != nil {
				return nil, effErr
			}
			s.log.Info("order status changed",
				zap.String("order_id", order.ID),
				zap.String("from", string(from)),
				zap.String("to", string(to)))
			return s.published(ctx, order, to, at), nil
		}
		if !errors.Is(err, repositories.ErrStatusConflict) || attempt == maxTransitionAttempts {
			return nil, fmt.Errorf("failed to move order %s to %s: %w", order.ID, to, err)
		}

		if order, err = s.orders.GetByID(ctx, order.ID); err != nil {
			return nil, err
		}
	}
}

func (s *OrderService) applyEffect(ctx context.Context, order *models.Order, effect models.InventoryEffect) error {
	if err := s.ledger.Apply(ctx, effect, order.Items); err != nil {
		s.log.Error("inventory update failed after status change",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)),
			zap.Error(err))
		return fmt.Errorf("order %s is %s but its inventory was not updated: %w", order.ID, order.Status, err)
	}
	if effect != models.EffectRestock || order.PaymentSessionID == nil {
		return nil
	}
	// The cancellation stands; a failed refund is left to operators.
	if err := s.provider.Refund(ctx, *order.PaymentSessionID); err != nil {
		s.log.Error("refund failed for canceled order",
			zap.String("order_id", order.ID),
			zap.String("session_id", *order.PaymentSessionID),
			zap.Error(err))
	}
	return nil
}

// published reloads the order after a transition and announces it.
func (s *OrderService) published(ctx context.Context, order *models.Order, to models.OrderStatus, at time.Time) *models.Order {
	if fresh, err := s.orders.GetByID(ctx, order.ID); err == nil {
		order = fresh
	}
	publishOrderEvent(s.events, s.log, routingKeyFor(to), order, at)
	return order
}

func normalizePage(p models.Pagination) models.Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}
