package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tienda/internal/apperrors"
	"tienda/internal/cache"
	"tienda/internal/metrics"
	"tienda/internal/models"
	"tienda/internal/payments"
	"tienda/internal/repositories"

	"go.uber.org/zap"
)

// Webhook event types that carry a checkout session outcome.
var reconciledEventTypes = map[string]bool{
	"checkout.session.completed":               true,
	"checkout.session.async_payment_succeeded": true,
	"checkout.session.async_payment_failed":    true,
	"checkout.session.expired":                 true,
}

// ReconciliationService applies the payment provider's view of a session to its order.
type ReconciliationService struct {
	orders     repositories.OrderRepository
	orderSvc   *OrderService
	provider   payments.Provider
	idem       cache.IdempotencyStore
	log        *zap.Logger
	webhookTTL time.Duration
}

// NewReconciliationService creates a new ReconciliationService.
func NewReconciliationService(orders repositories.OrderRepository, orderSvc *OrderService, provider payments.Provider, idem cache.IdempotencyStore, log *zap.Logger, webhookTTL time.Duration) *ReconciliationService {
	if webhookTTL <= 0 {
		webhookTTL = 48 * time.Hour
	}
	return &ReconciliationService{
		orders:     orders,
		orderSvc:   orderSvc,
		provider:   provider,
		idem:       idem,
		log:        log,
		webhookTTL: webhookTTL,
	}
}

// ConfirmPayment asks the provider for the authoritative state of sessionID and
// moves the matching order accordingly:
//   - paid: pending -> paid exactly once; repeated calls return the paid order
//   - expired or declined: pending -> canceled, releasing the reservation
//   - still open, or a delayed payment still processing: the order is returned unchanged
//
// A session no order holds, or a capture whose amount or currency differs from the
// order, is a ReconciliationMismatch.
func (s *ReconciliationService) ConfirmPayment(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, apperrors.Invalid("session_id is required")
	}

	status, err := s.provider.GetSessionStatus(ctx, sessionID)
	if err != nil {
		metrics.Reconciliations.WithLabelValues("provider_error").Inc()
		return nil, err
	}

	order, err := s.orders.GetByPaymentSession(ctx, sessionID)
	if errors.Is(err, apperrors.ErrOrderNotFound) {
		return nil, s.mismatch(sessionID, "", "no order holds the payment session")
	}
	if err != nil {
		return nil, err
	}

	switch {
	case status.Paid:
		return s.markPaid(ctx, order, status)
	case status.Failed():
		return s.markFailed(ctx, order)
	default:
		metrics.Reconciliations.WithLabelValues("unpaid").Inc()
		return order, nil
	}
}

// OrderForSession returns the order that holds sessionID without consulting the provider.
func (s *ReconciliationService) OrderForSession(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, apperrors.Invalid("session_id is required")
	}
	return s.orders.GetByPaymentSession(ctx, sessionID)
}

func (s *ReconciliationService) markPaid(ctx context.Context, order *models.Order, status *payments.SessionStatus) (*models.Order, error) {
	sessionID := status.SessionID
	if status.Amount != order.TotalAmount {
		return nil, s.mismatch(sessionID, order.ID,
			fmt.Sprintf("provider captured %d but the order total is %d", status.Amount, order.TotalAmount))
	}
	if !strings.EqualFold(status.Currency, order.Currency) {
		return nil, s.mismatch(sessionID, order.ID,
			fmt.Sprintf("provider captured %s but the order is priced in %s", status.Currency, order.Currency))
	}
	if alreadyPaid(order) {
		metrics.Reconciliations.WithLabelValues("duplicate").Inc()
		return order, nil
	}
	if order.Status == models.StatusCanceled {
		return nil, s.mismatch(sessionID, order.ID, "payment captured for a canceled order")
	}

	paid, err := s.orderSvc.transition(ctx, order, models.StatusPaid)
	if errors.Is(err, apperrors.ErrInvalidTransition) {
		// Lost the race: another confirmation moved the order first.
		current, getErr := s.orders.GetByID(ctx, order.ID)
		if getErr != nil {
			return nil, getErr
		}
		if alreadyPaid(current) {
			metrics.Reconciliations.WithLabelValues("duplicate").Inc()
			return current, nil
		}
		return nil, s.mismatch(sessionID, order.ID, fmt.Sprintf("payment captured for a %s order", current.Status))
	}
	if err != nil {
		return nil, err
	}

	metrics.Reconciliations.WithLabelValues("paid").Inc()
	s.log.Info("payment confirmed", zap.String("order_id", paid.ID), zap.String("session_id", sessionID))
	return paid, nil
}

func (s *ReconciliationService) markFailed(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.Status != models.StatusPending {
		metrics.Reconciliations.WithLabelValues("duplicate").Inc()
		return order, nil
	}
	canceled, err := s.orderSvc.transition(ctx, order, models.StatusCanceled)
	if errors.Is(err, apperrors.ErrInvalidTransition) {
		return s.orders.GetByID(ctx, order.ID)
	}
	if err != nil {
		return nil, err
	}
	metrics.Reconciliations.WithLabelValues("failed").Inc()
	return canceled, nil
}

// HandleWebhook verifies a provider notification and reconciles the session it names.
// Each event id is processed at most once; unrelated event types are ignored.
func (s *ReconciliationService) HandleWebhook(ctx context.Context, payload []byte, header http.Header) error {
	event, err := s.provider.ParseWebhook(payload, header)
	if err != nil {
		return err
	}
	if !reconciledEventTypes[event.Type] || event.SessionID == "" {
		s.log.Debug("ignoring webhook event", zap.String("event_id", event.ID), zap.String("type", event.Type))
		return nil
	}

	key := cache.WebhookEventKey(event.ID)
	_, claimed, err := s.idem.Claim(ctx, key, s.webhookTTL)
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Info("skipping duplicate webhook delivery", zap.String("event_id", event.ID))
		return nil
	}

	if _, err := s.ConfirmPayment(ctx, event.SessionID); err != nil {
		if fErr := s.idem.Forget(ctx, key); fErr != nil {
			s.log.Warn("failed to forget webhook event", zap.String("event_id", event.ID), zap.Error(fErr))
		}
		return err
	}
	if err := s.idem.Store(ctx, key, "done", s.webhookTTL); err != nil {
		s.log.Warn("failed to record webhook event", zap.String("event_id", event.ID), zap.Error(err))
	}
	return nil
}

func (s *ReconciliationService) mismatch(sessionID, orderID, reason string) error {
	metrics.Reconciliations.WithLabelValues("mismatch").Inc()
	s.log.Error("payment reconciliation mismatch",
		zap.String("session_id", sessionID),
		zap.String("order_id", orderID),
		zap.String("reason", reason))
	return fmt.Errorf("%w: session %s: %s", apperrors.ErrReconciliationMismatch, sessionID, reason)
}

// alreadyPaid reports whether the order's payment has been recorded.
func alreadyPaid(order *models.Order) bool {
	if order.PaidAt != nil {
		return true
	}
	switch order.Status {
	case models.StatusPaid, models.StatusInProgress, models.StatusShipped, models.StatusDelivered:
		return true
	}
	return false
}
