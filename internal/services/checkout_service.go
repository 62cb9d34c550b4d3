package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tienda/internal/apperrors"
	"tienda/internal/cache"
	"tienda/internal/metrics"
	"tienda/internal/models"
	"tienda/internal/payments"
	"tienda/internal/pricing"
	"tienda/internal/repositories"

	"go.uber.org/zap"
)

// CheckoutConfig holds deployment-wide checkout settings.
type CheckoutConfig struct {
	Currency       string
	IdempotencyTTL time.Duration
}

// CheckoutResult is the pending order plus the handle the customer pays with.
type CheckoutResult struct {
	Order   *models.Order     `json:"order"`
	Payment *payments.Session `json:"payment"`
}

// CheckoutService turns a cart into a priced, reserved, pending order with a payment session.
type CheckoutService struct {
	products repositories.ProductRepository
	orders   repositories.OrderRepository
	ledger   *InventoryLedger
	provider payments.Provider
	idem     cache.IdempotencyStore
	events   EventPublisher
	log      *zap.Logger
	cfg      CheckoutConfig
	now      func() time.Time
}

// NewCheckoutService creates a new CheckoutService. events may be nil.
func NewCheckoutService(
	products repositories.ProductRepository,
	orders repositories.OrderRepository,
	ledger *InventoryLedger,
	provider payments.Provider,
	idem cache.IdempotencyStore,
	events EventPublisher,
	log *zap.Logger,
	cfg CheckoutConfig,
) *CheckoutService {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &CheckoutService{
		products: products,
		orders:   orders,
		ledger:   ledger,
		provider: provider,
		idem:     idem,
		events:   events,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateCheckout creates a pending order for the cart and opens a payment session for its total.
// Either every line is reserved and the session exists, or nothing is left behind.
// A non-empty idempotencyKey makes retries of the same request return the first result.
func (s *CheckoutService) CreateCheckout(ctx context.Context, userID string, cart []models.CartItem, idempotencyKey string) (*CheckoutResult, error) {
	if userID == "" {
		return nil, apperrors.Invalid("user is required")
	}
	cart, err := normalizeCart(cart)
	if err != nil {
		metrics.Checkouts.WithLabelValues("invalid").Inc()
		return nil, err
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return s.checkout(ctx, userID, cart)
	}

	key := cache.CheckoutKey(userID, idempotencyKey)
	orderID, claimed, err := s.idem.Claim(ctx, key, s.cfg.IdempotencyTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		if orderID == "" {
			return nil, apperrors.ErrCheckoutInProgress
		}
		return s.replay(ctx, orderID)
	}

	result, err := s.checkout(ctx, userID, cart)
	if err != nil {
		if fErr := s.idem.Forget(ctx, key); fErr != nil {
			s.log.Warn("failed to forget idempotency key", zap.String("key", key), zap.Error(fErr))
		}
		return nil, err
	}
	if err := s.idem.Store(ctx, key, result.Order.ID, s.cfg.IdempotencyTTL); err != nil {
		s.log.Warn("failed to store idempotency result", zap.String("key", key), zap.Error(err))
	}
	return result, nil
}

func (s *CheckoutService) checkout(ctx context.Context, userID string, cart []models.CartItem) (*CheckoutResult, error) {
	at := s.now()

	lines := make([]models.OrderItem, 0, len(cart))
	for _, item := range cart {
		product, err := s.products.GetByID(ctx, item.ProductID)
		if err != nil {
			metrics.Checkouts.WithLabelValues(checkoutFailure(err)).Inc()
			return nil, err
		}
		lines = append(lines, models.OrderItem{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			Price:     pricing.EffectivePrice(product, at),
		})
	}

	if err := s.ledger.ReserveAll(ctx, lines); err != nil {
		metrics.Checkouts.WithLabelValues(checkoutFailure(err)).Inc()
		return nil, err
	}

	order := &models.Order{
		UserID:      userID,
		Items:       lines,
		TotalAmount: models.ComputeTotal(lines),
		Currency:    s.cfg.Currency,
		Status:      models.StatusPending,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		s.releaseLines(ctx, "", lines)
		metrics.Checkouts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	session, err := s.provider.CreateSession(ctx, payments.SessionRequest{
		OrderID:     order.ID,
		UserID:      userID,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		Description: fmt.Sprintf("Order %s", order.ID),
	})
	if err != nil {
		s.abandon(ctx, order)
		metrics.Checkouts.WithLabelValues(checkoutFailure(err)).Inc()
		return nil, fmt.Errorf("failed to create payment session for order %s: %w", order.ID, err)
	}

	if err := s.orders.AttachPaymentSession(ctx, order.ID, session.ID, session.URL); err != nil {
		s.log.Error("failed to attach payment session",
			zap.String("order_id", order.ID),
			zap.String("session_id", session.ID),
			zap.Error(err))
		if expErr := s.provider.ExpireSession(ctx, session.ID); expErr != nil {
			s.log.Warn("failed to expire orphaned session", zap.String("session_id", session.ID), zap.Error(expErr))
		}
		s.abandon(ctx, order)
		metrics.Checkouts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to attach payment session to order %s: %w", order.ID, err)
	}
	order.PaymentSessionID = &session.ID
	order.PaymentURL = session.URL

	s.log.Info("checkout created",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.String("session_id", session.ID),
		zap.Int64("total_amount", order.TotalAmount))
	metrics.Checkouts.WithLabelValues("created").Inc()
	publishOrderEvent(s.events, s.log, EventOrderCreated, order, at)

	return &CheckoutResult{Order: order, Payment: session}, nil
}

// replay returns the result of an earlier checkout with the same idempotency key.
func (s *CheckoutService) replay(ctx context.Context, orderID string) (*CheckoutResult, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	metrics.Checkouts.WithLabelValues("replayed").Inc()
	result := &CheckoutResult{Order: order}
	if order.PaymentSessionID != nil {
		result.Payment = &payments.Session{ID: *order.PaymentSessionID, URL: order.PaymentURL}
	}
	return result, nil
}

// abandon cancels a pending order whose payment session could not be set up and releases its stock.
func (s *CheckoutService) abandon(ctx context.Context, order *models.Order) {
	if err := s.orders.UpdateStatus(ctx, order.ID, models.StatusPending, models.StatusCanceled, s.now()); err != nil {
		s.log.Error("failed to cancel abandoned checkout", zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	s.releaseLines(ctx, order.ID, order.Items)
}

func (s *CheckoutService) releaseLines(ctx context.Context, orderID string, lines []models.OrderItem) {
	if err := s.ledger.ReleaseAll(ctx, lines); err != nil {
		s.log.Error("failed to release reservation", zap.String("order_id", orderID), zap.Error(err))
	}
}

// normalizeCart merges repeated products and rejects empty carts or non-positive quantities.
func normalizeCart(cart []models.CartItem) ([]models.CartItem, error) {
	if len(cart) == 0 {
		return nil, apperrors.Invalid("cart must contain at least one item")
	}
	merged := make([]models.CartItem, 0, len(cart))
	index := make(map[string]int, len(cart))
	for _, item := range cart {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return nil, apperrors.Invalid("cart item is missing a product id")
		}
		if item.Quantity < 1 {
			return nil, apperrors.Invalid("quantity for product %s must be at least 1", item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func checkoutFailure(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, apperrors.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, apperrors.ErrPaymentProviderUnavailable):
		return "provider_unavailable"
	default:
		return "error"
	}
}
