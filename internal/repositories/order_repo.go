package repositories

import (
	"context"
	"errors"
	"time"

	"tienda/internal/models"
)

// ErrStatusConflict is returned when an order is no longer in the status a caller expected.
var ErrStatusConflict = errors.New("order status changed concurrently")

// OrderRepository defines the interface for order data access.
type OrderRepository interface {
	List(ctx context.Context, filter models.OrderFilter, page models.Pagination) ([]models.Order, int64, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByPaymentSession(ctx context.Context, sessionID string) (*models.Order, error)
	Create(ctx context.Context, order *models.Order) error
	// AttachPaymentSession stores the provider session on an order that has none yet.
	// A session already held by another order yields apperrors.ErrDuplicateSession.
	AttachPaymentSession(ctx context.Context, orderID, sessionID, paymentURL string) error
	// UpdateStatus moves the order from -> to only if it is still in from, else ErrStatusConflict.
	UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus, at time.Time) error
	// ListPendingBefore returns pending orders created before cutoff, oldest first.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	Delete(ctx context.Context, id string) error
}

func statusTimestamps(to models.OrderStatus, at time.Time) map[string]interface{} {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case models.StatusPaid:
		updates["paid_at"] = at
	case models.StatusCanceled:
		updates["canceled_at"] = at
	}
	return updates
}
