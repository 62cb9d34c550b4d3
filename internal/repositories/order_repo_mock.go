package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tienda/internal/apperrors"
	"tienda/internal/models"

	"github.com/google/uuid"
)

// MockOrderRepository is an in-memory implementation of OrderRepository.
// It enforces the same session uniqueness and status compare-and-set as the GORM repository.
type MockOrderRepository struct {
	orders    map[string]models.Order
	bySession map[string]string
	mu        sync.RWMutex
}

// NewMockOrderRepository creates a new instance of MockOrderRepository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders:    make(map[string]models.Order),
		bySession: make(map[string]string),
	}
}

// List returns orders matching filter, newest first.
func (r *MockOrderRepository) List(ctx context.Context, filter models.OrderFilter, page models.Pagination) ([]models.Order, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orderList := make([]models.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		orderList = append(orderList, cloneOrder(order))
	}
	sort.Slice(orderList, func(i, j int) bool { return orderList[i].CreatedAt.After(orderList[j].CreatedAt) })
	return paginate(orderList, page), int64(len(orderList)), nil
}

// GetByID returns an order by its ID.
func (r *MockOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, id)
	}
	order = cloneOrder(order)
	return &order, nil
}

// GetByPaymentSession returns the order holding sessionID.
func (r *MockOrderRepository) GetByPaymentSession(ctx context.Context, sessionID string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySession[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, sessionID)
	}
	order := cloneOrder(r.orders[id])
	return &order, nil
}

// Create adds a new order.
func (r *MockOrderRepository) Create(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.PaymentSessionID != nil {
		if _, taken := r.bySession[*order.PaymentSessionID]; taken {
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicateSession, *order.PaymentSessionID)
		}
		r.bySession[*order.PaymentSessionID] = order.ID
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	r.orders[order.ID] = cloneOrder(*order)
	return nil
}

// AttachPaymentSession stores the session reference if the order has none and the session is free.
func (r *MockOrderRepository) AttachPaymentSession(ctx context.Context, orderID, sessionID, paymentURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	if order.PaymentSessionID != nil {
		if *order.PaymentSessionID == sessionID {
			return nil
		}
		return fmt.Errorf("%w: order %s already has a session", apperrors.ErrDuplicateSession, orderID)
	}
	if holder, taken := r.bySession[sessionID]; taken && holder != orderID {
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateSession, sessionID)
	}
	order.PaymentSessionID = &sessionID
	order.PaymentURL = paymentURL
	order.UpdatedAt = time.Now()
	r.orders[orderID] = order
	r.bySession[sessionID] = orderID
	return nil
}

// UpdateStatus moves the order from -> to if it is still in from.
func (r *MockOrderRepository) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, id)
	}
	if order.Status != from {
		return ErrStatusConflict
	}
	order.Status = to
	order.UpdatedAt = at
	switch to {
	case models.StatusPaid:
		order.PaidAt = &at
	case models.StatusCanceled:
		order.CanceledAt = &at
	}
	r.orders[id] = order
	return nil
}

// ListPendingBefore returns up to limit pending orders created before cutoff, oldest first.
func (r *MockOrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []models.Order
	for _, order := range r.orders {
		if order.Status == models.StatusPending && order.CreatedAt.Before(cutoff) {
			pending = append(pending, cloneOrder(order))
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// Delete removes an order.
func (r *MockOrderRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, id)
	}
	if order.PaymentSessionID != nil {
		delete(r.bySession, *order.PaymentSessionID)
	}
	delete(r.orders, id)
	return nil
}

// Backdate shifts an order's creation time into the past; used to exercise expiry.
func (r *MockOrderRepository) Backdate(id string, age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order, ok := r.orders[id]; ok {
		order.CreatedAt = order.CreatedAt.Add(-age)
		r.orders[id] = order
	}
}

func cloneOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	return o
}
