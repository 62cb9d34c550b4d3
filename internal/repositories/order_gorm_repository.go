package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tienda/internal/apperrors"
	"tienda/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
// The database must be opened with TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{db: db}
}

// List retrieves orders matching filter with pagination, newest first.
func (r *GORMOrderRepository) List(ctx context.Context, filter models.OrderFilter, page models.Pagination) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}
	if err := query.
		Preload("Items").
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

// GetByID retrieves an order and its items.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByPaymentSession retrieves the order holding sessionID.
func (r *GORMOrderRepository) GetByPaymentSession(ctx context.Context, sessionID string) (*models.Order, error) {
	return r.first(ctx, "payment_session_id = ?", sessionID)
}

func (r *GORMOrderRepository) first(ctx context.Context, cond string, arg string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items").Where(cond, arg).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, arg)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// Create inserts the order together with its items.
func (r *GORMOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %v", apperrors.ErrDuplicateSession, err)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// AttachPaymentSession sets the session reference; the unique index arbitrates concurrent writers.
func (r *GORMOrderRepository) AttachPaymentSession(ctx context.Context, orderID, sessionID, paymentURL string) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_session_id IS NULL", orderID).
		Updates(map[string]interface{}{
			"payment_session_id": sessionID,
			"payment_url":        paymentURL,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicateSession, sessionID)
		}
		return fmt.Errorf("failed to attach payment session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := r.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if existing.PaymentSessionID != nil && *existing.PaymentSessionID == sessionID {
			return nil
		}
		return fmt.Errorf("%w: order %s already has a session", apperrors.ErrDuplicateSession, orderID)
	}
	return nil
}

// UpdateStatus performs a compare-and-set on the status column.
func (r *GORMOrderRepository) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(statusTimestamps(to, at))
	if res.Error != nil {
		return fmt.Errorf("failed to update order status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// ListPendingBefore returns up to limit pending orders created before cutoff.
func (r *GORMOrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	return orders, nil
}

// Delete removes an order and its items.
func (r *GORMOrderRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
			return fmt.Errorf("failed to delete order items: %w", err)
		}
		res := tx.Delete(&models.Order{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete order: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, id)
		}
		return nil
	})
}
