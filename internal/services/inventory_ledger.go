package services

import (
	"context"
	"errors"
	"fmt"

	"tienda/internal/apperrors"
	"tienda/internal/models"
	"tienda/internal/repositories"

	"go.uber.org/zap"
)

// InventoryLedger reserves, releases and commits stock for order lines.
type InventoryLedger struct {
	products repositories.ProductRepository
	stock    repositories.InventoryRepository
	log      *zap.Logger
}

// NewInventoryLedger creates a new InventoryLedger.
func NewInventoryLedger(products repositories.ProductRepository, stock repositories.InventoryRepository, log *zap.Logger) *InventoryLedger {
	return &InventoryLedger{products: products, stock: stock, log: log}
}

// CheckAvailability fails with a StockError when qty exceeds the available quantity.
// The answer is advisory; only Reserve guarantees the units.
func (l *InventoryLedger) CheckAvailability(ctx context.Context, productID string, qty int) error {
	product, err := l.products.GetByID(ctx, productID)
	if err != nil {
		return err
	}
	if qty > product.Available {
		return apperrors.InsufficientStock(productID, qty, product.Available)
	}
	return nil
}

// Reserve atomically moves qty units of productID from available to reserved.
func (l *InventoryLedger) Reserve(ctx context.Context, productID string, qty int) error {
	if qty < 1 {
		return apperrors.Invalid("quantity for product %s must be at least 1", productID)
	}
	return l.stock.Reserve(ctx, productID, qty)
}

// Release returns qty reserved units of productID to the available pool.
func (l *InventoryLedger) Release(ctx context.Context, productID string, qty int) error {
	return l.stock.Release(ctx, productID, qty)
}

// ReserveAll reserves every line or none of them. Lines reserved before a
// failure are released again before the error is returned.
func (l *InventoryLedger) ReserveAll(ctx context.Context, lines []models.OrderItem) error {
	for i, line := range lines {
		if err := l.Reserve(ctx, line.ProductID, line.Quantity); err != nil {
			if relErr := l.ReleaseAll(ctx, lines[:i]); relErr != nil {
				l.log.Error("failed to release partial reservation", zap.Error(relErr))
			}
			return err
		}
	}
	return nil
}

// ReleaseAll releases the reservation of every line, continuing past failures.
func (l *InventoryLedger) ReleaseAll(ctx context.Context, lines []models.OrderItem) error {
	return l.each(lines, func(line models.OrderItem) error {
		return l.stock.Release(ctx, line.ProductID, line.Quantity)
	})
}

// CommitAll consumes the reservation of every line.
func (l *InventoryLedger) CommitAll(ctx context.Context, lines []models.OrderItem) error {
	return l.each(lines, func(line models.OrderItem) error {
		return l.stock.Commit(ctx, line.ProductID, line.Quantity)
	})
}

// RestockAll returns committed units of every line to the available pool.
func (l *InventoryLedger) RestockAll(ctx context.Context, lines []models.OrderItem) error {
	return l.each(lines, func(line models.OrderItem) error {
		return l.stock.Restock(ctx, line.ProductID, line.Quantity)
	})
}

// Apply performs the inventory side effect of a status transition.
func (l *InventoryLedger) Apply(ctx context.Context, effect models.InventoryEffect, lines []models.OrderItem) error {
	switch effect {
	case models.EffectCommit:
		return l.CommitAll(ctx, lines)
	case models.EffectRelease:
		return l.ReleaseAll(ctx, lines)
	case models.EffectRestock:
		return l.RestockAll(ctx, lines)
	default:
		return nil
	}
}

func (l *InventoryLedger) each(lines []models.OrderItem, fn func(models.OrderItem) error) error {
	var errs []error
	for _, line := range lines {
		if err := fn(line); err != nil {
			errs = append(errs, fmt.Errorf("product %s: %w", line.ProductID, err))
		}
	}
	return errors.Join(errs...)
}
