package services

import (
	"context"
	"time"

	"tienda/internal/metrics"
	"tienda/internal/models"
	"tienda/internal/payments"
	"tienda/internal/repositories"

	"go.uber.org/zap"
)

const sweepBatchSize = 100

// ExpirySweeper reclaims stock held by pending orders whose checkout was abandoned.
type ExpirySweeper struct {
	orders   repositories.OrderRepository
	orderSvc *OrderService
	recon    *ReconciliationService
	provider payments.Provider
	log      *zap.Logger
	ttl      time.Duration
	now      func() time.Time
}

// NewExpirySweeper creates a sweeper that cancels orders left pending longer than ttl.
func NewExpirySweeper(orders repositories.OrderRepository, orderSvc *OrderService, recon *ReconciliationService, provider payments.Provider, log *zap.Logger, ttl time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		orders:   orders,
		orderSvc: orderSvc,
		recon:    recon,
		provider: provider,
		log:      log,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is canceled.
func (w *ExpirySweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info("expiry sweeper started", zap.Duration("interval", interval), zap.Duration("ttl", w.ttl))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if n, err := w.SweepOnce(ctx); err != nil {
				w.log.Error("expiry sweep failed", zap.Error(err))
			} else if n > 0 {
				w.log.Info("expired pending orders", zap.Int("count", n))
			}
		}
	}
}

// SweepOnce settles one batch of stale pending orders and returns how many were canceled.
// A session that turns out to be paid is confirmed instead. Sessions whose payment is still
// processing, and provider errors, leave the order for the next sweep.
func (w *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := w.orders.ListPendingBefore(ctx, w.now().Add(-w.ttl), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	canceled := 0
	for i := range stale {
		if ctx.Err() != nil {
			return canceled, ctx.Err()
		}
		order := &stale[i]
		ok, err := w.settle(ctx, order)
		if err != nil {
			w.log.Warn("could not settle stale order", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		if ok {
			canceled++
			metrics.OrdersExpired.Inc()
		}
	}
	return canceled, nil
}

func (w *ExpirySweeper) settle(ctx context.Context, order *models.Order) (bool, error) {
	if order.PaymentSessionID != nil {
		sessionID := *order.PaymentSessionID
		status, err := w.provider.GetSessionStatus(ctx, sessionID)
		if err != nil {
			return false, err
		}
		if status.Paid {
			_, err := w.recon.ConfirmPayment(ctx, sessionID)
			return false, err
		}
		if status.Processing() {
			w.log.Info("payment still processing, keeping reservation",
				zap.String("order_id", order.ID), zap.String("session_id", sessionID))
			return false, nil
		}
		if status.State == payments.SessionOpen {
			// Once expired the session can no longer be paid, so canceling is safe.
			if err := w.provider.ExpireSession(ctx, sessionID); err != nil {
				return false, err
			}
		}
	}

	if _, err := w.orderSvc.transition(ctx, order, models.StatusCanceled); err != nil {
		return false, err
	}
	w.log.Info("canceled abandoned order", zap.String("order_id", order.ID))
	return true, nil
}
