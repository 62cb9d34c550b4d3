package services

import (
	"encoding/json"
	"time"

	"tienda/internal/models"

	"go.uber.org/zap"
)

// Routing keys of order lifecycle events.
const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderCanceled      = "order.canceled"
	EventOrderStatusChanged = "order.status_changed"
)

// EventPublisher delivers order lifecycle events to the message broker.
type EventPublisher interface {
	Publish(routingKey string, body []byte) error
}

// OrderEvent is the payload of every order lifecycle event.
type OrderEvent struct {
	OrderID     string             `json:"order_id"`
	UserID      string             `json:"user_id"`
	Status      models.OrderStatus `json:"status"`
	TotalAmount int64              `json:"total_amount"`
	Currency    string             `json:"currency"`
	Items       []models.OrderItem `json:"items,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// publishOrderEvent sends a best-effort notification. Failures are logged, never returned.
func publishOrderEvent(publisher EventPublisher, log *zap.Logger, routingKey string, order *models.Order, at time.Time) {
	if publisher == nil {
		return
	}
	body, err := json.Marshal(OrderEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		Items:       order.Items,
		OccurredAt:  at,
	})
	if err != nil {
		log.Warn("failed to encode order event", zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	if err := publisher.Publish(routingKey, body); err != nil {
		log.Warn("failed to publish order event",
			zap.String("order_id", order.ID),
			zap.String("routing_key", routingKey),
			zap.Error(err))
	}
}

func routingKeyFor(to models.OrderStatus) string {
	switch to {
	case models.StatusPaid:
		return EventOrderPaid
	case models.StatusCanceled:
		return EventOrderCanceled
	default:
		return EventOrderStatusChanged
	}
}
