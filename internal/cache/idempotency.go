package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	// idem:checkout:{user_id}:{idempotency_key} -> order_id
	keyCheckout = "idem:checkout:%s:%s"
	// dedup:webhook:{event_id} -> "done"
	keyWebhookEvent = "dedup:webhook:%s"

	// pendingMarker is held by a claimed key until its result is stored.
	pendingMarker = "\x00pending"
)

// CheckoutKey scopes a client idempotency key to the user that sent it.
func CheckoutKey(userID, idempotencyKey string) string {
	return fmt.Sprintf(keyCheckout, userID, idempotencyKey)
}

// WebhookEventKey identifies one provider webhook delivery.
func WebhookEventKey(eventID string) string {
	return fmt.Sprintf(keyWebhookEvent, eventID)
}

// IdempotencyStore remembers the outcome of requests that carry an idempotency key.
//
// A caller first Claims a key. The winner does the work and either Stores the
// result or Forgets the key so the request can be retried. Everyone else sees
// the stored result, or an empty value while the winner is still running.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (result string, claimed bool, err error)
	Store(ctx context.Context, key, result string, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
}
