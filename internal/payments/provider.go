package payments

import (
	"context"
	"net/http"
)

// SessionState is the provider-side lifecycle of a checkout session.
type SessionState string

const (
	SessionOpen     SessionState = "open"
	SessionComplete SessionState = "complete"
	SessionExpired  SessionState = "expired"
)

// SessionRequest describes the payment the customer is asked to make.
type SessionRequest struct {
	OrderID     string
	UserID      string
	Amount      int64 // minor units
	Currency    string
	Description string
}

// Session is the handle the provider returns for one checkout attempt.
type Session struct {
	ID  string `json:"session_id"`
	URL string `json:"payment_url,omitempty"`
}

// SessionStatus is the provider's authoritative view of a session. Declined marks a
// completed session whose delayed payment (a bank debit, for example) was rejected.
type SessionStatus struct {
	SessionID string
	State     SessionState
	Paid      bool
	Declined  bool
	Amount    int64
	Currency  string
}

// Failed reports whether the session can no longer be paid.
func (s SessionStatus) Failed() bool {
	return !s.Paid && (s.State == SessionExpired || s.Declined)
}

// Processing reports whether the customer finished checkout with a payment method that
// settles later. The outcome arrives as a paid or declined session.
func (s SessionStatus) Processing() bool {
	return s.State == SessionComplete && !s.Paid && !s.Declined
}

// Event is a verified provider notification that concerns a checkout session.
type Event struct {
	ID        string
	Type      string
	SessionID string
}

// Provider is the external payment collaborator. Implementations must bound every call with a
// timeout and report expiry or transport failure as apperrors.ErrPaymentProviderUnavailable.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error)
	// ExpireSession closes an unpaid session so it can no longer be completed.
	ExpireSession(ctx context.Context, sessionID string) error
	// Refund returns the captured amount of a paid session.
	Refund(ctx context.Context, sessionID string) error
	// ParseWebhook verifies the signature of a webhook delivery and decodes it.
	ParseWebhook(payload []byte, header http.Header) (*Event, error)
}
