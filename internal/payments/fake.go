package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"tienda/internal/apperrors"

	"github.com/google/uuid"
)

// FakeSignatureHeader carries the shared secret on fake webhook deliveries.
const FakeSignatureHeader = "X-Fake-Signature"

// FakeProvider is an in-process Provider for development and tests.
// Sessions stay open until MarkPaid or MarkExpired is called.
type FakeProvider struct {
	mu       sync.Mutex
	secret   string
	sessions map[string]*SessionStatus
	refunds  map[string]int
	failNext error
	created  int
}

// NewFakeProvider creates a FakeProvider that accepts webhooks signed with secret.
func NewFakeProvider(secret string) *FakeProvider {
	return &FakeProvider{
		secret:   secret,
		sessions: make(map[string]*SessionStatus),
		refunds:  make(map[string]int),
	}
}

// FailNext makes the next provider call return err.
func (f *FakeProvider) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

func (f *FakeProvider) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

// CreateSession registers an open session for the requested amount.
func (f *FakeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPaymentProviderUnavailable, err)
	}
	id := "cs_fake_" + uuid.NewString()
	f.sessions[id] = &SessionStatus{SessionID: id, State: SessionOpen, Amount: req.Amount, Currency: req.Currency}
	f.created++
	return &Session{ID: id, URL: "https://checkout.example/" + id}, nil
}

// GetSessionStatus returns a copy of the session state.
func (f *FakeProvider) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, apperrors.Invalid("unknown payment session %s", sessionID)
	}
	cp := *s
	return &cp, nil
}

// ExpireSession closes an open session. Completed sessions are left as they are.
func (f *FakeProvider) ExpireSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return apperrors.Invalid("unknown payment session %s", sessionID)
	}
	if s.State == SessionOpen {
		s.State = SessionExpired
	}
	return nil
}

// Refund records a refund for a paid session.
func (f *FakeProvider) Refund(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	s, ok := f.sessions[sessionID]
	if !ok || !s.Paid {
		return fmt.Errorf("session %s has no captured payment", sessionID)
	}
	f.refunds[sessionID]++
	return nil
}

// ParseWebhook accepts a JSON Event whose signature header equals the shared secret.
func (f *FakeProvider) ParseWebhook(payload []byte, header http.Header) (*Event, error) {
	if header.Get(FakeSignatureHeader) != f.secret {
		return nil, apperrors.Invalid("webhook verification failed")
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, apperrors.Invalid("malformed webhook payload: %v", err)
	}
	return &event, nil
}

// MarkPaid completes a session as if the customer paid amount in the session's currency.
func (f *FakeProvider) MarkPaid(sessionID string, amount int64) {
	f.MarkPaidIn(sessionID, amount, "")
}

// MarkPaidIn is MarkPaid with the captured currency overridden. An empty currency keeps the session's.
func (f *FakeProvider) MarkPaidIn(sessionID string, amount int64, currency string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.State = SessionComplete
		s.Paid = true
		s.Declined = false
		s.Amount = amount
		if currency != "" {
			s.Currency = currency
		}
	}
}

// MarkProcessing completes a session whose payment has not settled yet.
func (f *FakeProvider) MarkProcessing(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.State = SessionComplete
		s.Paid = false
		s.Declined = false
	}
}

// MarkDeclined completes a session whose delayed payment was rejected.
func (f *FakeProvider) MarkDeclined(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.State = SessionComplete
		s.Paid = false
		s.Declined = true
	}
}

// MarkExpired expires a session as if the customer abandoned it.
func (f *FakeProvider) MarkExpired(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.State = SessionExpired
	}
}

// Refunds returns how many refunds were issued for sessionID.
func (f *FakeProvider) Refunds(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunds[sessionID]
}

// SessionsCreated returns the number of sessions opened so far.
func (f *FakeProvider) SessionsCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}
