package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"tienda/internal/apperrors"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// StripeConfig holds the credentials and redirect targets for Stripe Checkout.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Timeout       time.Duration
}

// StripeProvider implements Provider with Stripe Checkout Sessions.
type StripeProvider struct {
	api     *client.API
	cfg     StripeConfig
	timeout time.Duration
}

// NewStripeProvider builds a provider with its own API client instead of the package-level key.
func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	})
	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &StripeProvider{api: api, cfg: cfg, timeout: timeout}
}

// CreateSession opens a Checkout Session for the order total as a single line.
func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.cfg.SuccessURL),
		CancelURL:         stripe.String(p.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + req.OrderID)
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("user_id", req.UserID)

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify("create checkout session", err)
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// GetSessionStatus retrieves the session and reports whether it has been paid.
func (p *StripeProvider) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	sess, err := p.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionStatus{
		SessionID: sess.ID,
		State:     SessionState(sess.Status),
		Paid:      sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Declined:  declined(sess),
		Amount:    sess.AmountTotal,
		Currency:  string(sess.Currency),
	}, nil
}

// declined reports a completed, unpaid session whose payment intent can no longer settle.
func declined(sess *stripe.CheckoutSession) bool {
	if sess.Status != stripe.CheckoutSessionStatusComplete ||
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		sess.PaymentIntent == nil {
		return false
	}
	switch sess.PaymentIntent.Status {
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusCanceled:
		return true
	}
	return false
}

// ExpireSession closes an open session.
func (p *StripeProvider) ExpireSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := p.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		return classify("expire checkout session", err)
	}
	return nil
}

// Refund refunds the payment intent behind a paid session.
func (p *StripeProvider) Refund(ctx context.Context, sessionID string) error {
	sess, err := p.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
		return fmt.Errorf("session %s has no payment intent to refund", sessionID)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.RefundParams{PaymentIntent: stripe.String(sess.PaymentIntent.ID)}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + sessionID)
	if _, err := p.api.Refunds.New(params); err != nil {
		return classify("refund payment", err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the checkout session id.
func (p *StripeProvider) ParseWebhook(payload []byte, header http.Header) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, apperrors.Invalid("webhook verification failed: %v", err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	if strings.HasPrefix(out.Type, "checkout.session.") && event.Data != nil {
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, apperrors.Invalid("malformed checkout session in webhook: %v", err)
		}
		out.SessionID = sess.ID
	}
	return out, nil
}

func (p *StripeProvider) getSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	sess, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, classify("get checkout session", err)
	}
	return sess, nil
}

// classify separates retryable transport failures from permanent request errors.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrPaymentProviderUnavailable, op, err)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == 0,
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s: %v", apperrors.ErrPaymentProviderUnavailable, op, err)
		case stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return apperrors.Invalid("%s: unknown payment session", op)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrPaymentProviderUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
