package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"tienda/internal/apperrors"
	"tienda/internal/models"
	"tienda/internal/payments"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmPayment_PaysAndCommitsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addProduct(t, "Alpha", 1000, 5)
	result := f.checkoutOne(t, a, 2)

	order := f.pay(t, result)
	assert.Equal(t, models.StatusPaid, order.Status)
	assert.NotNil(t, order.PaidAt)

	avail, reserved := f.stock(t, a.ID)
	assert.Equal(t, 3, avail)
	assert.Equal(t, 0, reserved, "reservation is consumed on payment")

	again, err := f.recon.ConfirmPayment(ctx, result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, again.Status)
	avail, reserved = f.stock(t, a.ID)
	assert.Equal(t, 3, avail)
	assert.Equal(t, 0, reserved)
}

func TestConfirmPayment_ConcurrentConfirmationsTransitionOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addProduct(t, "Alpha", 1000, 10)
	result := f.checkoutOne(t, a, 4)
	f.provider.MarkPaid(result.Payment.ID, result.Order.TotalAmount)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, err := f.recon.ConfirmPayment(ctx, result.Payment.ID)
			if err == nil && order.Status != models.StatusPaid {
				err = assert.AnError
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	avail, reserved := f.stock(t, a.ID)
	assert.Equal(t, 6, avail)
	assert.Equal(t, 0, reserved, "committed exactly once")
}

func TestConfirmPayment_OpenSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	a := f.addProduct(t, "Alpha", 1000, 5)
	result := f.checkoutOne(t, a, 1)

	order, err := f.recon.ConfirmPayment(context.Background(), result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status)
	_, reserved := f.stock(t, a.ID)
	assert.Equal(t, 1, reserved)
}

func TestConfirmPayment_ExpiredSessionReleasesStock(t *testing.T) {
	f := newFixture(t)
	a := f.addProduct(t, "Alpha", 1000, 5)
	result := f.checkoutOne(t, a, 3)
	f.provider.MarkExpired(result.Payment.ID)

	order, err := f.recon.ConfirmPayment(context.Background(), result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, order.Status)

	avail, reserved := f.stock(t, a.ID)
	assert.Equal(t, 5, avail)
	assert.Equal(t, 0, reserved)
}

func TestConfirmPayment_Mismatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addProduct(t, "Alpha", 1000, 5)

	// A session the provider knows but no order holds.
	orphan, err := f.provider.CreateSession(ctx, payments.SessionRequest{OrderID: "ghost", Amount: 100, Currency: "usd"})
	require.NoError(t, err)
	f.provider.MarkPaid(orphan.ID, 100)
	_, err = f.recon.ConfirmPayment(ctx, orphan.ID)
	assert.ErrorIs(t, err, apperrors.ErrReconciliationMismatch)

	// Paid amount differs from the order total.
	result := f.checkoutOne(t, a, 1)
	f.provider.MarkPaid(result.Payment.ID, 1)
	_, err = f.recon.ConfirmPayment(ctx, result.Payment.ID)
	assert.ErrorIs(t, err, apperrors.ErrReconciliationMismatch)
	assert.Equal(t, models.StatusPending, f.status(t, result.Order.ID))

	// Right amount, wrong currency.
	other := f.checkoutOne(t, a, 1)
	f.provider.MarkPaidIn(other.Payment.ID, other.Order.TotalAmount, "eur")
	_, err = f.recon.ConfirmPayment(ctx, other.Payment.ID)
	assert.ErrorIs(t, err, apperrors.ErrReconciliationMismatch)
	assert.Equal(t, models.StatusPending, f.status(t, other.Order.ID))

	_, err = f.recon.ConfirmPayment(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestConfirmPayment_CurrencyComparedCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	a := f.addProduct(t, "Alpha", 1000, 5)
	result := f.checkoutOne(t, a, 1)
	f.provider.MarkPaidIn(result.Payment.ID, result.Order.TotalAmount, "USD")

	order, err := f.recon.ConfirmPayment(context.Background(), result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, order.Status)
}

func TestConfirmPayment_DelayedPaymentMethods(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addProduct(t, "Alpha", 1000, 5)

	processing := f.checkoutOne(t, a, 1)
	f.provider.MarkProcessing(processing.Payment.ID)
	order, err := f.recon.ConfirmPayment(ctx, processing.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status)

	declined := f.checkoutOne(t, a, 2)
	f.provider.MarkDeclined(declined.Payment.ID)
	order, err = f.recon.ConfirmPayment(ctx, declined.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, order.Status)

	avail, reserved := f.stock(t, a.ID)
	assert.Equal(t, 4, avail)
	assert.Equal(t, 1, reserved)
}

func TestConfirmPayment_ProviderUnavailable(t *testing.T) {
	f := newFixture(t)
	a := f.addProduct(t, "Alpha", 1000, 5)
	result := f.checkoutOne(t, a, 1)

	f.provider.FailNext(apperrors.ErrPaymentProviderUnavailable)
	_, err := f.recon.ConfirmPayment(context.Background(), result.Payment.ID)
	assert.ErrorIs(t, err, apperrors.ErrPaymentProviderUnavailable)
	assert.Equal(t, models.StatusPending, f.status(t, result.Order.ID))
}

func webhook(t *testing.T, id, eventType, sessionID string) ([]byte, http.Header) {
	t.Helper()
	body, err := json.Marshal(payments.Event{ID: id, Type: eventType, SessionID: sessionID})
	require.NoError(t, err)
	header := http.Header{}
	header.Set(payments.FakeSignatureHeader, webhookSecret)
	return body, header
}

func TestHandleWebhook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addProduct(t, "Alpha", 1000, 5)
	result := f.checkoutOne(t, a, 1)
	f.provider.MarkPaid(result.Payment.ID, result.Order.TotalAmount)

	body, header := webhook(t, "evt_1", "checkout.session.completed", result.Payment.ID)
	require.NoError(t, f.recon.HandleWebhook(ctx, body, header))
	assert.Equal(t, models.StatusPaid, f.status(t, result.Order.ID))

	// Redelivery of the same event is skipped.
	require.NoError(t, f.recon.HandleWebhook(ctx, body, header))

	// Unrelated events are ignored.
	body, header = webhook(t, "evt_2", "customer.created", "")
	require.NoError(t, f.recon.HandleWebhook(ctx, body, header))

	// Bad signatures are rejected.
	header.Set(payments.FakeSignatureHeader, "wrong")
	assert.ErrorIs(t, f.recon.HandleWebhook(ctx, body, header), apperrors.ErrInvalidInput)
}

func TestHandleWebhook_FailureAllowsRedelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addProduct(t, "Alpha", 1000, 5)
	result := f.checkoutOne(t, a, 1)
	f.provider.MarkPaid(result.Payment.ID, result.Order.TotalAmount)

	body, header := webhook(t, "evt_9", "checkout.session.async_payment_succeeded", result.Payment.ID)
	f.provider.FailNext(apperrors.ErrPaymentProviderUnavailable)
	require.ErrorIs(t, f.recon.HandleWebhook(ctx, body, header), apperrors.ErrPaymentProviderUnavailable)

	require.NoError(t, f.recon.HandleWebhook(ctx, body, header))
	assert.Equal(t, models.StatusPaid, f.status(t, result.Order.ID))
}
