package services_test

import (
	"context"
	"testing"
	"time"

	"tienda/internal/cache"
	"tienda/internal/models"
	"tienda/internal/payments"
	"tienda/internal/repositories"
	"tienda/internal/services"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockPublisher is a mock implementation of services.EventPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(routingKey string, body []byte) error {
	args := m.Called(routingKey, body)
	return args.Error(0)
}

type fixture struct {
	products *repositories.MockProductRepository
	orders   *repositories.MockOrderRepository
	provider *payments.FakeProvider
	idem     *cache.MemoryStore
	events   *MockPublisher

	ledger   *services.InventoryLedger
	checkout *services.CheckoutService
	orderSvc *services.OrderService
	recon    *services.ReconciliationService
	sweeper  *services.ExpirySweeper
}

const webhookSecret = "whsec_test"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zapNop()

	f := &fixture{
		products: repositories.NewMockProductRepository(),
		orders:   repositories.NewMockOrderRepository(),
		provider: payments.NewFakeProvider(webhookSecret),
		idem:     cache.NewMemoryStore(),
		events:   new(MockPublisher),
	}
	f.events.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()

	f.ledger = services.NewInventoryLedger(f.products, f.products, log)
	f.orderSvc = services.NewOrderService(f.orders, f.ledger, f.provider, f.events, log)
	f.checkout = services.NewCheckoutService(f.products, f.orders, f.ledger, f.provider, f.idem, f.events, log,
		services.CheckoutConfig{Currency: "usd", IdempotencyTTL: time.Hour})
	f.recon = services.NewReconciliationService(f.orders, f.orderSvc, f.provider, f.idem, log, time.Hour)
	f.sweeper = services.NewExpirySweeper(f.orders, f.orderSvc, f.recon, f.provider, log, 30*time.Minute)
	return f
}

func (f *fixture) addProduct(t *testing.T, name string, price int64, available int) *models.Product {
	t.Helper()
	p := &models.Product{Name: name, Price: price, Available: available}
	require.NoError(t, f.products.Create(context.Background(), p))
	return p
}

func (f *fixture) stock(t *testing.T, id string) (available, reserved int) {
	t.Helper()
	p, err := f.products.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Available, p.Reserved
}

func (f *fixture) status(t *testing.T, id string) models.OrderStatus {
	t.Helper()
	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

// checkoutOne creates a checkout for qty units of p.
func (f *fixture) checkoutOne(t *testing.T, p *models.Product, qty int) *services.CheckoutResult {
	t.Helper()
	result, err := f.checkout.CreateCheckout(context.Background(), "user-1",
		[]models.CartItem{{ProductID: p.ID, Quantity: qty}}, "")
	require.NoError(t, err)
	return result
}

// pay confirms the checkout as paid and returns the order.
func (f *fixture) pay(t *testing.T, result *services.CheckoutResult) *models.Order {
	t.Helper()
	f.provider.MarkPaid(result.Payment.ID, result.Order.TotalAmount)
	order, err := f.recon.ConfirmPayment(context.Background(), result.Payment.ID)
	require.NoError(t, err)
	return order
}

func zapNop() *zap.Logger {
	return zap.NewNop()
}
