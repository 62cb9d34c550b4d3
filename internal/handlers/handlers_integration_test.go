package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tienda/internal/cache"
	"tienda/internal/database"
	"tienda/internal/handlers"
	"tienda/internal/models"
	"tienda/internal/payments"
	"tienda/internal/repositories"
	"tienda/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret     = "test_jwt_secret"
	testWebhookSecret = "whsec_test"
)

type testEnv struct {
	app      *fiber.App
	provider *payments.FakeProvider
	products repositories.ProductRepository
}

// setupApp builds the full application over an in-memory SQLite database and the fake payment provider.
func setupApp(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	productRepo := repositories.NewGORMProductRepository(db)
	categoryRepo := repositories.NewGORMCategoryRepository(db)
	orderRepo := repositories.NewGORMOrderRepository(db)
	userRepo := repositories.NewGORMUserRepository(db)
	provider := payments.NewFakeProvider(testWebhookSecret)
	idem := cache.NewMemoryStore()

	ledger := services.NewInventoryLedger(productRepo, productRepo, log)
	orderService := services.NewOrderService(orderRepo, ledger, provider, nil, log)
	authService := services.NewAuthService(userRepo, testJWTSecret, log)
	require.NoError(t, authService.EnsureAdmin(context.Background(), "admin", "admin@example.com", "adminpass"))

	app := handlers.NewApp(handlers.Dependencies{
		Auth:       authService,
		Products:   services.NewProductService(productRepo, productRepo, categoryRepo, log),
		Categories: services.NewCategoryService(categoryRepo, productRepo, log),
		Orders:     orderService,
		Checkout:   services.NewCheckoutService(productRepo, orderRepo, ledger, provider, idem, nil, log,
			services.CheckoutConfig{Currency: "usd", IdempotencyTTL: time.Hour}),
		Reconciliation: services.NewReconciliationService(orderRepo, orderService, provider, idem, log, time.Hour),
		Log:            log,
	})
	return &testEnv{app: app, provider: provider, products: productRepo}
}

// call sends a JSON request and decodes the JSON response into out when out is non-nil.
func (e *testEnv) call(t *testing.T, method, path, token string, body interface{}, out interface{}, headers ...string) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	var resp map[string]string
	status := e.call(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": username, "password": password}, &resp)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, resp["token"])
	return resp["token"]
}

func (e *testEnv) registerAndLogin(t *testing.T, username string) string {
	t.Helper()
	status := e.call(t, http.MethodPost, "/api/v1/auth/register", "", map[string]interface{}{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
		"is_admin": true,
	}, nil)
	require.Equal(t, http.StatusCreated, status)
	return e.login(t, username, "password123")
}

func (e *testEnv) createProduct(t *testing.T, adminToken, name string, price int64, available int) models.Product {
	t.Helper()
	var product models.Product
	status := e.call(t, http.MethodPost, "/api/v1/products", adminToken,
		map[string]interface{}{"name": name, "price": price, "available": available}, &product)
	require.Equal(t, http.StatusCreated, status)
	return product
}

type checkoutResponse struct {
	Order   models.Order     `json:"order"`
	Payment payments.Session `json:"payment"`
}

func TestAuthRegisterAndLogin(t *testing.T) {
	env := setupApp(t)
	body := map[string]string{"username": "testuser", "email": "test@example.com", "password": "password123"}

	var registerResp map[string]interface{}
	status := env.call(t, http.MethodPost, "/api/v1/auth/register", "", body, &registerResp)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "User registered successfully", registerResp["message"])

	status = env.call(t, http.MethodPost, "/api/v1/auth/register", "", body, nil)
	assert.Equal(t, http.StatusConflict, status)

	status = env.call(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"username": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.NotEmpty(t, env.login(t, "testuser", "password123"))

	status = env.call(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "testuser", "password": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestProductEndpoints(t *testing.T) {
	env := setupApp(t)
	admin := env.login(t, "admin", "adminpass")
	customer := env.registerAndLogin(t, "shopper")

	status := env.call(t, http.MethodPost, "/api/v1/products", "", map[string]interface{}{"name": "Nope", "price": 1}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status = env.call(t, http.MethodPost, "/api/v1/products", customer, map[string]interface{}{"name": "Nope", "price": 1}, nil)
	assert.Equal(t, http.StatusForbidden, status, "self-registration never grants admin")

	start := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	var created models.Product
	status = env.call(t, http.MethodPost, "/api/v1/products", admin, map[string]interface{}{
		"name":      "Headphones",
		"price":     2499,
		"available": 4,
		"discount":  map[string]interface{}{"percentage": 50, "start_date": start, "end_date": end},
	}, &created)
	require.Equal(t, http.StatusCreated, status)

	status = env.call(t, http.MethodPost, "/api/v1/products", admin, map[string]interface{}{
		"name":     "Too cheap",
		"price":    100,
		"discount": map[string]interface{}{"percentage": 75, "start_date": start, "end_date": end},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var view services.ProductView
	status = env.call(t, http.MethodGet, "/api/v1/products/"+created.ID, "", nil, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1250), view.EffectivePrice)

	var page services.ProductPage
	status = env.call(t, http.MethodGet, "/api/v1/products?page=1&limit=10", "", nil, &page)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, page.Products, 1)

	status = env.call(t, http.MethodPut, "/api/v1/products/"+created.ID, admin,
		map[string]interface{}{"name": "Headphones v2", "price": 3000, "available": 999}, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, view.Available, "updates never touch stock")
	assert.Equal(t, int64(3000), view.EffectivePrice)

	status = env.call(t, http.MethodPost, "/api/v1/products/"+created.ID+"/stock", admin, map[string]int{"delta": 6}, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 10, view.Available)

	status = env.call(t, http.MethodPost, "/api/v1/products/"+created.ID+"/stock", admin, map[string]int{"delta": -11}, nil)
	assert.Equal(t, http.StatusConflict, status)

	status = env.call(t, http.MethodDelete, "/api/v1/products/"+created.ID, admin, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status = env.call(t, http.MethodGet, "/api/v1/products/"+created.ID, "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCategoryEndpoints(t *testing.T) {
	env := setupApp(t)
	admin := env.login(t, "admin", "adminpass")
	customer := env.registerAndLogin(t, "shopper")

	body := map[string]interface{}{"name": "Audio", "subcategories": []string{"Headphones", " Speakers ", "Headphones"}}
	status := env.call(t, http.MethodPost, "/api/v1/categories", "", body, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status = env.call(t, http.MethodPost, "/api/v1/categories", customer, body, nil)
	assert.Equal(t, http.StatusForbidden, status)

	var audio models.Category
	status = env.call(t, http.MethodPost, "/api/v1/categories", admin, body, &audio)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, []string{"Headphones", "Speakers"}, audio.Subcategories)

	status = env.call(t, http.MethodPost, "/api/v1/categories", admin, map[string]interface{}{"name": "Audio"}, nil)
	assert.Equal(t, http.StatusConflict, status)
	status = env.call(t, http.MethodPost, "/api/v1/categories", admin, map[string]interface{}{"name": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var books models.Category
	status = env.call(t, http.MethodPost, "/api/v1/categories", admin, map[string]interface{}{"name": "Books"}, &books)
	require.Equal(t, http.StatusCreated, status)

	var list struct {
		Categories []models.Category `json:"categories"`
	}
	status = env.call(t, http.MethodGet, "/api/v1/categories", "", nil, &list)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list.Categories, 2)
	assert.Equal(t, "Audio", list.Categories[0].Name)

	var headphones models.Product
	status = env.call(t, http.MethodPost, "/api/v1/products", admin, map[string]interface{}{
		"name": "Headphones", "price": 2499, "available": 4,
		"category_id": audio.ID, "subcategory": "Headphones",
	}, &headphones)
	require.Equal(t, http.StatusCreated, status)
	env.createProduct(t, admin, "Uncategorised", 100, 1)

	status = env.call(t, http.MethodPost, "/api/v1/products", admin, map[string]interface{}{
		"name": "Turntable", "price": 9999, "category_id": audio.ID, "subcategory": "Vinyl",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status, "subcategory must belong to the category")
	status = env.call(t, http.MethodPost, "/api/v1/products", admin, map[string]interface{}{
		"name": "Ghost", "price": 1, "category_id": "missing",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var page services.ProductPage
	status = env.call(t, http.MethodGet, "/api/v1/products?category="+audio.ID, "", nil, &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Products, 1)
	assert.Equal(t, headphones.ID, page.Products[0].ID)
	assert.Equal(t, int64(1), page.Meta.Total)

	status = env.call(t, http.MethodGet, "/api/v1/products?category="+books.ID, "", nil, &page)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, page.Products)

	status = env.call(t, http.MethodPut, "/api/v1/categories/"+audio.ID, admin,
		map[string]interface{}{"name": "Audio", "subcategories": []string{"Speakers"}}, nil)
	assert.Equal(t, http.StatusConflict, status, "a subcategory in use cannot be dropped")

	var updated models.Category
	status = env.call(t, http.MethodPut, "/api/v1/categories/"+audio.ID, admin,
		map[string]interface{}{"name": "Sound", "subcategories": []string{"Headphones"}}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Sound", updated.Name)
	assert.Equal(t, []string{"Headphones"}, updated.Subcategories)

	status = env.call(t, http.MethodDelete, "/api/v1/categories/"+audio.ID, admin, nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	status = env.call(t, http.MethodDelete, "/api/v1/products/"+headphones.ID, admin, nil, nil)
	require.Equal(t, http.StatusNoContent, status)
	status = env.call(t, http.MethodDelete, "/api/v1/categories/"+audio.ID, admin, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status = env.call(t, http.MethodGet, "/api/v1/categories/"+audio.ID, "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCheckoutConfirmAndFulfill(t *testing.T) {
	env := setupApp(t)
	admin := env.login(t, "admin", "adminpass")
	alice := env.registerAndLogin(t, "alice")
	bob := env.registerAndLogin(t, "bobby")
	a := env.createProduct(t, admin, "Alpha", 1000, 5)
	b := env.createProduct(t, admin, "Bravo", 500, 5)

	cart := map[string]interface{}{"items": []map[string]interface{}{
		{"product_id": a.ID, "quantity": 1},
		{"product_id": b.ID, "quantity": 2},
	}}

	status := env.call(t, http.MethodPost, "/api/v1/checkout", "", cart, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	var first, replay checkoutResponse
	status = env.call(t, http.MethodPost, "/api/v1/checkout", alice, cart, &first, handlers.IdempotencyHeader, "cart-1")
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, models.StatusPending, first.Order.Status)
	assert.Equal(t, int64(2000), first.Order.TotalAmount)
	assert.NotEmpty(t, first.Payment.ID)
	assert.NotEmpty(t, first.Payment.URL)

	status = env.call(t, http.MethodPost, "/api/v1/checkout", alice, cart, &replay, handlers.IdempotencyHeader, "cart-1")
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, first.Order.ID, replay.Order.ID)
	assert.Equal(t, 1, env.provider.SessionsCreated())

	orderPath := "/api/v1/orders/" + first.Order.ID
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodGet, orderPath, alice, nil, nil))
	assert.Equal(t, http.StatusNotFound, env.call(t, http.MethodGet, orderPath, bob, nil, nil))
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodGet, orderPath, admin, nil, nil))

	var page models.OrderPage
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/api/v1/orders", bob, nil, &page))
	assert.Empty(t, page.Orders)
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/api/v1/orders?status=pending", alice, nil, &page))
	assert.Len(t, page.Orders, 1)

	env.provider.MarkPaid(first.Payment.ID, first.Order.TotalAmount)
	status = env.call(t, http.MethodPost, "/api/v1/payments/confirm", bob,
		map[string]string{"session_id": first.Payment.ID}, nil)
	assert.Equal(t, http.StatusNotFound, status, "another customer's session is not confirmed")
	var untouched models.Order
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, orderPath, alice, nil, &untouched))
	assert.Equal(t, models.StatusPending, untouched.Status)

	var paid models.Order
	for i := 0; i < 2; i++ {
		status = env.call(t, http.MethodPost, "/api/v1/payments/confirm", alice,
			map[string]string{"session_id": first.Payment.ID}, &paid)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, models.StatusPaid, paid.Status)
	}

	product, err := env.products.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, product.Available)
	assert.Equal(t, 0, product.Reserved)

	statusPath := orderPath + "/status"
	assert.Equal(t, http.StatusForbidden, env.call(t, http.MethodPatch, statusPath, alice, map[string]string{"status": "in-progress"}, nil))
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodPatch, statusPath, admin, map[string]string{"status": "in-progress"}, nil))
	assert.Equal(t, http.StatusBadRequest, env.call(t, http.MethodPatch, statusPath, admin, map[string]string{"status": "lost"}, nil))
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodPatch, statusPath, admin, map[string]string{"status": "shipped"}, nil))
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodPatch, statusPath, admin, map[string]string{"status": "delivered"}, nil))
	assert.Equal(t, http.StatusConflict, env.call(t, http.MethodPatch, statusPath, admin, map[string]string{"status": "shipped"}, nil))

	assert.Equal(t, http.StatusNoContent, env.call(t, http.MethodDelete, orderPath, admin, nil, nil))
}

func TestCheckoutInsufficientStock(t *testing.T) {
	env := setupApp(t)
	admin := env.login(t, "admin", "adminpass")
	alice := env.registerAndLogin(t, "alice")
	a := env.createProduct(t, admin, "Alpha", 1000, 2)

	var resp map[string]interface{}
	status := env.call(t, http.MethodPost, "/api/v1/checkout", alice, map[string]interface{}{
		"items": []map[string]interface{}{{"product_id": a.ID, "quantity": 3}},
	}, &resp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, a.ID, resp["product_id"])

	status = env.call(t, http.MethodPost, "/api/v1/checkout", alice, map[string]interface{}{
		"items": []map[string]interface{}{{"product_id": "missing", "quantity": 1}},
	}, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status = env.call(t, http.MethodPost, "/api/v1/checkout", alice, map[string]interface{}{"items": []interface{}{}}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	product, err := env.products.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, product.Available)
}

func TestCancelAndWebhook(t *testing.T) {
	env := setupApp(t)
	admin := env.login(t, "admin", "adminpass")
	alice := env.registerAndLogin(t, "alice")
	bob := env.registerAndLogin(t, "bobby")
	a := env.createProduct(t, admin, "Alpha", 1000, 5)
	cart := map[string]interface{}{"items": []map[string]interface{}{{"product_id": a.ID, "quantity": 2}}}

	var toCancel, toExpire checkoutResponse
	require.Equal(t, http.StatusCreated, env.call(t, http.MethodPost, "/api/v1/checkout", alice, cart, &toCancel))
	require.Equal(t, http.StatusCreated, env.call(t, http.MethodPost, "/api/v1/checkout", alice, cart, &toExpire))

	cancelPath := "/api/v1/orders/" + toCancel.Order.ID + "/cancel"
	assert.Equal(t, http.StatusNotFound, env.call(t, http.MethodPost, cancelPath, bob, nil, nil))
	assert.Equal(t, http.StatusConflict, env.call(t, http.MethodDelete, "/api/v1/orders/"+toCancel.Order.ID, admin, nil, nil))

	var canceled models.Order
	require.Equal(t, http.StatusOK, env.call(t, http.MethodPost, cancelPath, alice, nil, &canceled))
	assert.Equal(t, models.StatusCanceled, canceled.Status)
	assert.Equal(t, http.StatusConflict, env.call(t, http.MethodPost, cancelPath, alice, nil, nil))

	env.provider.MarkExpired(toExpire.Payment.ID)
	event, err := json.Marshal(payments.Event{ID: "evt_1", Type: "checkout.session.expired", SessionID: toExpire.Payment.ID})
	require.NoError(t, err)

	status := env.call(t, http.MethodPost, "/api/v1/payments/webhook", "", json.RawMessage(event), nil,
		payments.FakeSignatureHeader, "forged")
	assert.Equal(t, http.StatusBadRequest, status)

	status = env.call(t, http.MethodPost, "/api/v1/payments/webhook", "", json.RawMessage(event), nil,
		payments.FakeSignatureHeader, testWebhookSecret)
	assert.Equal(t, http.StatusOK, status)

	var expired models.Order
	require.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/api/v1/orders/"+toExpire.Order.ID, alice, nil, &expired))
	assert.Equal(t, models.StatusCanceled, expired.Status)

	product, err := env.products.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, product.Available)
	assert.Equal(t, 0, product.Reserved)
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupApp(t)

	var health map[string]interface{}
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/health", "", nil, &health))
	assert.Equal(t, "healthy", health["status"])

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "go_goroutines")
}
