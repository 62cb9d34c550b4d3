package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tienda/internal/middleware"
	"tienda/internal/services"

	"github.com/dgrijalva/jwt-go"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "middleware_secret"

func sign(t *testing.T, key string, claims services.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func claimsFor(userID string, admin bool, expiresIn time.Duration) services.Claims {
	return services.Claims{
		UserID:   userID,
		Username: "user-" + userID,
		IsAdmin:  admin,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(expiresIn).Unix(),
		},
	}
}

func newTestApp() *fiber.App {
	authService := services.NewAuthService(nil, secret, zap.NewNop())
	app := fiber.New()
	auth := middleware.AuthRequired(authService, zap.NewNop())

	app.Get("/me", auth, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id":  c.Locals("user_id"),
			"is_admin": c.Locals("is_admin"),
		})
	})
	app.Get("/admin", auth, middleware.AdminOnly(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func request(t *testing.T, app *fiber.App, path, authorization string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestAuthRequired(t *testing.T) {
	app := newTestApp()

	tests := []struct {
		name          string
		authorization string
		expected      int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong key", "Bearer " + sign(t, "other", claimsFor("u1", false, time.Hour)), http.StatusUnauthorized},
		{"expired", "Bearer " + sign(t, secret, claimsFor("u1", false, -time.Minute)), http.StatusUnauthorized},
		{"no subject", "Bearer " + sign(t, secret, claimsFor("", false, time.Hour)), http.StatusUnauthorized},
		{"valid", "Bearer " + sign(t, secret, claimsFor("u1", false, time.Hour)), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, request(t, app, "/me", tt.authorization))
		})
	}
}

func TestAdminOnly(t *testing.T) {
	app := newTestApp()

	customer := "Bearer " + sign(t, secret, claimsFor("u1", false, time.Hour))
	admin := "Bearer " + sign(t, secret, claimsFor("u2", true, time.Hour))

	assert.Equal(t, http.StatusForbidden, request(t, app, "/admin", customer))
	assert.Equal(t, http.StatusNoContent, request(t, app, "/admin", admin))
}
