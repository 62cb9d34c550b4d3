package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"tienda/internal/apperrors"
	"tienda/internal/models"
	"tienda/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// IdempotencyHeader lets clients retry a checkout without creating a second order.
const IdempotencyHeader = "Idempotency-Key"

// CheckoutHandler handles checkout and payment confirmation.
type CheckoutHandler struct {
	checkout *services.CheckoutService
	recon    *services.ReconciliationService
	validate *validator.Validate
	log      *zap.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkout *services.CheckoutService, recon *services.ReconciliationService, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		recon:    recon,
		validate: validator.New(),
		log:      log,
	}
}

// RegisterRoutes registers checkout and payment routes. The webhook is authenticated by its signature.
func (h *CheckoutHandler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	router.Post("/checkout", auth, h.HandleCheckout)

	paymentRoutes := router.Group("/payments")
	paymentRoutes.Post("/confirm", auth, h.HandleConfirmPayment)
	paymentRoutes.Post("/webhook", h.HandleWebhook)
}

// CheckoutRequest is the cart submitted for checkout.
type CheckoutRequest struct {
	Items []models.CartItem `json:"items" validate:"required,min=1,dive"`
}

// HandleCheckout creates a pending order and returns the payment handle.
func (h *CheckoutHandler) HandleCheckout(c *fiber.Ctx) error {
	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	result, err := h.checkout.CreateCheckout(c.UserContext(), currentUserID(c), req.Items, strings.TrimSpace(c.Get(IdempotencyHeader)))
	if err != nil {
		return respondError(c, h.log, "Checkout failed", err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// ConfirmRequest names the payment session to reconcile.
type ConfirmRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// HandleConfirmPayment reconciles a session after the customer returns from the provider.
// Only the order's owner or an administrator may trigger it.
func (h *CheckoutHandler) HandleConfirmPayment(c *fiber.Ctx) error {
	var req ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	owned, err := h.recon.OrderForSession(c.UserContext(), req.SessionID)
	if err != nil {
		return respondError(c, h.log, "Payment confirmation failed", err)
	}
	if !canAccess(c, owned.UserID) {
		return respondError(c, h.log, "Payment confirmation failed", fmt.Errorf("%w: session %s", apperrors.ErrOrderNotFound, req.SessionID))
	}

	order, err := h.recon.ConfirmPayment(c.UserContext(), req.SessionID)
	if err != nil {
		return respondError(c, h.log, "Payment confirmation failed", err)
	}
	return c.JSON(order)
}

// HandleWebhook receives provider notifications.
func (h *CheckoutHandler) HandleWebhook(c *fiber.Ctx) error {
	header := http.Header{}
	for key, values := range c.GetReqHeaders() {
		for _, v := range values {
			header.Add(key, v)
		}
	}

	// Copy the body: fasthttp reuses the buffer once the handler returns.
	payload := append([]byte(nil), c.Body()...)
	if err := h.recon.HandleWebhook(c.UserContext(), payload, header); err != nil {
		return respondError(c, h.log, "Webhook processing failed", err)
	}
	return c.JSON(fiber.Map{"received": true})
}
