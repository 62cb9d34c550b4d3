package handlers

import (
	"fmt"

	"tienda/internal/apperrors"
	"tienda/internal/middleware"
	"tienda/internal/models"
	"tienda/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service *services.OrderService
	log     *zap.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		log:     log,
	}
}

// RegisterRoutes registers the order routes. Every route requires authentication.
func (h *OrderHandler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	orderRoutes := router.Group("/orders", auth)
	orderRoutes.Get("/", h.HandleGetOrders)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Post("/:id/cancel", h.HandleCancelOrder)
	orderRoutes.Patch("/:id/status", middleware.AdminOnly(), h.HandleUpdateOrderStatus)
	orderRoutes.Delete("/:id", middleware.AdminOnly(), h.HandleDeleteOrder)
}

// HandleGetOrders lists the caller's orders. Administrators may list anyone's via ?user_id=.
func (h *OrderHandler) HandleGetOrders(c *fiber.Ctx) error {
	filter := models.OrderFilter{
		UserID: currentUserID(c),
		Status: models.OrderStatus(c.Query("status")),
	}
	if isAdmin(c) {
		filter.UserID = c.Query("user_id")
	}

	page, err := h.service.ListOrders(c.UserContext(), filter, pagination(c))
	if err != nil {
		return respondError(c, h.log, "Could not retrieve orders", err)
	}
	return c.JSON(page)
}

// HandleGetOrderByID retrieves a single order by its ID.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	order, err := h.service.GetOrder(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, "Could not retrieve order", err)
	}
	if !canAccess(c, order.UserID) {
		// Other customers' orders are indistinguishable from missing ones.
		return respondError(c, h.log, "Could not retrieve order", fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, order.ID))
	}
	return c.JSON(order)
}

// HandleCancelOrder cancels an order on behalf of its owner or an administrator.
func (h *OrderHandler) HandleCancelOrder(c *fiber.Ctx) error {
	orderID := c.Params("id")
	order, err := h.service.GetOrder(c.UserContext(), orderID)
	if err != nil {
		return respondError(c, h.log, "Could not cancel order", err)
	}
	if !canAccess(c, order.UserID) {
		return respondError(c, h.log, "Could not cancel order", fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID))
	}

	canceled, err := h.service.CancelOrder(c.UserContext(), orderID)
	if err != nil {
		return respondError(c, h.log, "Could not cancel order", err)
	}
	return c.JSON(canceled)
}

// HandleUpdateOrderStatus moves an order along the fulfillment path.
func (h *OrderHandler) HandleUpdateOrderStatus(c *fiber.Ctx) error {
	orderID := c.Params("id")
	var updateData struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&updateData); err != nil {
		return badBody(c, err)
	}
	if updateData.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Status is required for order status update.",
		})
	}

	order, err := h.service.UpdateOrderStatus(c.UserContext(), orderID, updateData.Status)
	if err != nil {
		return respondError(c, h.log, "Could not update order status", err)
	}
	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Order %s status updated successfully to %s", orderID, order.Status),
		"order":   order,
	})
}

// HandleDeleteOrder removes a finished order.
func (h *OrderHandler) HandleDeleteOrder(c *fiber.Ctx) error {
	if err := h.service.DeleteOrder(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, h.log, "Could not delete order", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
