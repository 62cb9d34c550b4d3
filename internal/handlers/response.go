package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"tienda/internal/apperrors"
	"tienda/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Locals keys set by the authentication middleware.
const (
	LocalUserID   = "user_id"
	LocalUsername = "username"
	LocalIsAdmin  = "is_admin"
)

// respondError writes err as a JSON error with the status its kind maps to.
// Internal errors are logged and their details are not sent to the client.
func respondError(c *fiber.Ctx, log *zap.Logger, message string, err error) error {
	status := apperrors.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		log.Error(message,
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err))
		body := fiber.Map{"message": message}
		if status == fiber.StatusServiceUnavailable {
			body["error"] = err.Error()
			body["retryable"] = true
		}
		return c.Status(status).JSON(body)
	}

	body := fiber.Map{"message": message, "error": err.Error()}
	var stockErr *apperrors.StockError
	if errors.As(err, &stockErr) {
		body["product_id"] = stockErr.ProductID
		body["available"] = stockErr.Available
	}
	return c.Status(status).JSON(body)
}

// validationFailed formats validator errors the same way for every handler.
func validationFailed(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"error":   err.Error(),
		})
	}
	errorMessages := make(map[string]string)
	for _, e := range validationErrors {
		errorMessages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Validation failed",
		"errors":  errorMessages,
	})
}

func badBody(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Invalid request body",
		"error":   err.Error(),
	})
}

func pagination(c *fiber.Ctx) models.Pagination {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "0"))
	return models.Pagination{Page: page, Limit: limit}
}

func currentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

func isAdmin(c *fiber.Ctx) bool {
	admin, _ := c.Locals(LocalIsAdmin).(bool)
	return admin
}

// canAccess reports whether the caller may see or act on an order owned by ownerID.
func canAccess(c *fiber.Ctx, ownerID string) bool {
	return isAdmin(c) || currentUserID(c) == ownerID
}
