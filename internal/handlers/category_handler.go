package handlers

import (
	"tienda/internal/middleware"
	"tienda/internal/models"
	"tienda/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// CategoryHandler handles HTTP requests for product categories.
type CategoryHandler struct {
	service *services.CategoryService
	log     *zap.Logger
}

// NewCategoryHandler creates a new CategoryHandler.
func NewCategoryHandler(service *services.CategoryService, log *zap.Logger) *CategoryHandler {
	return &CategoryHandler{service: service, log: log}
}

// RegisterRoutes registers the category routes. Reads are public; writes need an administrator.
func (h *CategoryHandler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	categoryRoutes := router.Group("/categories")
	categoryRoutes.Get("/", h.HandleGetCategories)
	categoryRoutes.Get("/:id", h.HandleGetCategory)

	admin := []fiber.Handler{auth, middleware.AdminOnly()}
	categoryRoutes.Post("/", append(admin, h.HandleCreateCategory)...)
	categoryRoutes.Put("/:id", append(admin, h.HandleUpdateCategory)...)
	categoryRoutes.Delete("/:id", append(admin, h.HandleDeleteCategory)...)
}

func (h *CategoryHandler) HandleGetCategories(c *fiber.Ctx) error {
	categories, err := h.service.ListCategories(c.UserContext())
	if err != nil {
		return respondError(c, h.log, "Could not retrieve categories", err)
	}
	return c.JSON(fiber.Map{"categories": categories})
}

func (h *CategoryHandler) HandleGetCategory(c *fiber.Ctx) error {
	category, err := h.service.GetCategory(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, "Could not retrieve category", err)
	}
	return c.JSON(category)
}

func (h *CategoryHandler) HandleCreateCategory(c *fiber.Ctx) error {
	var category models.Category
	if err := c.BodyParser(&category); err != nil {
		return badBody(c, err)
	}
	category.ID = ""
	if err := h.service.CreateCategory(c.UserContext(), &category); err != nil {
		return respondError(c, h.log, "Could not create category", err)
	}
	return c.Status(fiber.StatusCreated).JSON(category)
}

// HandleUpdateCategory replaces the name and the full subcategory list.
func (h *CategoryHandler) HandleUpdateCategory(c *fiber.Ctx) error {
	var category models.Category
	if err := c.BodyParser(&category); err != nil {
		return badBody(c, err)
	}
	category.ID = c.Params("id")
	if err := h.service.UpdateCategory(c.UserContext(), &category); err != nil {
		return respondError(c, h.log, "Could not update category", err)
	}
	updated, err := h.service.GetCategory(c.UserContext(), category.ID)
	if err != nil {
		return respondError(c, h.log, "Could not retrieve category", err)
	}
	return c.JSON(updated)
}

func (h *CategoryHandler) HandleDeleteCategory(c *fiber.Ctx) error {
	if err := h.service.DeleteCategory(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, h.log, "Could not delete category", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
