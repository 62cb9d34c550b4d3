package handlers

import (
	"tienda/internal/middleware"
	"tienda/internal/models"
	"tienda/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ProductHandler handles HTTP requests for the catalogue.
type ProductHandler struct {
	service *services.ProductService
	log     *zap.Logger
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(service *services.ProductService, log *zap.Logger) *ProductHandler {
	return &ProductHandler{service: service, log: log}
}

// RegisterRoutes registers the product routes. Reads are public; writes need an administrator.
func (h *ProductHandler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	productRoutes := router.Group("/products")
	productRoutes.Get("/", h.HandleGetProducts)
	productRoutes.Get("/:id", h.HandleGetProduct)

	admin := []fiber.Handler{auth, middleware.AdminOnly()}
	productRoutes.Post("/", append(admin, h.HandleCreateProduct)...)
	productRoutes.Put("/:id", append(admin, h.HandleUpdateProduct)...)
	productRoutes.Delete("/:id", append(admin, h.HandleDeleteProduct)...)
	productRoutes.Post("/:id/stock", append(admin, h.HandleAdjustStock)...)
}

// HandleGetProducts lists products with the price they sell for right now.
// The "category" query parameter narrows the list to one category.
func (h *ProductHandler) HandleGetProducts(c *fiber.Ctx) error {
	filter := models.ProductFilter{CategoryID: c.Query("category")}
	page, err := h.service.GetProducts(c.UserContext(), filter, pagination(c))
	if err != nil {
		return respondError(c, h.log, "Could not retrieve products", err)
	}
	return c.JSON(page)
}

func (h *ProductHandler) HandleGetProduct(c *fiber.Ctx) error {
	product, err := h.service.GetProduct(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.log, "Could not retrieve product", err)
	}
	return c.JSON(product)
}

// HandleCreateProduct creates a product. The stock it starts with is taken from "available".
func (h *ProductHandler) HandleCreateProduct(c *fiber.Ctx) error {
	var product models.Product
	if err := c.BodyParser(&product); err != nil {
		return badBody(c, err)
	}
	product.ID = ""
	if err := h.service.CreateProduct(c.UserContext(), &product); err != nil {
		return respondError(c, h.log, "Could not create product", err)
	}
	return c.Status(fiber.StatusCreated).JSON(product)
}

// HandleUpdateProduct replaces name, description, price, category and discount. Stock fields in the body are ignored.
func (h *ProductHandler) HandleUpdateProduct(c *fiber.Ctx) error {
	var product models.Product
	if err := c.BodyParser(&product); err != nil {
		return badBody(c, err)
	}
	product.ID = c.Params("id")
	if err := h.service.UpdateProduct(c.UserContext(), &product); err != nil {
		return respondError(c, h.log, "Could not update product", err)
	}
	updated, err := h.service.GetProduct(c.UserContext(), product.ID)
	if err != nil {
		return respondError(c, h.log, "Could not retrieve product", err)
	}
	return c.JSON(updated)
}

func (h *ProductHandler) HandleDeleteProduct(c *fiber.Ctx) error {
	if err := h.service.DeleteProduct(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, h.log, "Could not delete product", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// StockAdjustment is the body of a stock correction.
type StockAdjustment struct {
	Delta int `json:"delta"`
}

// HandleAdjustStock applies a signed correction to the available quantity.
func (h *ProductHandler) HandleAdjustStock(c *fiber.Ctx) error {
	var req StockAdjustment
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	product, err := h.service.AdjustStock(c.UserContext(), c.Params("id"), req.Delta)
	if err != nil {
		return respondError(c, h.log, "Could not adjust stock", err)
	}
	return c.JSON(product)
}
