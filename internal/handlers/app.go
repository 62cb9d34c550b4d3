package handlers

import (
	"errors"
	"time"

	"tienda/internal/metrics"
	"tienda/internal/middleware"
	"tienda/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// Dependencies are the services the HTTP layer exposes.
type Dependencies struct {
	Auth           *services.AuthService
	Products       *services.ProductService
	Categories     *services.CategoryService
	Orders         *services.OrderService
	Checkout       *services.CheckoutService
	Reconciliation *services.ReconciliationService
	Log            *zap.Logger

	// Checks reports the state of each external dependency for /health.
	Checks    func() map[string]string
	AccessLog bool
}

// NewApp builds the Fiber application with every route registered.
func NewApp(deps Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "tienda",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			} else {
				deps.Log.Error("unhandled request error", zap.String("path", c.Path()), zap.Error(err))
			}
			return c.Status(code).JSON(fiber.Map{"message": err.Error()})
		},
	})

	app.Use(recover.New())
	if deps.AccessLog {
		app.Use(logger.New())
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		}
		if deps.Checks != nil {
			body["dependencies"] = deps.Checks()
		}
		return c.Status(fiber.StatusOK).JSON(body)
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	auth := middleware.AuthRequired(deps.Auth, deps.Log)
	apiV1 := app.Group("/api/v1")

	NewAuthHandler(deps.Auth, deps.Log).RegisterRoutes(apiV1)
	NewProductHandler(deps.Products, deps.Log).RegisterRoutes(apiV1, auth)
	NewCategoryHandler(deps.Categories, deps.Log).RegisterRoutes(apiV1, auth)
	NewCheckoutHandler(deps.Checkout, deps.Reconciliation, deps.Log).RegisterRoutes(apiV1, auth)
	NewOrderHandler(deps.Orders, deps.Log).RegisterRoutes(apiV1, auth)

	return app
}
