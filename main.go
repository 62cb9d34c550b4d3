package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"tienda/internal/cache"
	"tienda/internal/config"
	"tienda/internal/database"
	"tienda/internal/handlers"
	"tienda/internal/logger"
	"tienda/internal/payments"
	"tienda/internal/repositories"
	"tienda/internal/services"
	"tienda/pkg/rabbitmq"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// devWebhookSecret signs fake provider webhooks when no Stripe account is configured.
const devWebhookSecret = "whsec_development"

// application is the wired service: HTTP app plus its background workers.
type application struct {
	cfg *config.Config
	log *zap.Logger

	app      *fiber.App
	db       *gorm.DB
	broker   *rabbitmq.Client
	provider payments.Provider
	orders   *services.OrderService
	sweeper  *services.ExpirySweeper

	closers []func() error
	wg      sync.WaitGroup
}

func newApplication(ctx context.Context, cfg *config.Config, log *zap.Logger) (*application, error) {
	a := &application{cfg: cfg, log: log}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err := database.Migrate(db); err != nil {
		a.Close()
		return nil, err
	}

	var events services.EventPublisher
	if cfg.RabbitMQURL != "" {
		broker, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL}, log.Named("rabbitmq"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.broker = broker
		a.closers = append(a.closers, broker.Close)
		events = broker
	} else {
		log.Warn("RABBITMQ_URL is empty, order events will not be published")
	}

	var idem cache.IdempotencyStore
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		idem = cache.NewRedisStore(rdb)
	} else {
		log.Warn("REDIS_ADDR is empty, idempotency records are kept in process memory")
		idem = cache.NewMemoryStore()
	}

	a.provider, err = selectProvider(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	productRepo := repositories.NewGORMProductRepository(db)
	categoryRepo := repositories.NewGORMCategoryRepository(db)
	orderRepo := repositories.NewGORMOrderRepository(db)
	userRepo := repositories.NewGORMUserRepository(db)

	ledger := services.NewInventoryLedger(productRepo, productRepo, log.Named("inventory"))
	a.orders = services.NewOrderService(orderRepo, ledger, a.provider, events, log.Named("orders"))
	recon := services.NewReconciliationService(orderRepo, a.orders, a.provider, idem, log.Named("reconciliation"), cfg.IdempotencyTTL)
	checkout := services.NewCheckoutService(productRepo, orderRepo, ledger, a.provider, idem, events, log.Named("checkout"),
		services.CheckoutConfig{Currency: cfg.PaymentCurrency, IdempotencyTTL: cfg.IdempotencyTTL})
	a.sweeper = services.NewExpirySweeper(orderRepo, a.orders, recon, a.provider, log.Named("sweeper"), cfg.PendingOrderTTL)

	authService := services.NewAuthService(userRepo, cfg.JWTSecret, log.Named("auth"))
	if err := authService.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to bootstrap administrator: %w", err)
	}

	a.app = handlers.NewApp(handlers.Dependencies{
		Auth:           authService,
		Products:       services.NewProductService(productRepo, productRepo, categoryRepo, log.Named("products")),
		Categories:     services.NewCategoryService(categoryRepo, productRepo, log.Named("categories")),
		Orders:         a.orders,
		Checkout:       checkout,
		Reconciliation: recon,
		Log:            log,
		Checks:         a.checks,
		AccessLog:      !cfg.IsProduction(),
	})
	return a, nil
}

// selectProvider uses Stripe when a key is configured and the in-process fake otherwise.
// Config validation already refuses to start production without Stripe credentials.
func selectProvider(cfg *config.Config, log *zap.Logger) (payments.Provider, error) {
	if cfg.StripeSecretKey != "" {
		return payments.NewStripeProvider(payments.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			SuccessURL:    cfg.PaymentSuccessURL,
			CancelURL:     cfg.PaymentCancelURL,
			Timeout:       cfg.PaymentTimeout,
		}), nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("a payment provider is required in production")
	}

	secret := cfg.StripeWebhookSecret
	if secret == "" {
		secret = devWebhookSecret
	}
	log.Warn("STRIPE_SECRET_KEY is empty, using the fake payment provider")
	return payments.NewFakeProvider(secret), nil
}

// checks reports dependency state for the health endpoint.
func (a *application) checks() map[string]string {
	status := map[string]string{
		"database": "up",
		"broker":   "disabled",
	}
	if sqlDB, err := a.db.DB(); err != nil || sqlDB.Ping() != nil {
		status["database"] = "down"
	}
	if a.broker != nil {
		status["broker"] = "up"
		if !a.broker.Healthy() {
			status["broker"] = "down"
		}
	}
	return status
}

// start launches the expiry sweeper and, with a broker, the fulfillment consumer.
func (a *application) start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sweeper.Run(ctx, a.cfg.ExpirySweepInterval)
	}()

	if a.broker == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := a.broker.ConsumeFulfillment(ctx, a.orders.HandleFulfillmentMessage)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("fulfillment consumer stopped", zap.Error(err))
		}
	}()
}

// Close releases every resource in reverse order of acquisition.
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApplication(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize application", zap.Error(err))
	}
	a.start(ctx)

	go func() {
		log.Info("starting server", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))
		if err := a.app.Listen(cfg.AppPort); err != nil {
			log.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	<-ctx.Done()
	log.Info("shutting down server")

	if err := a.app.Shutdown(); err != nil {
		log.Error("error during fiber shutdown", zap.Error(err))
	}
	a.wg.Wait()
	if err := a.Close(); err != nil {
		log.Error("error releasing resources", zap.Error(err))
	}
	log.Info("server gracefully stopped")
}
