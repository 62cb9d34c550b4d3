package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the runtime configuration of the service.
type Config struct {
	AppPort string
	AppEnv  string

	DatabaseDriver string
	DatabaseDSN    string
	RabbitMQURL    string
	RedisAddr      string
	JWTSecret      string

	StripeSecretKey     string
	StripeWebhookSecret string
	PaymentCurrency     string
	PaymentSuccessURL   string
	PaymentCancelURL    string
	PaymentTimeout      time.Duration

	PendingOrderTTL     time.Duration
	ExpirySweepInterval time.Duration
	IdempotencyTTL      time.Duration

	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load reads configuration from the environment, an optional .env file and the
// optional file named by TIENDA_CONFIG, in increasing order of precedence for env vars.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("DATABASE_DSN", "host=127.0.0.1 user=postgres password=postgres dbname=tienda port=5432 sslmode=disable")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("PAYMENT_CURRENCY", "usd")
	v.SetDefault("PAYMENT_SUCCESS_URL", "http://localhost:8080/checkout/success")
	v.SetDefault("PAYMENT_CANCEL_URL", "http://localhost:8080/checkout/cancel")
	v.SetDefault("PAYMENT_TIMEOUT", "10s")
	v.SetDefault("PENDING_ORDER_TTL", "30m")
	v.SetDefault("EXPIRY_SWEEP_INTERVAL", "1m")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("ADMIN_USERNAME", "")
	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.AutomaticEnv()

	if path := os.Getenv("TIENDA_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		AppPort:             v.GetString("APP_PORT"),
		AppEnv:              v.GetString("APP_ENV"),
		DatabaseDriver:      v.GetString("DATABASE_DRIVER"),
		DatabaseDSN:         v.GetString("DATABASE_DSN"),
		RabbitMQURL:         v.GetString("RABBITMQ_URL"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		PaymentCurrency:     v.GetString("PAYMENT_CURRENCY"),
		PaymentSuccessURL:   v.GetString("PAYMENT_SUCCESS_URL"),
		PaymentCancelURL:    v.GetString("PAYMENT_CANCEL_URL"),
		PaymentTimeout:      v.GetDuration("PAYMENT_TIMEOUT"),
		PendingOrderTTL:     v.GetDuration("PENDING_ORDER_TTL"),
		ExpirySweepInterval: v.GetDuration("EXPIRY_SWEEP_INTERVAL"),
		IdempotencyTTL:      v.GetDuration("IDEMPOTENCY_TTL"),
		AdminUsername:       v.GetString("ADMIN_USERNAME"),
		AdminEmail:          v.GetString("ADMIN_EMAIL"),
		AdminPassword:       v.GetString("ADMIN_PASSWORD"),
	}
	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = "development-only-secret"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN is required"))
	}
	if c.PaymentCurrency == "" {
		errs = append(errs, errors.New("PAYMENT_CURRENCY is required"))
	}
	for name, d := range map[string]time.Duration{
		"PAYMENT_TIMEOUT":       c.PaymentTimeout,
		"PENDING_ORDER_TTL":     c.PendingOrderTTL,
		"EXPIRY_SWEEP_INTERVAL": c.ExpirySweepInterval,
		"IDEMPOTENCY_TTL":       c.IdempotencyTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", name))
		}
	}
	if c.IsProduction() {
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required in production"))
		}
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required in production"))
		}
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_USERNAME and ADMIN_PASSWORD must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
