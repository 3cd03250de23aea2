package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	LogLevel string
	Port     int

	DB DBConfig

	Gateway        string
	SandboxBaseURL string
	Razorpay       RazorpayConfig
	// GatewayTimeout bounds every single call to the payment gateway.
	GatewayTimeout time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	ReconcileInterval   time.Duration
	ReconcileStuckAfter time.Duration
	ReconcileBatch      int
}

type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Schema   string
}

// DSN returns the pgx connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Schema,
	)
}

type RazorpayConfig struct {
	KeyID       string
	KeySecret   string
	CheckoutURL string
	Currency    string
}

const (
	GatewaySandbox  = "sandbox"
	GatewayRazorpay = "razorpay"
)

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DB: DBConfig{
			Host:     getEnv("BLUEPRINT_DB_HOST", "localhost"),
			Port:     getEnv("BLUEPRINT_DB_PORT", "5432"),
			Username: getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
			Password: os.Getenv("BLUEPRINT_DB_PASSWORD"),
			Database: getEnv("BLUEPRINT_DB_DATABASE", "payments"),
			Schema:   getEnv("BLUEPRINT_DB_SCHEMA", "public"),
		},
		Gateway:        strings.ToLower(getEnv("PAYMENT_GATEWAY", GatewaySandbox)),
		SandboxBaseURL: getEnv("SANDBOX_BASE_URL", "https://sandbox.payments.local"),
		Razorpay: RazorpayConfig{
			KeyID:       os.Getenv("RAZORPAY_KEY_ID"),
			KeySecret:   os.Getenv("RAZORPAY_KEY_SECRET"),
			CheckoutURL: getEnv("RAZORPAY_CHECKOUT_URL", "https://checkout.razorpay.com/v1/checkout.js"),
			Currency:    getEnv("PAYMENT_CURRENCY", "INR"),
		},
		KafkaTopic: getEnv("KAFKA_TOPIC", "payments"),
	}

	var err error
	if cfg.Port, err = getInt("PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReconcileStuckAfter, err = getDuration("RECONCILE_STUCK_AFTER", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReconcileBatch, err = getInt("RECONCILE_BATCH", 100); err != nil {
		return nil, err
	}

	for key, d := range map[string]time.Duration{
		"GATEWAY_TIMEOUT":       cfg.GatewayTimeout,
		"RECONCILE_INTERVAL":    cfg.ReconcileInterval,
		"RECONCILE_STUCK_AFTER": cfg.ReconcileStuckAfter,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("config: %s must be positive, got %s", key, d)
		}
	}
	if cfg.ReconcileBatch <= 0 {
		return nil, fmt.Errorf("config: RECONCILE_BATCH must be positive, got %d", cfg.ReconcileBatch)
	}
	// A sweep must never catch a payment whose intent request is still in flight.
	if cfg.ReconcileStuckAfter <= cfg.GatewayTimeout {
		return nil, fmt.Errorf("config: RECONCILE_STUCK_AFTER (%s) must exceed GATEWAY_TIMEOUT (%s)",
			cfg.ReconcileStuckAfter, cfg.GatewayTimeout)
	}

	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	switch cfg.Gateway {
	case GatewaySandbox:
	case GatewayRazorpay:
		if cfg.Razorpay.KeyID == "" || cfg.Razorpay.KeySecret == "" {
			return nil, fmt.Errorf("config: razorpay credentials not configured")
		}
	default:
		return nil, fmt.Errorf("config: unknown PAYMENT_GATEWAY %q", cfg.Gateway)
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
