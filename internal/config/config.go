// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Stripe settings
	StripeSecretKey     string
	StripeWebhookSecret string
	PlatformBaseURL     string // Used to build onboarding return/refresh URLs

	// Payment settings
	PlatformFeePercent   float64 // e.g. 0.10 for a 10% platform fee
	PayoutHoldDays       int     // Seller payout delay enforced via the payout schedule
	EnableLiabilityShift bool    // Route charges through the seller's account when eligible
	Currency             string  // Single supported settlement currency

	// Reservations
	ReservationTTL  time.Duration // How long a listing stays reserved during payment
	StaleOrderAfter time.Duration // When a draft order with no intent is considered abandoned

	// Webhook security
	WebhookIPAllowlist  []string // Stripe webhook source IPs; empty disables the check
	WebhookTolerance    time.Duration
	EnforceWebhookIPs   bool
	RateLimitPerMinute  int
	OTLPEndpoint        string // OpenTelemetry collector; empty disables tracing
	AdminSecret         string // Admin API secret for refund/management endpoints
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultFeePercent       = 0.10
	DefaultPayoutHoldDays   = 7
	DefaultCurrency         = "USD"
	DefaultReservationTTL   = 15 * time.Minute
	DefaultStaleOrderAfter  = 15 * time.Minute
	DefaultWebhookTolerance = 5 * time.Minute
	DefaultRateLimit        = 60
)

// defaultStripeWebhookIPs are Stripe's published webhook source addresses.
// See https://stripe.com/docs/ips — refreshed manually on change.
var defaultStripeWebhookIPs = []string{
	"3.18.12.63", "3.130.192.231", "13.235.14.237", "13.235.122.149",
	"18.211.135.69", "3.89.151.148", "34.234.32.107", "52.15.183.38",
	"35.154.171.200", "52.74.223.119", "18.139.77.50", "52.221.197.229",
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PlatformBaseURL:      getEnv("PLATFORM_BASE_URL", "http://localhost:8080"),
		PlatformFeePercent:   getEnvFloat("PLATFORM_FEE_PERCENT", DefaultFeePercent),
		PayoutHoldDays:       int(getEnvInt64("PAYOUT_HOLD_DAYS", DefaultPayoutHoldDays)),
		EnableLiabilityShift: getEnvBool("ENABLE_LIABILITY_SHIFT", true),
		Currency:             getEnv("CURRENCY", DefaultCurrency),
		ReservationTTL:       getEnvDuration("RESERVATION_TTL", DefaultReservationTTL),
		StaleOrderAfter:      getEnvDuration("STALE_ORDER_AFTER", DefaultStaleOrderAfter),
		WebhookTolerance:     getEnvDuration("WEBHOOK_TOLERANCE", DefaultWebhookTolerance),
		EnforceWebhookIPs:    getEnvBool("ENFORCE_WEBHOOK_IPS", false),
		RateLimitPerMinute:   int(getEnvInt64("RATE_LIMIT_PER_MINUTE", DefaultRateLimit)),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
	}

	if ips := os.Getenv("WEBHOOK_IP_ALLOWLIST"); ips != "" {
		for _, ip := range strings.Split(ips, ",") {
			if ip = strings.TrimSpace(ip); ip != "" {
				cfg.WebhookIPAllowlist = append(cfg.WebhookIPAllowlist, ip)
			}
		}
	} else {
		cfg.WebhookIPAllowlist = defaultStripeWebhookIPs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.PlatformFeePercent < 0 || c.PlatformFeePercent >= 1 {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be in [0, 1)")
	}
	if c.Currency != DefaultCurrency {
		return fmt.Errorf("only %s settlement is supported", DefaultCurrency)
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
