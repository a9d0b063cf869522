package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the billing service
type Config struct {
	// Server
	Host        string
	Port        string
	Environment string

	// Database
	DatabaseURL string
	DBPoolMin   int
	DBPoolMax   int

	// Redis
	RedisURL string

	// Xendit (Indonesia - Primary)
	XenditAPIKey        string
	XenditWebhookSecret string
	XenditBaseURL       string

	// Midtrans (Indonesia)
	MidtransServerKey     string
	MidtransWebhookSecret string
	MidtransBaseURL       string

	// Stripe (International)
	StripeSecretKey     string
	StripeWebhookSecret string

	// Razorpay (India)
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string

	// Invoice lifecycle
	InvoiceExpiryHours      int
	ExpirationSweepInterval time.Duration

	// Outbound gateway call deadline
	GatewayTimeout time.Duration

	// CORS
	AllowedOrigins []string

	// Webhook retry policy
	WebhookMaxAttempts int
	WebhookRetryDelays []time.Duration

	// Rate limiting
	DefaultRateLimit int

	// Bootstrap API key material; when set, a key for the default tenant is
	// provisioned at startup so the API is reachable on a fresh database
	APIKeySecret string

	// Logging
	LogLevel string
}

// buildDatabaseURL constructs the database URL from individual components
func buildDatabaseURL() string {
	// First check if DATABASE_URL is explicitly set
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	// Build from components
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "password")
	dbname := getEnv("DB_NAME", "billing")
	sslmode := getEnv("DB_SSLMODE", "disable")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, dbname, sslmode)
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		Host:        getEnv("APP_HOST", "0.0.0.0"),
		Port:        getEnv("APP_PORT", "8080"),
		Environment: getEnv("APP_ENV", "development"),
		DatabaseURL: buildDatabaseURL(),
		DBPoolMin:   getEnvInt("DATABASE_POOL_MIN", 5),
		DBPoolMax:   getEnvInt("DATABASE_POOL_MAX", 20),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Xendit
		XenditAPIKey:        getEnv("XENDIT_API_KEY", ""),
		XenditWebhookSecret: getEnv("XENDIT_WEBHOOK_SECRET", ""),
		XenditBaseURL:       getEnv("XENDIT_BASE_URL", "https://api.xendit.co"),

		// Midtrans
		MidtransServerKey:     getEnv("MIDTRANS_SERVER_KEY", ""),
		MidtransWebhookSecret: getEnv("MIDTRANS_WEBHOOK_SECRET", ""),
		MidtransBaseURL:       getEnv("MIDTRANS_BASE_URL", "https://app.sandbox.midtrans.com"),

		// Stripe
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		// Razorpay
		RazorpayKeyID:         getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
		RazorpayWebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),

		InvoiceExpiryHours:      getEnvInt("DEFAULT_INVOICE_EXPIRY_HOURS", 24),
		ExpirationSweepInterval: getEnvDuration("EXPIRATION_SWEEP_INTERVAL", 5*time.Minute),

		GatewayTimeout: time.Duration(getEnvInt("GATEWAY_TIMEOUT_SECONDS", 30)) * time.Second,

		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", nil),

		WebhookMaxAttempts: getEnvInt("WEBHOOK_MAX_ATTEMPTS", 4),
		WebhookRetryDelays: getEnvDurations("WEBHOOK_RETRY_DELAYS", []time.Duration{60 * time.Second, 300 * time.Second, 1800 * time.Second}),

		DefaultRateLimit: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		APIKeySecret: getEnv("API_KEY_SECRET", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if config.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if config.WebhookMaxAttempts != len(config.WebhookRetryDelays)+1 {
		log.Fatalf("WEBHOOK_MAX_ATTEMPTS (%d) must equal number of retry delays + 1 (%d)",
			config.WebhookMaxAttempts, len(config.WebhookRetryDelays)+1)
	}

	return config
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer for %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration for %s=%q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

// getEnvList gets a comma-separated list environment variable with a default value
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnvDurations gets a comma-separated list of durations with a default value
func getEnvDurations(key string, defaultValue []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			log.Printf("Warning: invalid duration list for %s=%q, using default", key, value)
			return defaultValue
		}
		out = append(out, d)
	}
	return out
}
