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
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL    string // PostgreSQL connection string (optional, uses in-memory if not set)
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Auth
	JWTSecret   string
	AdminSecret string

	// Payment gateway
	GatewayProvider  string // "sandbox" or "stripe"
	GatewayKeySecret string // HMAC secret shared with the checkout for payment signatures
	StripeSecretKey  string
	DefaultCurrency  string

	// Escrow policy
	EscrowWindow    time.Duration
	PendingOrderTTL time.Duration

	// HTTP edge
	RateLimitRPM       int
	CORSAllowedOrigins []string

	// Optional infrastructure
	OTelEndpoint string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultGatewayProvider = "sandbox"
	DefaultCurrency        = "INR"
	DefaultEscrowWindow    = 20 * time.Minute
	DefaultPendingOrderTTL = 24 * time.Hour
	DefaultRateLimitRPM    = 120
	DefaultKafkaTopic      = "kindkart.settlement"
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:     getEnvInt("DB_MAX_OPEN_CONNS", DefaultMaxOpenConns),
		DBMaxIdleConns:     getEnvInt("DB_MAX_IDLE_CONNS", DefaultMaxIdleConns),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		GatewayProvider:    strings.ToLower(getEnv("GATEWAY_PROVIDER", DefaultGatewayProvider)),
		GatewayKeySecret:   os.Getenv("GATEWAY_KEY_SECRET"),
		StripeSecretKey:    os.Getenv("STRIPE_SECRET_KEY"),
		DefaultCurrency:    strings.ToUpper(getEnv("DEFAULT_CURRENCY", DefaultCurrency)),
		EscrowWindow:       getEnvDuration("ESCROW_WINDOW", DefaultEscrowWindow),
		PendingOrderTTL:    getEnvDuration("PENDING_ORDER_TTL", DefaultPendingOrderTTL),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		OTelEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RedisURL:           os.Getenv("REDIS_URL"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.GatewayKeySecret == "" {
		return fmt.Errorf("GATEWAY_KEY_SECRET is required")
	}

	switch c.GatewayProvider {
	case "sandbox":
		if c.IsProduction() {
			return fmt.Errorf("GATEWAY_PROVIDER=sandbox is not allowed in production")
		}
	case "stripe":
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when GATEWAY_PROVIDER=stripe")
		}
	default:
		return fmt.Errorf("GATEWAY_PROVIDER must be one of sandbox, stripe (got %q)", c.GatewayProvider)
	}

	if c.EscrowWindow <= 0 {
		return fmt.Errorf("ESCROW_WINDOW must be positive")
	}
	if c.PendingOrderTTL <= c.EscrowWindow {
		return fmt.Errorf("PENDING_ORDER_TTL must be longer than ESCROW_WINDOW")
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
