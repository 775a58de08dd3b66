package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithValidConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt-test-secret")
	t.Setenv("GATEWAY_KEY_SECRET", "gw-test-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("ESCROW_WINDOW", "")
	t.Setenv("DEFAULT_CURRENCY", "inr")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultGatewayProvider, cfg.GatewayProvider)
	assert.Equal(t, "INR", cfg.DefaultCurrency)
	assert.Equal(t, DefaultEscrowWindow, cfg.EscrowWindow)
	assert.Equal(t, DefaultPendingOrderTTL, cfg.PendingOrderTTL)
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("GATEWAY_KEY_SECRET", "gw-test-secret")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestLoad_ParsesOptionalInfrastructure(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt-test-secret")
	t.Setenv("GATEWAY_KEY_SECRET", "gw-test-secret")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,,")
	t.Setenv("ESCROW_WINDOW", "5m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Minute, cfg.EscrowWindow)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Env:              "development",
			JWTSecret:        "j",
			GatewayKeySecret: "g",
			GatewayProvider:  "sandbox",
			EscrowWindow:     20 * time.Minute,
			PendingOrderTTL:  24 * time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing gateway secret", mutate: func(c *Config) { c.GatewayKeySecret = "" }, wantErr: "GATEWAY_KEY_SECRET is required"},
		{name: "stripe without key", mutate: func(c *Config) { c.GatewayProvider = "stripe" }, wantErr: "STRIPE_SECRET_KEY"},
		{name: "stripe with key", mutate: func(c *Config) { c.GatewayProvider = "stripe"; c.StripeSecretKey = "sk_test_x" }},
		{name: "unknown provider", mutate: func(c *Config) { c.GatewayProvider = "paypal" }, wantErr: "GATEWAY_PROVIDER must be one of"},
		{name: "sandbox in production", mutate: func(c *Config) { c.Env = "production"; c.DatabaseURL = "postgres://x" }, wantErr: "not allowed in production"},
		{name: "zero window", mutate: func(c *Config) { c.EscrowWindow = 0 }, wantErr: "ESCROW_WINDOW must be positive"},
		{name: "ttl shorter than window", mutate: func(c *Config) { c.PendingOrderTTL = time.Minute }, wantErr: "PENDING_ORDER_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_VAR", "custom_value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INVALID", "not_a_number")
	t.Setenv("TEST_DURATION", "90s")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 99, getEnvInt("TEST_INVALID", 99))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_INVALID", time.Second))
}
