package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "PAYMENT_RECIPIENT", "0x1234567890123456789012345678901234567890")
	setEnv(t, "PRICE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultPaymentRPCURL, cfg.PaymentRPCURL)
	assert.Equal(t, int64(DefaultPaymentChainID), cfg.PaymentChainID)
	assert.Equal(t, DefaultUSDCContract, cfg.USDCContract)
	assert.Equal(t, "0.25", cfg.Price)
	assert.Equal(t, DefaultReplayTTL, cfg.ReplayTTL)
	assert.Contains(t, cfg.ChainRPCURLs, "ethereum")
	assert.Contains(t, cfg.ChainRPCURLs, "bsc")
	assert.Contains(t, cfg.ChainRPCURLs, "polygon")
}

func TestLoad_ProductionRequiresRecipient(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "PAYMENT_RECIPIENT", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "PAYMENT_RECIPIENT is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				PaymentRPCURL:    "https://sepolia.base.org",
				PaymentRecipient: "0x1234567890123456789012345678901234567890",
				ReplayTTL:        time.Hour,
			},
			wantErr: "",
		},
		{
			name: "missing RPC URL",
			config: Config{
				PaymentRPCURL: "",
				ReplayTTL:     time.Hour,
			},
			wantErr: "PAYMENT_RPC_URL is required",
		},
		{
			name: "malformed recipient",
			config: Config{
				PaymentRPCURL:    "https://sepolia.base.org",
				PaymentRecipient: "0x1234",
				ReplayTTL:        time.Hour,
			},
			wantErr: "40-hex-char address",
		},
		{
			name: "non-hex recipient",
			config: Config{
				PaymentRPCURL:    "https://sepolia.base.org",
				PaymentRecipient: "0xzz34567890123456789012345678901234567890",
				ReplayTTL:        time.Hour,
			},
			wantErr: "40-hex-char address",
		},
		{
			name: "missing recipient in production",
			config: Config{
				Env:           "production",
				PaymentRPCURL: "https://sepolia.base.org",
				ReplayTTL:     time.Hour,
			},
			wantErr: "PAYMENT_RECIPIENT is required",
		},
		{
			name: "non-positive replay TTL",
			config: Config{
				PaymentRPCURL: "https://sepolia.base.org",
				ReplayTTL:     0,
			},
			wantErr: "REPLAY_TTL must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
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

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_DUR_BARE", "3600") // bare numbers are seconds
	setEnv(t, "TEST_DUR_BAD", "soon")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Hour, getEnvDuration("TEST_DUR_BARE", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DUR_BAD", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
}
