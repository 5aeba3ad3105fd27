// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database (optional — payment tracker uses in-memory store if not set)
	DatabaseURL string

	// Payment settings (the chain payments are verified on)
	PaymentRPCURL    string
	PaymentChainID   int64
	PaymentNetwork   string // human-readable network name for 402 envelopes
	USDCContract     string
	PaymentRecipient string // address payments must be sent to
	Price            string // required payment per analysis, in USDC

	// Replay prevention
	ReplayTTL     time.Duration
	SweepInterval time.Duration

	// Analysis chains: chain name → RPC endpoint, passed to the extractor
	ChainRPCURLs map[string]string

	// Feature extraction
	ExtractorCommand string // script invoked as: <cmd> <address> <chain>
	ExtractorTimeout time.Duration

	// Inference
	ModelPath       string
	OnnxLibraryPath string // onnxruntime shared library; empty = system default

	// Proof backend
	ProverBinary       string // path to the zkml prover; empty = commitment proofs
	ProofTimeout       time.Duration
	ProofVerifyTimeout time.Duration

	// Rate limiting
	RateLimitPerMinute int
	RateLimitBurst     int
	PaidLimitPerMinute int

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultPaymentRPCURL  = "https://sepolia.base.org"
	DefaultPaymentChainID = 84532                                        // Base Sepolia
	DefaultUSDCContract   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e" // Base Sepolia USDC
	DefaultPaymentNetwork = "base-sepolia"
	DefaultPrice          = "0.10"
	DefaultModelPath      = "model/rugdetector_v1.onnx"
	DefaultExtractorCmd   = "model/extract_features.py"

	DefaultReplayTTL     = 24 * time.Hour
	DefaultSweepInterval = 10 * time.Minute

	DefaultExtractorTimeout   = 30 * time.Second
	DefaultProofTimeout       = 2 * time.Minute
	DefaultProofVerifyTimeout = 30 * time.Second

	DefaultRateLimit     = 60
	DefaultRateBurst     = 10
	DefaultPaidRateLimit = 30
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", DefaultPort),
		Env:      getEnv("ENV", DefaultEnv),
		LogLevel: getEnv("LOG_LEVEL", DefaultLogLevel),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		PaymentRPCURL:    getEnv("PAYMENT_RPC_URL", DefaultPaymentRPCURL),
		PaymentChainID:   getEnvInt64("PAYMENT_CHAIN_ID", DefaultPaymentChainID),
		PaymentNetwork:   getEnv("PAYMENT_NETWORK", DefaultPaymentNetwork),
		USDCContract:     getEnv("USDC_CONTRACT", DefaultUSDCContract),
		PaymentRecipient: os.Getenv("PAYMENT_RECIPIENT"),
		Price:            getEnv("PRICE", DefaultPrice),

		ReplayTTL:     getEnvDuration("REPLAY_TTL", DefaultReplayTTL),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),

		ChainRPCURLs: map[string]string{
			"ethereum": getEnv("ETHEREUM_RPC_URL", "https://eth.llamarpc.com"),
			"bsc":      getEnv("BSC_RPC_URL", "https://bsc-dataseed.binance.org"),
			"polygon":  getEnv("POLYGON_RPC_URL", "https://polygon-rpc.com"),
		},

		ExtractorCommand: getEnv("EXTRACTOR_COMMAND", DefaultExtractorCmd),
		ExtractorTimeout: getEnvDuration("EXTRACTOR_TIMEOUT", DefaultExtractorTimeout),

		ModelPath:       getEnv("MODEL_PATH", DefaultModelPath),
		OnnxLibraryPath: os.Getenv("ONNX_LIBRARY_PATH"),

		ProverBinary:       os.Getenv("PROVER_BINARY"),
		ProofTimeout:       getEnvDuration("PROOF_TIMEOUT", DefaultProofTimeout),
		ProofVerifyTimeout: getEnvDuration("PROOF_VERIFY_TIMEOUT", DefaultProofVerifyTimeout),

		RateLimitPerMinute: int(getEnvInt64("RATE_LIMIT_PER_MINUTE", DefaultRateLimit)),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateBurst)),
		PaidLimitPerMinute: int(getEnvInt64("PAID_RATE_LIMIT_PER_MINUTE", DefaultPaidRateLimit)),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.PaymentRPCURL == "" {
		return fmt.Errorf("PAYMENT_RPC_URL is required")
	}
	if c.IsProduction() && c.PaymentRecipient == "" {
		return fmt.Errorf("PAYMENT_RECIPIENT is required in production")
	}
	if c.PaymentRecipient != "" && !isHexAddress(c.PaymentRecipient) {
		return fmt.Errorf("PAYMENT_RECIPIENT must be a 0x-prefixed 40-hex-char address")
	}
	if c.ReplayTTL <= 0 {
		return fmt.Errorf("REPLAY_TTL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func isHexAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare numbers are treated as seconds (e.g. REPLAY_TTL=86400)
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}
