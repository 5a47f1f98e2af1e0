// Package config provides environment-aware configuration for the gateway.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment names a deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

func parseEnvironment(s string) (Environment, bool) {
	switch Environment(s) {
	case Development, Testing, Production:
		return Environment(s), true
	default:
		return "", false
	}
}

// Config holds every tunable named by the gateway's dynamic configuration
// contract (see SPEC_FULL.md §A.2): chain RPC, indexer RPC, crypto backend
// mode, session/payment timing bounds, and ambient HTTP/logging/security
// settings. It is populated once at startup and is never mutated afterward.
type Config struct {
	Env Environment

	// Ledger RPC
	ChainRPCURL     string
	ChainNetworkMagic uint32

	// Compression indexer
	LightRPCURL string

	// Database
	DatabaseURL      string
	DBMaxConnections int
	DBIdleTimeout    time.Duration

	// HTTP
	GatewayPort   int
	MetricsPort   int
	CORSOrigins   []string

	// Logging
	LogLevel  string
	LogFormat string

	// Crypto backend: "real" (enclave-sealed AEAD + on-chain attestations) or
	// "simulation" (pure Go AEAD, shape-compatible attestations).
	CryptoBackend     string
	CryptoMasterSecretHex string // hex-encoded 32-byte CipherStore master secret

	// NEP-17 token script hash for the payable stablecoin asset ChainAdapter
	// builders transfer: hex in the form explorers display, without a "0x"
	// prefix, decoded with util.Uint160DecodeStringLE.
	TokenScriptHashHex string

	// Session-key / budget bounds (spec.md §3 SessionKey, §9 "Dynamic configuration maps")
	SessionDefaultDuration time.Duration
	SessionMaxDuration     time.Duration
	PaymentExpiryBlocks    uint32
	MinStandardNative      int64 // 0.008 native units (spec.md §4.6.4 Standard)
	MinRecoveryNative      int64 // 0.001 native units (spec.md §4.6.4 Maximum-Privacy)
	MinRecoveryDeposit     int64 // 0.005 native units, required before M0_Init (spec.md §4.6.4)
	MaxAmountMicro         int64

	// Security
	JWTExpiry         time.Duration
	JWTSigningSecret  string
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Features
	EnableDebugEndpoints bool
	TestMode             bool
	MetricsEnabled       bool
}

// Load loads configuration based on the AEGIX_ENV environment variable.
func Load() (*Config, error) {
	envStr := os.Getenv("AEGIX_ENV")
	if envStr == "" {
		envStr = string(Development)
	}

	env, ok := parseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid AEGIX_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		// Config file is optional; only warn on non-"file not found" errors
		// so tests and CI runs stay quiet.
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.ChainRPCURL = getEnv("CHAIN_RPC_URL", "http://localhost:10332")
	magic, err := strconv.ParseUint(getEnv("CHAIN_NETWORK_MAGIC", "860833102"), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid CHAIN_NETWORK_MAGIC: %w", err)
	}
	c.ChainNetworkMagic = uint32(magic)

	c.LightRPCURL = getEnv("LIGHT_RPC_URL", "http://localhost:8784")

	c.DatabaseURL = getEnv("DATABASE_URL", "")
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	c.DBMaxConnections = getIntEnv("DB_MAX_CONNECTIONS", 20)
	dbIdleTimeout := getEnv("DB_IDLE_TIMEOUT", "5m")
	if c.DBIdleTimeout, err = time.ParseDuration(dbIdleTimeout); err != nil {
		return fmt.Errorf("invalid DB_IDLE_TIMEOUT: %w", err)
	}

	c.GatewayPort = getIntEnv("GATEWAY_PORT", 8080)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)
	c.CORSOrigins = strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",")

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.CryptoBackend = getEnv("CRYPTO_BACKEND", "simulation")
	c.CryptoMasterSecretHex = getEnv("CRYPTO_MASTER_SECRET", "")
	c.TokenScriptHashHex = getEnv("TOKEN_SCRIPT_HASH", "")

	sessionDefault := getEnv("SESSION_DEFAULT_DURATION", "24h")
	if c.SessionDefaultDuration, err = time.ParseDuration(sessionDefault); err != nil {
		return fmt.Errorf("invalid SESSION_DEFAULT_DURATION: %w", err)
	}
	sessionMax := getEnv("SESSION_MAX_DURATION", "168h") // 7 days
	if c.SessionMaxDuration, err = time.ParseDuration(sessionMax); err != nil {
		return fmt.Errorf("invalid SESSION_MAX_DURATION: %w", err)
	}
	c.PaymentExpiryBlocks = uint32(getIntEnv("PAYMENT_EXPIRY_BLOCKS", 150))
	c.MinStandardNative = int64(getIntEnv("MIN_STANDARD_NATIVE_MICRO", 8_000_000))    // 0.008 native
	c.MinRecoveryNative = int64(getIntEnv("MIN_RECOVERY_NATIVE_MICRO", 1_000_000))    // 0.001 native
	c.MinRecoveryDeposit = int64(getIntEnv("MIN_RECOVERY_DEPOSIT_MICRO", 5_000_000))  // 0.005 native
	c.MaxAmountMicro = int64(getIntEnv64("MAX_AMOUNT_MICRO", 1_000_000_000_000_000)) // 10^15

	jwtExpiry := getEnv("JWT_EXPIRY", "15m")
	if c.JWTExpiry, err = time.ParseDuration(jwtExpiry); err != nil {
		return fmt.Errorf("invalid JWT_EXPIRY: %w", err)
	}
	c.JWTSigningSecret = getEnv("JWT_SIGNING_SECRET", "")
	c.RateLimitEnabled = getBoolEnv("RATE_LIMIT_ENABLED", true)
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", 100)
	rateLimitWindow := getEnv("RATE_LIMIT_WINDOW", "1m")
	if c.RateLimitWindow, err = time.ParseDuration(rateLimitWindow); err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}

	c.EnableDebugEndpoints = getBoolEnv("ENABLE_DEBUG_ENDPOINTS", false)
	c.TestMode = getBoolEnv("TEST_MODE", false)
	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == Production)

	return nil
}

// IsProduction reports whether c targets the production environment.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate enforces production-only constraints.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.CryptoBackend != "real" {
			return fmt.Errorf("CRYPTO_BACKEND must be \"real\" in production")
		}
		if c.EnableDebugEndpoints {
			return fmt.Errorf("ENABLE_DEBUG_ENDPOINTS must be false in production")
		}
		if c.TestMode {
			return fmt.Errorf("TEST_MODE must be false in production")
		}
		if !c.RateLimitEnabled {
			return fmt.Errorf("RATE_LIMIT_ENABLED must be true in production")
		}
		if c.JWTSigningSecret == "" {
			return fmt.Errorf("JWT_SIGNING_SECRET is required in production")
		}
		if c.CryptoMasterSecretHex == "" {
			return fmt.Errorf("CRYPTO_MASTER_SECRET is required in production")
		}
		if c.TokenScriptHashHex == "" {
			return fmt.Errorf("TOKEN_SCRIPT_HASH is required in production")
		}
	}

	for _, port := range []int{c.GatewayPort, c.MetricsPort} {
		if port < 1024 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1024 and 65535)", port)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getIntEnv64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
