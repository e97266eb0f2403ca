// Package config loads application configuration from the environment.
//
// All handles (database, chain client) are constructed explicitly at
// startup from this struct; nothing connects as an import side effect.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all coordinator configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database. Empty selects the in-memory stores (demo mode).
	DatabaseURL string

	// Chain settings
	RPCURL         string
	ChainID        int64
	EscrowContract string
	// ArbitratorKey signs dispute resolution transactions. Hex, with or
	// without 0x prefix. Optional: without it disputes require manual
	// on-chain resolution.
	ArbitratorKey string
	ArbitratorID  string
	// FinalityDepth is the confirmation count before a chain event is
	// treated as irreversible.
	FinalityDepth uint64
	WatchInterval time.Duration

	// Deal lifecycle
	DealTimeout    time.Duration // mirrors the contract's 24h timeout
	EmergencyGrace time.Duration // extra wait before emergency refund
	SweepInterval  time.Duration
	PlatformFeeBPS int // basis points on seller payout, hard cap 500

	// Observability
	OTLPEndpoint string
}

// Defaults mirror the Base Sepolia deployment used in staging.
const (
	DefaultRPCURL        = "https://sepolia.base.org"
	DefaultChainID       = 84532
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultFinality      = 6
	DefaultFeeBPS        = 100
	MaxFeeBPS            = 500
	DefaultWatchInterval = 15 * time.Second
	DefaultSweepInterval = 2 * time.Minute
	DefaultDealTimeout   = 24 * time.Hour
	DefaultEmergency     = time.Hour
)

// Load reads configuration from environment variables, consulting a .env
// file when present for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RPCURL:         getEnv("RPC_URL", DefaultRPCURL),
		ChainID:        getEnvInt64("CHAIN_ID", DefaultChainID),
		EscrowContract: os.Getenv("ESCROW_CONTRACT"),
		ArbitratorKey:  os.Getenv("ARBITRATOR_PRIVATE_KEY"),
		ArbitratorID:   getEnv("ARBITRATOR_ID", "arbitrator"),
		FinalityDepth:  uint64(getEnvInt64("FINALITY_DEPTH", DefaultFinality)),
		WatchInterval:  getEnvDuration("WATCH_INTERVAL", DefaultWatchInterval),
		DealTimeout:    getEnvDuration("DEAL_TIMEOUT", DefaultDealTimeout),
		EmergencyGrace: getEnvDuration("EMERGENCY_GRACE", DefaultEmergency),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		PlatformFeeBPS: int(getEnvInt64("PLATFORM_FEE_BPS", DefaultFeeBPS)),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and bounds.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.EscrowContract == "" {
		return fmt.Errorf("ESCROW_CONTRACT is required")
	}
	if c.ArbitratorKey != "" {
		key := c.ArbitratorKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("ARBITRATOR_PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}
	if c.PlatformFeeBPS < 0 || c.PlatformFeeBPS > MaxFeeBPS {
		return fmt.Errorf("PLATFORM_FEE_BPS must be between 0 and %d", MaxFeeBPS)
	}
	if c.FinalityDepth == 0 {
		return fmt.Errorf("FINALITY_DEPTH must be at least 1")
	}
	return nil
}

// IsDevelopment reports development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction reports production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

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
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
