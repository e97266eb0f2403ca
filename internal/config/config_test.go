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
	setEnv(t, "ESCROW_CONTRACT", "0x1234567890123456789012345678901234567890")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, int64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, uint64(DefaultFinality), cfg.FinalityDepth)
	assert.Equal(t, DefaultDealTimeout, cfg.DealTimeout)
	assert.Equal(t, DefaultFeeBPS, cfg.PlatformFeeBPS)
}

func TestLoad_MissingEscrowContract(t *testing.T) {
	setEnv(t, "ESCROW_CONTRACT", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ESCROW_CONTRACT is required")
}

func TestLoad_InvalidArbitratorKeyLength(t *testing.T) {
	setEnv(t, "ESCROW_CONTRACT", "0x1234567890123456789012345678901234567890")
	setEnv(t, "ARBITRATOR_PRIVATE_KEY", "tooshort")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex characters")
}

func TestLoad_ArbitratorKeyWithPrefix(t *testing.T) {
	setEnv(t, "ESCROW_CONTRACT", "0x1234567890123456789012345678901234567890")
	setEnv(t, "ARBITRATOR_PRIVATE_KEY",
		"0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")

	_, err := Load()
	assert.NoError(t, err)
}

func TestLoad_DurationOverride(t *testing.T) {
	setEnv(t, "ESCROW_CONTRACT", "0x1234567890123456789012345678901234567890")
	setEnv(t, "DEAL_TIMEOUT", "48h")
	setEnv(t, "WATCH_INTERVAL", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.DealTimeout)
	assert.Equal(t, 5*time.Second, cfg.WatchInterval)
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	setEnv(t, "ESCROW_CONTRACT", "0x1234567890123456789012345678901234567890")
	setEnv(t, "SWEEP_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestConfig_Validate(t *testing.T) {
	base := Config{
		RPCURL:         DefaultRPCURL,
		EscrowContract: "0x1234567890123456789012345678901234567890",
		FinalityDepth:  DefaultFinality,
		PlatformFeeBPS: DefaultFeeBPS,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing rpc url", func(c *Config) { c.RPCURL = "" }, "RPC_URL"},
		{"fee too high", func(c *Config) { c.PlatformFeeBPS = MaxFeeBPS + 1 }, "PLATFORM_FEE_BPS"},
		{"negative fee", func(c *Config) { c.PlatformFeeBPS = -1 }, "PLATFORM_FEE_BPS"},
		{"zero finality", func(c *Config) { c.FinalityDepth = 0 }, "FINALITY_DEPTH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EnvModes(t *testing.T) {
	dev := Config{Env: "development"}
	assert.True(t, dev.IsDevelopment())
	assert.False(t, dev.IsProduction())

	prod := Config{Env: "production"}
	assert.True(t, prod.IsProduction())
	assert.False(t, prod.IsDevelopment())
}
