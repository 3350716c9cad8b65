package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 10000.00, cfg.InitialCash)
	assert.Equal(t, 500.00, cfg.CashBuffer)
	assert.Equal(t, time.Hour, cfg.QuoteTTL)
	assert.Equal(t, []string{"finnhub", "yahoo", "alphavantage", "fmp"}, cfg.QuoteSources)
	assert.False(t, cfg.BackupEnabled())
	assert.Len(t, cfg.StopLossSchedule, 4)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("INITIAL_CASH", "2500.50")
	t.Setenv("QUOTE_SOURCES", "yahoo, finnhub")
	t.Setenv("QUOTE_TTL_MINUTES", "10")
	t.Setenv("STOP_LOSS_SCHEDULE", "0 0 11 * * 1-5; 0 0 13 * * 1-5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2500.50, cfg.InitialCash)
	assert.Equal(t, []string{"yahoo", "finnhub"}, cfg.QuoteSources)
	assert.Equal(t, 10*time.Minute, cfg.QuoteTTL)
	assert.Equal(t, []string{"0 0 11 * * 1-5", "0 0 13 * * 1-5"}, cfg.StopLossSchedule)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative cash", func(c *Config) { c.InitialCash = -1 }, "INITIAL_CASH"},
		{"negative buffer", func(c *Config) { c.CashBuffer = -5 }, "CASH_BUFFER"},
		{"bad port", func(c *Config) { c.Port = 0 }, "PORT"},
		{"no sources", func(c *Config) { c.QuoteSources = nil }, "QUOTE_SOURCES"},
		{"zero ttl", func(c *Config) { c.QuoteTTL = 0 }, "QUOTE_TTL_MINUTES"},
		{"bucket without creds", func(c *Config) { c.BackupBucket = "backups" }, "BACKUP_S3_ACCESS_KEY_ID"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tc.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDBPaths(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/papertrader"}
	assert.Equal(t, "/var/lib/papertrader/ledger.db", cfg.LedgerDBPath())
	assert.Equal(t, "/var/lib/papertrader/cache.db", cfg.CacheDBPath())
}
