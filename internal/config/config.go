package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Host      string
	Port      int
	DataDir   string
	LogLevel  string
	LogPretty bool

	// Account
	InitialCash float64
	CashBuffer  float64

	// Quotes
	QuoteTTL          time.Duration
	HTTPClientTimeout time.Duration
	QuoteSources      []string
	FinnhubAPIKey     string
	AlphaVantageKey   string
	FMPAPIKey         string
	FinnhubStream     bool

	// Execution
	ExecuteFreshQuotes bool
	BenchmarkTicker    string

	// Scheduler
	StopLossSchedule []string

	// Backups (disabled when bucket is empty)
	BackupBucket        string
	BackupEndpoint      string
	BackupRegion        string
	BackupAccessKeyID   string
	BackupSecretKey     string
	BackupRetentionDays int
}

// Default stop-loss sweep times: weekday US market checkpoints.
// Six-field cron specs, seconds first.
var defaultStopLossSchedule = []string{
	"CRON_TZ=America/New_York 0 0 10 * * 1-5",
	"CRON_TZ=America/New_York 0 0 12 * * 1-5",
	"CRON_TZ=America/New_York 0 0 14 * * 1-5",
	"CRON_TZ=America/New_York 0 30 15 * * 1-5",
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Host:      getEnv("HOST", "0.0.0.0"),
		Port:      getEnvAsInt("PORT", 8080),
		DataDir:   getEnv("DATA_DIR", "./data"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),

		InitialCash: getEnvAsFloat("INITIAL_CASH", 10000.00),
		CashBuffer:  getEnvAsFloat("CASH_BUFFER", 500.00),

		QuoteTTL:          time.Duration(getEnvAsInt("QUOTE_TTL_MINUTES", 60)) * time.Minute,
		HTTPClientTimeout: time.Duration(getEnvAsInt("HTTP_CLIENT_TIMEOUT_SECONDS", 15)) * time.Second,
		QuoteSources:      getEnvAsList("QUOTE_SOURCES", []string{"finnhub", "yahoo", "alphavantage", "fmp"}),
		FinnhubAPIKey:     getEnv("FINNHUB_API_KEY", ""),
		AlphaVantageKey:   getEnv("ALPHA_VANTAGE_API_KEY", ""),
		FMPAPIKey:         getEnv("FMP_API_KEY", ""),
		FinnhubStream:     getEnvAsBool("FINNHUB_STREAM_ENABLED", false),

		ExecuteFreshQuotes: getEnvAsBool("EXECUTE_FRESH_QUOTES", true),
		BenchmarkTicker:    getEnv("BENCHMARK_TICKER", "SPY"),

		StopLossSchedule: getEnvAsList("STOP_LOSS_SCHEDULE", defaultStopLossSchedule),

		BackupBucket:        getEnv("BACKUP_S3_BUCKET", ""),
		BackupEndpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupRegion:        getEnv("BACKUP_S3_REGION", "auto"),
		BackupAccessKeyID:   getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		BackupSecretKey:     getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and consistent
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.InitialCash < 0 {
		return fmt.Errorf("INITIAL_CASH must not be negative")
	}
	if c.CashBuffer < 0 {
		return fmt.Errorf("CASH_BUFFER must not be negative")
	}
	if c.QuoteTTL <= 0 {
		return fmt.Errorf("QUOTE_TTL_MINUTES must be positive")
	}
	if len(c.QuoteSources) == 0 {
		return fmt.Errorf("QUOTE_SOURCES must name at least one source")
	}
	if c.BackupBucket != "" && (c.BackupAccessKeyID == "" || c.BackupSecretKey == "") {
		return fmt.Errorf("BACKUP_S3_ACCESS_KEY_ID and BACKUP_S3_SECRET_ACCESS_KEY are required when BACKUP_S3_BUCKET is set")
	}

	return nil
}

// LedgerDBPath returns the path of the ledger database file
func (c *Config) LedgerDBPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// CacheDBPath returns the path of the quote/run cache database file
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// BackupEnabled reports whether cloud backups are configured
func (c *Config) BackupEnabled() bool {
	return c.BackupBucket != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, trimming blanks. The
// STOP_LOSS_SCHEDULE variable uses ";" since cron specs contain commas.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	sep := ","
	if strings.Contains(value, ";") {
		sep = ";"
	}

	var items []string
	for _, part := range strings.Split(value, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
