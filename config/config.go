// Package config loads the core's runtime configuration from environment
// variables, following the same getEnv* helper family the rest of this
// codebase has always used.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DatabaseConfig struct {
	URL          string
	PoolSize     int
	PoolOverflow int
	Echo         bool
}

type EventConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	RetentionDays  int
	MaxPayloadSize int
}

type TradingConfig struct {
	DefaultTimeframe    string
	MaxConcurrentOrders int
	OrderTimeout        time.Duration
	RateLimitPerMinute  int
	BacktestInitialCash decimal.Decimal
}

type AlpacaConfig struct {
	LiveAPIKey     string
	LiveAPISecret  string
	LiveBaseURL    string
	PaperAPIKey    string
	PaperAPISecret string
	PaperBaseURL   string
}

type Config struct {
	Environment string // development | production | test
	Debug       bool

	Database DatabaseConfig
	Event    EventConfig
	Trading  TradingConfig
	Alpaca   AlpacaConfig
}

func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Debug:       getEnvBool("DEBUG", false),

		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", "data/weaver.db"),
			PoolSize:     getEnvInt("DATABASE_POOL_SIZE", 10),
			PoolOverflow: getEnvInt("DATABASE_POOL_OVERFLOW", 5),
			Echo:         getEnvBool("DATABASE_ECHO", false),
		},

		Event: EventConfig{
			BatchSize:      getEnvInt("EVENT_BATCH_SIZE", 100),
			PollInterval:   getEnvDuration("EVENT_POLL_INTERVAL_MS", 250*time.Millisecond),
			RetentionDays:  getEnvInt("EVENT_RETENTION_DAYS", 30),
			MaxPayloadSize: getEnvInt("EVENT_MAX_PAYLOAD_BYTES", 65536),
		},

		Trading: TradingConfig{
			DefaultTimeframe:    getEnv("TRADING_DEFAULT_TIMEFRAME", "1m"),
			MaxConcurrentOrders: getEnvInt("TRADING_MAX_CONCURRENT_ORDERS", 50),
			OrderTimeout:        getEnvDuration("TRADING_ORDER_TIMEOUT_SECONDS", 60*time.Second),
			RateLimitPerMinute:  getEnvInt("TRADING_RATE_LIMIT_PER_MINUTE", 120),
			BacktestInitialCash: getEnvDecimal("TRADING_BACKTEST_INITIAL_CASH", decimal.NewFromInt(100000)),
		},

		Alpaca: AlpacaConfig{
			LiveAPIKey:     os.Getenv("ALPACA_LIVE_API_KEY"),
			LiveAPISecret:  os.Getenv("ALPACA_LIVE_API_SECRET"),
			LiveBaseURL:    getEnv("ALPACA_LIVE_BASE_URL", "https://api.alpaca.markets"),
			PaperAPIKey:    os.Getenv("ALPACA_PAPER_API_KEY"),
			PaperAPISecret: os.Getenv("ALPACA_PAPER_API_SECRET"),
			PaperBaseURL:   getEnv("ALPACA_PAPER_BASE_URL", "https://paper-api.alpaca.markets"),
		},
	}

	switch cfg.Environment {
	case "development", "production", "test":
	default:
		return nil, fmt.Errorf("invalid ENVIRONMENT %q", cfg.Environment)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration always accepts a full Go duration string ("250ms",
// "60s"). A bare integer is read in the unit the key's suffix names:
// seconds for a _SECONDS key, milliseconds otherwise (e.g. _MS).
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		if strings.HasSuffix(key, "_SECONDS") {
			return time.Duration(n) * time.Second
		}
		return time.Duration(n) * time.Millisecond
	}
	return defaultValue
}
