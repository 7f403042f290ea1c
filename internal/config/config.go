// Package config loads service configuration from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port        string
	DatabaseURL string // empty: in-memory store
	RedisURL    string // empty: no cache, no relay
	CacheTTL    time.Duration
	LogLevel    string

	VarAlpha    float64
	VarLookback int
	EWMALambda  float64

	VarAlertThreshold     float64
	ConcentrationAlertPct float64
	HHIAlert              float64
	GroupAlertPct         float64

	ValuationSchedule string
	SnapshotSchedule  string
	PriceSchedule     string
	Accounts          []string // empty: every account with positions
	UseMockPrices     bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		CacheTTL:    getEnvAsDuration("CACHE_TTL", 30*time.Second),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		VarAlpha:    getEnvAsFloat("DEFAULT_VAR_ALPHA", 0.99),
		VarLookback: getEnvAsInt("DEFAULT_VAR_LOOKBACK", 250),
		EWMALambda:  getEnvAsFloat("EWMA_LAMBDA", 0.94),

		VarAlertThreshold:     getEnvAsFloat("VAR_ALERT_THRESHOLD", 1_000_000),
		ConcentrationAlertPct: getEnvAsFloat("CONCENTRATION_ALERT_PCT", 25),
		HHIAlert:              getEnvAsFloat("HHI_ALERT", 0.25),
		GroupAlertPct:         getEnvAsFloat("GROUP_ALERT_PCT", 0),

		ValuationSchedule: getEnv("VALUATION_SCHEDULE", "0 0 23 * * *"),
		SnapshotSchedule:  getEnv("SNAPSHOT_SCHEDULE", "0 30 23 * * *"),
		PriceSchedule:     getEnv("PRICE_SCHEDULE", "@every 1m"),
		Accounts:          getEnvAsList("ACCOUNTS"),
		UseMockPrices:     getEnvAsBool("USE_MOCK_PRICES", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if !(c.VarAlpha > 0 && c.VarAlpha < 1) {
		return fmt.Errorf("DEFAULT_VAR_ALPHA must be in (0,1), got %v", c.VarAlpha)
	}
	if c.VarLookback <= 0 {
		return fmt.Errorf("DEFAULT_VAR_LOOKBACK must be positive, got %d", c.VarLookback)
	}
	if !(c.EWMALambda > 0 && c.EWMALambda < 1) {
		return fmt.Errorf("EWMA_LAMBDA must be in (0,1), got %v", c.EWMALambda)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

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
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
