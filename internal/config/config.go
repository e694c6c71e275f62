// Package config loads and validates engine configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	// Persistence settings.
	DatabasePath string // SQLite file path; empty selects in-memory only.

	// Store settings.
	HistoryLimit int  // Version snapshots kept per template.
	Versioning   bool // Whether updates write version history.

	// Telemetry settings.
	ExecutionBufferSize int
	AnomalyThreshold    float64

	// Rollup timer intervals.
	HourlyRollup  time.Duration
	DailyRollup   time.Duration
	WeeklyRollup  time.Duration
	MonthlyRollup time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() (Config, error) {
	cfg := Config{
		DatabasePath:        envStr("QUILL_DB_PATH", "quill.db"),
		HistoryLimit:        envInt("QUILL_HISTORY_LIMIT", 50),
		Versioning:          envBool("QUILL_VERSIONING", true),
		ExecutionBufferSize: envInt("QUILL_EXECUTION_BUFFER_SIZE", 1000),
		AnomalyThreshold:    envFloat("QUILL_ANOMALY_THRESHOLD", 3.0),
		HourlyRollup:        envDuration("QUILL_HOURLY_ROLLUP", time.Hour),
		DailyRollup:         envDuration("QUILL_DAILY_ROLLUP", 24*time.Hour),
		WeeklyRollup:        envDuration("QUILL_WEEKLY_ROLLUP", 7*24*time.Hour),
		MonthlyRollup:       envDuration("QUILL_MONTHLY_ROLLUP", 30*24*time.Hour),
		OTELEndpoint:        envStr("QUILL_OTEL_ENDPOINT", ""),
		OTELInsecure:        envBool("QUILL_OTEL_INSECURE", false),
		ServiceName:         envStr("QUILL_SERVICE_NAME", "quill"),
		LogLevel:            envStr("QUILL_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configured values are usable.
func (c Config) Validate() error {
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("config: QUILL_HISTORY_LIMIT must be positive")
	}
	if c.ExecutionBufferSize <= 0 {
		return fmt.Errorf("config: QUILL_EXECUTION_BUFFER_SIZE must be positive")
	}
	if c.AnomalyThreshold <= 0 {
		return fmt.Errorf("config: QUILL_ANOMALY_THRESHOLD must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
