// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime knobs of the reservation backend.
type Config struct {
	HTTPAddr  string
	DataDir   string
	StaticDir string
	JWTSecret string

	// MaxDuration bounds a single reservation.
	MaxDuration time.Duration
	// StartTolerance is how far in the past a start_time may lie.
	StartTolerance time.Duration
	// SweepInterval is the cadence of the timeout sweeper.
	SweepInterval time.Duration
	// AuditRetention is how long audit entries are kept before purge.
	AuditRetention time.Duration
}

// Load reads .env (if present) and the environment, applying defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:       getString("HTTP_ADDR", ":8099"),
		DataDir:        getString("DATA_DIR", "/data"),
		StaticDir:      getString("STATIC_DIR", "./static"),
		JWTSecret:      getString("JWT_SECRET", "iot-resource-manager-dev-secret"),
		MaxDuration:    time.Duration(getInt("RESERVATION_MAX_DURATION_MINUTES", 480)) * time.Minute,
		StartTolerance: time.Duration(getInt("START_TIME_TOLERANCE_MINUTES", 1)) * time.Minute,
		SweepInterval:  time.Duration(getInt("RESERVATION_CHECK_INTERVAL_SECONDS", 30)) * time.Second,
		AuditRetention: time.Duration(getInt("AUDIT_LOG_RETENTION_DAYS", 180)) * 24 * time.Hour,
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
