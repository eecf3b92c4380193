package app

import (
	"time"

	"fitlink/cmd/internal/env"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: env.String("FITLINK_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: env.String("FITLINK_LOG_LEVEL", "info"),

		ReadHeaderTimeout: env.Duration("FITLINK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       env.Duration("FITLINK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      env.Duration("FITLINK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       env.Duration("FITLINK_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: env.Int("FITLINK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: env.String("FITLINK_DATABASE_URL", ""),
		DBMaxConns:  env.Int32("FITLINK_DB_MAX_CONNS", 10),
		DBMinConns:  env.Int32("FITLINK_DB_MIN_CONNS", 0),

		ReadinessRequireDB: env.Bool("FITLINK_READINESS_REQUIRE_DB", false),
	}
}
