// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Supported storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"3000"`

	// Storage. DatabaseURL is a PostgreSQL DSN for the postgres driver
	// and a file path for the sqlite driver.
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`

	// Cache (Redis). Optional; caching, throttling and usage events
	// are disabled when empty.
	RedisURL string `env:"REDIS_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`

	// Trust X-Forwarded-For / X-Real-IP for client addresses. Enable only
	// behind a reverse proxy that sets them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Per-IP throttle on the token endpoints (validate-token, consume-request)
	RateLimitTokenEnabled bool `env:"RATE_LIMIT_TOKEN_ENABLED" envDefault:"true"`
	RateLimitTokenRPS     int  `env:"RATE_LIMIT_TOKEN_RPS" envDefault:"50"`
	RateLimitTokenBurst   int  `env:"RATE_LIMIT_TOKEN_BURST" envDefault:"100"`

	// Publish a usage event to Redis for every consumed request.
	UsageEventsEnabled bool `env:"USAGE_EVENTS_ENABLED" envDefault:"true"`

	// Run the in-process worker that rolls usage events up into monthly
	// per-user counters. Needs Redis.
	UsageRollupEnabled bool `env:"USAGE_ROLLUP_ENABLED" envDefault:"true"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://admin.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Directory holding the admin page; served at / when set.
	StaticDir string `env:"STATIC_DIR" envDefault:""`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing or the driver is unknown.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	switch cfg.DatabaseDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the %s driver", DriverPostgres)
		}
	case DriverSQLite:
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = "database.db"
		}
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q (use %s or %s)", cfg.DatabaseDriver, DriverPostgres, DriverSQLite)
	}

	return cfg, nil
}
