package config

import (
	"log/slog"
	"strings"
	"time"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: store driver, database and cache configuration
//   - http.go: HTTP server configuration
//   - services.go: service mode, worker, rate limit and reaper configuration
type AppConfig struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DefaultTenant is applied to submissions that carry no tenant.
	DefaultTenant string `env:"DEFAULT_TENANT" envDefault:"default-tenant"`

	// IdempotencyCacheTTL bounds how long a cached idempotency key to job id mapping lives.
	IdempotencyCacheTTL time.Duration `env:"IDEMPOTENCY_CACHE_TTL" envDefault:"24h"`

	// Store selects the JobStore implementation.
	Store StoreConfig

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http,scheduler"`

	// Worker configuration (lease scheduler)
	Worker WorkerConfig `envPrefix:"WORKER_"`

	// Per-tenant admission configuration
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`

	// Reaper configuration
	Reaper ReaperConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Store.Sanitize()
	c.Redis.Sanitize()
	c.HTTP.Sanitize()
	c.Worker.Sanitize()
	c.RateLimit.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()

	c.DefaultTenant = strings.TrimSpace(c.DefaultTenant)
	if c.DefaultTenant == "" {
		c.DefaultTenant = "default-tenant"
	}
	if c.IdempotencyCacheTTL < time.Minute {
		c.IdempotencyCacheTTL = time.Minute
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = "info"
	}
}

// SlogLevel maps LogLevel onto a slog.Level.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	return c.serviceEnabled(ServiceModeHTTP)
}

// IsSchedulerEnabled returns true if the lease scheduler service is enabled.
func (c *AppConfig) IsSchedulerEnabled() bool {
	return c.serviceEnabled(ServiceModeScheduler)
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	return c.serviceEnabled(ServiceModeReaper)
}

func (c *AppConfig) serviceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
