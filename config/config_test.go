package config

import (
	"log/slog"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - http",
			input:    "http",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:     "single service - scheduler",
			input:    "scheduler",
			expected: map[ServiceMode]bool{ServiceModeScheduler: true},
		},
		{
			name:  "all services",
			input: "http,scheduler,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:      true,
				ServiceModeScheduler: true,
				ServiceModeReaper:    true,
			},
		},
		{
			name:  "services with spaces",
			input: " http , scheduler ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:      true,
				ServiceModeScheduler: true,
			},
		},
		{
			name:  "duplicate services",
			input: "http,http,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeReaper: true,
			},
		},
		{name: "empty string", input: "", expectError: true},
		{name: "only commas", input: ",,", expectError: true},
		{name: "unknown service", input: "http,rules-engine", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d services, got %d", len(tt.expected), len(result))
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name              string
		services          string
		expectedHTTP      bool
		expectedScheduler bool
		expectedReaper    bool
	}{
		{name: "default", services: "http,scheduler", expectedHTTP: true, expectedScheduler: true},
		{name: "reaper only", services: "reaper", expectedReaper: true},
		{name: "invalid configuration", services: "invalid-service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsHTTPServerEnabled() != tt.expectedHTTP {
				t.Errorf("IsHTTPServerEnabled(): expected %v", tt.expectedHTTP)
			}
			if cfg.IsSchedulerEnabled() != tt.expectedScheduler {
				t.Errorf("IsSchedulerEnabled(): expected %v", tt.expectedScheduler)
			}
			if cfg.IsReaperEnabled() != tt.expectedReaper {
				t.Errorf("IsReaperEnabled(): expected %v", tt.expectedReaper)
			}
		})
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{ServiceModeHTTP, ServiceModeScheduler, ServiceModeReaper}

	if len(modes) != len(expected) {
		t.Fatalf("expected %d service modes, got %d", len(expected), len(modes))
	}
	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

func TestAppConfig_Defaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Worker.PollInterval() != time.Second {
		t.Errorf("poll interval = %v, want 1s", cfg.Worker.PollInterval())
	}
	if cfg.Worker.LeaseDuration() != 30*time.Second {
		t.Errorf("lease duration = %v, want 30s", cfg.Worker.LeaseDuration())
	}
	if cfg.Worker.MaxRetries != 3 || cfg.Worker.CandidateLimit != 50 {
		t.Errorf("unexpected worker defaults %+v", cfg.Worker)
	}
	if cfg.RateLimit.MaxConcurrentJobsPerTenant != 5 || cfg.RateLimit.MaxJobsPerMinutePerTenant != 10 {
		t.Errorf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.WindowSize() != time.Minute {
		t.Errorf("window size = %v, want 1m", cfg.RateLimit.WindowSize())
	}
	if cfg.Store.Driver != StoreDriverPostgres {
		t.Errorf("store driver = %q", cfg.Store.Driver)
	}
	if cfg.DefaultTenant != "default-tenant" {
		t.Errorf("default tenant = %q", cfg.DefaultTenant)
	}
	if cfg.IdempotencyCacheTTL != 24*time.Hour {
		t.Errorf("idempotency TTL = %v", cfg.IdempotencyCacheTTL)
	}
	if cfg.Reaper.Interval != time.Minute || cfg.Reaper.BatchSize != 500 {
		t.Errorf("unexpected reaper defaults %+v", cfg.Reaper)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("log level = %v", cfg.SlogLevel())
	}
}

func TestAppConfig_ParseEnv(t *testing.T) {
	t.Setenv("WORKER_POLL_INTERVAL_MS", "250")
	t.Setenv("WORKER_LEASE_DURATION_SECONDS", "5")
	t.Setenv("WORKER_MAX_RETRIES", "0")
	t.Setenv("RATE_LIMIT_MAX_CONCURRENT_JOBS_PER_TENANT", "1")
	t.Setenv("RATE_LIMIT_MAX_JOBS_PER_MINUTE_PER_TENANT", "2")
	t.Setenv("RATE_LIMIT_WINDOW_SIZE_SECONDS", "3")
	t.Setenv("STORE_DRIVER", " SQLite ")
	t.Setenv("SQLITE_PATH", "/tmp/q.db")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Worker.PollInterval() != 250*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.Worker.PollInterval())
	}
	if cfg.Worker.LeaseDuration() != 5*time.Second || cfg.Worker.MaxRetries != 0 {
		t.Errorf("unexpected worker config %+v", cfg.Worker)
	}
	if cfg.RateLimit.MaxConcurrentJobsPerTenant != 1 ||
		cfg.RateLimit.MaxJobsPerMinutePerTenant != 2 ||
		cfg.RateLimit.WindowSizeSeconds != 3 {
		t.Errorf("unexpected rate limit config %+v", cfg.RateLimit)
	}
	if cfg.Store.Driver != StoreDriverSQLite || cfg.Store.SQLitePath != "/tmp/q.db" {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if !cfg.Redis.Enabled {
		t.Error("expected redis enabled")
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.SlogLevel())
	}
}

func TestWorkerConfig_Sanitize(t *testing.T) {
	cfg := WorkerConfig{PollIntervalMS: 0, LeaseDurationSeconds: -1, MaxRetries: -2, CandidateLimit: 5000}
	cfg.Sanitize()

	if cfg.PollIntervalMS != 10 || cfg.LeaseDurationSeconds != 1 || cfg.MaxRetries != 0 || cfg.CandidateLimit != 1000 {
		t.Fatalf("unexpected sanitized worker config %+v", cfg)
	}
}

func TestRateLimitConfig_Sanitize(t *testing.T) {
	cfg := RateLimitConfig{}
	cfg.Sanitize()

	if cfg.MaxConcurrentJobsPerTenant != 1 || cfg.MaxJobsPerMinutePerTenant != 1 || cfg.WindowSizeSeconds != 1 {
		t.Fatalf("unexpected sanitized rate limit config %+v", cfg)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{Interval: time.Second, BatchSize: 0}
	cfg.Sanitize()

	if cfg.Interval != 10*time.Second {
		t.Errorf("interval = %v", cfg.Interval)
	}
	if cfg.CompletedMaxAge != time.Hour || cfg.DLQMaxAge != time.Hour {
		t.Errorf("max ages = %v / %v", cfg.CompletedMaxAge, cfg.DLQMaxAge)
	}
	if cfg.BatchSize != 1 {
		t.Errorf("batch size = %d", cfg.BatchSize)
	}

	cfg.BatchSize = 20000
	cfg.Sanitize()
	if cfg.BatchSize != 10000 {
		t.Errorf("batch size = %d, want 10000", cfg.BatchSize)
	}
}

func TestStoreConfig_Sanitize(t *testing.T) {
	cfg := StoreConfig{Driver: "  ", SQLitePath: " "}
	cfg.Sanitize()

	if cfg.Driver != StoreDriverPostgres || cfg.SQLitePath != "jobqueue.db" {
		t.Fatalf("unexpected sanitized store config %+v", cfg)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
	if cfg.Prefix != "jobqueue" {
		t.Fatalf("expected default prefix, got %q", cfg.Prefix)
	}
}
