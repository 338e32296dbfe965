package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeScheduler runs the lease scheduler that executes jobs.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeReaper runs lease reconciliation and cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeScheduler,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeScheduler, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, scheduler, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains lease scheduler configuration.
type WorkerConfig struct {
	// PollIntervalMS is the fixed delay between the end of one iteration and the start of the next.
	PollIntervalMS int `env:"POLL_INTERVAL_MS" envDefault:"1000"`

	// LeaseDurationSeconds is how long a lease is considered live.
	LeaseDurationSeconds int `env:"LEASE_DURATION_SECONDS" envDefault:"30"`

	// MaxRetries is the retry budget stamped on each job at submission time.
	MaxRetries int `env:"MAX_RETRIES" envDefault:"3"`

	// CandidateLimit bounds how many leasable candidates one iteration inspects.
	CandidateLimit int `env:"CANDIDATE_LIMIT" envDefault:"50"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.PollIntervalMS < 10 {
		w.PollIntervalMS = 10
	}
	if w.LeaseDurationSeconds < 1 {
		w.LeaseDurationSeconds = 1
	}
	if w.MaxRetries < 0 {
		w.MaxRetries = 0
	}
	if w.CandidateLimit < 1 {
		w.CandidateLimit = 1
	}
	if w.CandidateLimit > 1000 {
		w.CandidateLimit = 1000
	}
}

// PollInterval returns PollIntervalMS as a duration.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// LeaseDuration returns LeaseDurationSeconds as a duration.
func (w WorkerConfig) LeaseDuration() time.Duration {
	return time.Duration(w.LeaseDurationSeconds) * time.Second
}

// RateLimitConfig contains per-tenant admission limits.
type RateLimitConfig struct {
	// MaxConcurrentJobsPerTenant caps the tenant's RUNNING jobs at submission time.
	MaxConcurrentJobsPerTenant int `env:"MAX_CONCURRENT_JOBS_PER_TENANT" envDefault:"5"`

	// MaxJobsPerMinutePerTenant caps accepted submissions inside one sliding window.
	MaxJobsPerMinutePerTenant int `env:"MAX_JOBS_PER_MINUTE_PER_TENANT" envDefault:"10"`

	// WindowSizeSeconds is the sliding window length.
	WindowSizeSeconds int `env:"WINDOW_SIZE_SECONDS" envDefault:"60"`
}

// Sanitize applies guardrails to rate limit configuration values.
func (r *RateLimitConfig) Sanitize() {
	if r.MaxConcurrentJobsPerTenant < 1 {
		r.MaxConcurrentJobsPerTenant = 1
	}
	if r.MaxJobsPerMinutePerTenant < 1 {
		r.MaxJobsPerMinutePerTenant = 1
	}
	if r.WindowSizeSeconds < 1 {
		r.WindowSizeSeconds = 1
	}
}

// WindowSize returns WindowSizeSeconds as a duration.
func (r RateLimitConfig) WindowSize() time.Duration {
	return time.Duration(r.WindowSizeSeconds) * time.Second
}

// ReaperConfig contains lease reconciliation and cleanup configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// DLQMaxAge is the maximum age for dead-lettered jobs before deletion.
	DLQMaxAge time.Duration `env:"REAPER_DLQ_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.DLQMaxAge < 1*time.Hour {
		r.DLQMaxAge = 1 * time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
