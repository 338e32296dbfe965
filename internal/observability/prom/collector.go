// Package prom exposes job queue state as Prometheus metrics.
package prom

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/target/mmk-jobqueue/internal/domain/model"
)

const (
	namespace           = "jobqueue"
	defaultScrapeBudget = 2 * time.Second
)

// StatusCounter is the slice of JobStore the gauges read on every scrape.
type StatusCounter interface {
	CountByStatus(ctx context.Context, status model.JobStatus) (int, error)
}

// RegistryOptions configures NewRegistry.
type RegistryOptions struct {
	Counter StatusCounter // Required
	// ScrapeTimeout bounds each per-status count. Defaults to 2s.
	ScrapeTimeout time.Duration
	// RuntimeCollectors adds the Go runtime and process collectors.
	RuntimeCollectors bool
	Logger            *slog.Logger
}

// NewRegistry returns a registry with one jobqueue_jobs gauge per status.
// Gauges are computed at scrape time, so nothing is cached between scrapes.
// A failed count reports -1 and is logged.
func NewRegistry(opts RegistryOptions) *prometheus.Registry {
	timeout := opts.ScrapeTimeout
	if timeout <= 0 {
		timeout = defaultScrapeBudget
	}

	reg := prometheus.NewRegistry()
	for _, status := range model.AllJobStatuses() {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "jobs",
			Help:        "Number of jobs currently in each status.",
			ConstLabels: prometheus.Labels{"status": strings.ToLower(string(status))},
		}, countFunc(opts.Counter, status, timeout, opts.Logger)))
	}

	if opts.RuntimeCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:      reg,
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func countFunc(counter StatusCounter, status model.JobStatus, timeout time.Duration, logger *slog.Logger) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		n, err := counter.CountByStatus(ctx, status)
		if err != nil {
			if logger != nil {
				logger.Warn("prometheus job count failed", "status", status, "error", err)
			}
			return -1
		}
		return float64(n)
	}
}
