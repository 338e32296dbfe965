package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/adapters/reaper"
	"github.com/target/mmk-jobqueue/internal/adapters/scheduler"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/data"
	httpx "github.com/target/mmk-jobqueue/internal/http"
	"github.com/target/mmk-jobqueue/internal/observability/prom"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
	"github.com/target/mmk-jobqueue/internal/service"
)

// ServiceDeps contains the infrastructure services are built on.
type ServiceDeps struct {
	Config *config.AppConfig // Required
	Store  *Store            // Required
	// RedisClient backs the idempotency cache. Optional; nil disables the cache.
	RedisClient redis.UniversalClient
	// Executor runs leased jobs. Optional; defaults to a LogExecutor.
	Executor core.Executor
	// Metrics overrides the StatsD sink built from Config.Observability.
	Metrics statsd.Sink
	Logger  *slog.Logger
}

// ServiceContainer holds the wired job queue services.
type ServiceContainer struct {
	Jobs        *service.JobService
	Admission   *service.AdmissionController
	Idempotency *service.IdempotencyIndex
	Scheduler   *scheduler.Runner
	Reaper      *reaper.Runner
	Registry    *prometheus.Registry
	Metrics     statsd.Sink
	ReadyChecks map[string]httpx.ReadyCheck
}

// BuildMetricsSink returns a StatsD client for cfg. A disabled or unreachable sink yields
// a client that drops every metric, so callers never need a nil check.
func BuildMetricsSink(logger *slog.Logger, cfg config.ObservabilityConfig) *statsd.Client {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Metrics.IsEnabled(),
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  cfg.Metrics.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		client, _ = statsd.NewClient(statsd.Config{Prefix: cfg.Metrics.Prefix, Logger: logger})
	}
	return client
}

// NewServices wires the admission controller, idempotency index, job service,
// lease scheduler runner and reaper runner over deps.Store.
func NewServices(deps ServiceDeps) (*ServiceContainer, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.Store == nil || deps.Store.Backend == nil {
		return nil, errors.New("store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	store := deps.Store.Backend

	metrics := deps.Metrics
	if metrics == nil {
		metrics = BuildMetricsSink(logger, cfg.Observability)
	}

	admission, err := service.NewAdmissionController(service.AdmissionControllerOptions{
		Store:                      store,
		MaxConcurrentJobsPerTenant: cfg.RateLimit.MaxConcurrentJobsPerTenant,
		MaxJobsPerWindow:           cfg.RateLimit.MaxJobsPerMinutePerTenant,
		WindowSize:                 cfg.RateLimit.WindowSize(),
		Logger:                     logger,
		Metrics:                    metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire admission controller: %w", err)
	}

	idemOpts := service.IdempotencyIndexOptions{
		Store:  store,
		TTL:    cfg.IdempotencyCacheTTL,
		Logger: logger,
	}
	var cache *data.RedisCacheRepo
	if deps.RedisClient != nil {
		cache = data.NewRedisCacheRepo(deps.RedisClient, cfg.Redis.KeyPrefix)
		idemOpts.Cache = cache
	}
	idempotency, err := service.NewIdempotencyIndex(idemOpts)
	if err != nil {
		return nil, fmt.Errorf("wire idempotency index: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Store:         store,
		Admission:     admission,
		Idempotency:   idempotency,
		MaxRetries:    cfg.Worker.MaxRetries,
		DefaultTenant: cfg.DefaultTenant,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire job service: %w", err)
	}

	executor := deps.Executor
	if executor == nil {
		executor = service.NewLogExecutor(logger)
	}
	leaseScheduler, err := service.NewLeaseScheduler(service.LeaseSchedulerOptions{
		Store:          store,
		Acknowledger:   jobs,
		Executor:       executor,
		LeaseDuration:  cfg.Worker.LeaseDuration(),
		CandidateLimit: cfg.Worker.CandidateLimit,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire lease scheduler: %w", err)
	}
	schedulerRunner, err := scheduler.NewRunner(scheduler.RunnerOptions{
		Scheduler: leaseScheduler,
		Delay:     cfg.Worker.PollInterval(),
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire scheduler runner: %w", err)
	}

	reaperRunner, err := reaper.NewRunner(reaper.RunnerOptions{
		Repo:          store,
		Config:        cfg.Reaper,
		LeaseDuration: cfg.Worker.LeaseDuration(),
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper runner: %w", err)
	}

	return &ServiceContainer{
		Jobs:        jobs,
		Admission:   admission,
		Idempotency: idempotency,
		Scheduler:   schedulerRunner,
		Reaper:      reaperRunner,
		Registry: prom.NewRegistry(prom.RegistryOptions{
			Counter:           store,
			RuntimeCollectors: true,
			Logger:            logger,
		}),
		Metrics:     metrics,
		ReadyChecks: buildReadyChecks(deps.Store, cache),
	}, nil
}

func buildReadyChecks(store *Store, cache *data.RedisCacheRepo) map[string]httpx.ReadyCheck {
	checks := map[string]httpx.ReadyCheck{
		"store": store.Ping,
	}
	if cache != nil {
		checks["redis"] = cache.Health
	}
	return checks
}
