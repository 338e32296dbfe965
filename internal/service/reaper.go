package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/core"
	domainjob "github.com/target/mmk-jobqueue/internal/domain/job"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	obserrors "github.com/target/mmk-jobqueue/internal/observability/errors"
	"github.com/target/mmk-jobqueue/internal/observability/metrics"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo          core.ReaperRepository // Required: reaper repository
	Config        config.ReaperConfig   // Required: reaper configuration
	LeaseDuration time.Duration         // Required: leases older than this are reclaimed
	Now           func() time.Time      // Optional: clock, defaults to time.Now
	Logger        *slog.Logger          // Optional: structured logger
	Metrics       statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService reconciles stale leases and prunes finished jobs.
//
// This service manages:
// - Returning RUNNING jobs whose lease expired to PENDING without spending retry budget.
// - Deleting old completed jobs to prevent database bloat.
// - Deleting old dead-lettered jobs to prevent database bloat.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	policy  *domainjob.LeasePolicy
	now     func() time.Time
	logger  *slog.Logger
	metrics statsd.Sink
}

// CleanupReport summarizes one sweep.
type CleanupReport struct {
	Requeued         int64
	DeletedCompleted int64
	DeletedDLQ       int64
	Elapsed          time.Duration
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	policy, err := domainjob.NewLeasePolicy(opts.LeaseDuration)
	if err != nil {
		return nil, fmt.Errorf("create lease policy: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"lease_duration", opts.LeaseDuration,
			"completed_max_age", opts.Config.CompletedMaxAge,
			"dlq_max_age", opts.Config.DLQMaxAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		policy:  policy,
		now:     now,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.RunCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.RunCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

// RunCleanup performs one sweep: lease reconciliation first, then retention deletes.
// Every step runs even when an earlier one fails; failures are joined.
func (s *ReaperService) RunCleanup(ctx context.Context) (CleanupReport, error) {
	start := time.Now()
	var (
		report             CleanupReport
		errs               []error
		allContextCanceled = true
		m                  cleanupMetrics
	)

	steps := []cleanupStep{
		{fn: s.requeueExpiredLeases, label: "requeue expired leases", count: &m.RequeuedCount, metricErr: &m.RequeuedErr},
		{fn: s.deleteOldCompletedJobs, label: "delete old completed jobs", count: &m.CompletedCount, metricErr: &m.CompletedErr},
		{fn: s.deleteOldDLQJobs, label: "delete old dead-lettered jobs", count: &m.DLQCount, metricErr: &m.DLQErr},
	}

	for _, step := range steps {
		outcome := s.executeCleanupStep(ctx, step.fn, step.label)
		*step.count = outcome.count
		*step.metricErr = outcome.metricErr
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	m.Elapsed = time.Since(start)
	s.emitCleanupMetrics(m)

	report = CleanupReport{
		Requeued:         m.RequeuedCount,
		DeletedCompleted: m.CompletedCount,
		DeletedDLQ:       m.DLQCount,
		Elapsed:          m.Elapsed,
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return report, context.Canceled
		}
		return report, fmt.Errorf("cleanup failed: %w", joined)
	}
	return report, nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	count     *int64
	metricErr *error
}

type cleanupStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) executeCleanupStep(ctx context.Context, fn cleanupFunc, label string) cleanupStepOutcome {
	count, err := fn(ctx)
	outcome := cleanupStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", label, err)
	}
	return outcome
}

// requeueExpiredLeases returns RUNNING jobs leased before now-leaseDuration to PENDING.
// Loops until no more rows are affected to handle large datasets in batches.
func (s *ReaperService) requeueExpiredLeases(ctx context.Context) (int64, error) {
	expiry := s.policy.Expiry(s.now().UTC())
	total, err := s.drain(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.RequeueExpiredLeases(ctx, expiry, s.config.BatchSize)
	})
	if total > 0 {
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: string(domainjob.TransitionReclaim),
			Status:     string(model.JobStatusPending),
			Result:     metrics.ResultSuccess,
		})
		if s.logger != nil {
			s.logger.InfoContext(ctx, "requeued expired leases",
				"count", total,
				"lease_duration", s.policy.Duration(),
			)
		}
	}
	return total, err
}

// deleteOldCompletedJobs deletes completed jobs older than the configured max age.
func (s *ReaperService) deleteOldCompletedJobs(ctx context.Context) (int64, error) {
	return s.deleteOld(ctx, model.JobStatusCompleted, s.config.CompletedMaxAge)
}

// deleteOldDLQJobs deletes dead-lettered jobs older than the configured max age.
func (s *ReaperService) deleteOldDLQJobs(ctx context.Context) (int64, error) {
	return s.deleteOld(ctx, model.JobStatusDLQ, s.config.DLQMaxAge)
}

func (s *ReaperService) deleteOld(ctx context.Context, status model.JobStatus, maxAge time.Duration) (int64, error) {
	total, err := s.drain(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status:    status,
			MaxAge:    maxAge,
			BatchSize: s.config.BatchSize,
		})
	})
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "deleted old jobs",
			"status", status,
			"count", total,
			"max_age", maxAge,
		)
	}
	return total, err
}

// drain repeats batch until it affects no rows, checking ctx between batches.
func (s *ReaperService) drain(ctx context.Context, batch func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		count, err := batch(ctx)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

type cleanupMetrics struct {
	RequeuedCount  int64
	RequeuedErr    error
	CompletedCount int64
	CompletedErr   error
	DLQCount       int64
	DLQErr         error
	Elapsed        time.Duration
}

func (s *ReaperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	totalCount := m.RequeuedCount + m.CompletedCount + m.DLQCount
	firstErr := firstError(m.RequeuedErr, m.CompletedErr, m.DLQErr)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	if m.Elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", m.Elapsed, metrics.CloneTags(tags))
	}

	s.emitCleanupOperationMetric("requeue_expired", m.RequeuedCount, m.RequeuedErr)
	s.emitCleanupOperationMetric("delete_completed", m.CompletedCount, m.CompletedErr)
	s.emitCleanupOperationMetric("delete_dlq", m.DLQCount, m.DLQErr)

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("reaper.jobs_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
