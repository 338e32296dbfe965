// Package service provides the business logic of the job queue: submission, admission,
// leasing and execution, and lease reconciliation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/mmk-jobqueue/internal/core"
	domainjob "github.com/target/mmk-jobqueue/internal/domain/job"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/observability/metrics"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
)

// Acknowledger applies an execution outcome to a RUNNING job. JobService implements it.
type Acknowledger interface {
	Acknowledge(ctx context.Context, id string, result model.ExecutionResult) (*model.Job, error)
}

var _ Acknowledger = (*JobService)(nil)

// LeaseSchedulerOptions groups dependencies for LeaseScheduler.
type LeaseSchedulerOptions struct {
	Store          core.JobStore    // Required: candidate queries and the atomic lease
	Acknowledger   Acknowledger     // Required: lifecycle sink for execution outcomes
	Executor       core.Executor    // Required: runs leased jobs
	LeaseDuration  time.Duration    // Required: lease staleness threshold
	CandidateLimit int              // Optional: candidates inspected per iteration
	Now            func() time.Time // Optional: clock, defaults to time.Now
	Logger         *slog.Logger     // Optional: structured logger
	Metrics        statsd.Sink      // Optional: metrics sink
}

// LeaseScheduler performs one lease-execute-acknowledge iteration per RunOnce call.
// It does not loop by itself; adapters/scheduler.Runner drives it at a fixed delay.
type LeaseScheduler struct {
	store          core.JobStore
	ack            Acknowledger
	executor       core.Executor
	policy         *domainjob.LeasePolicy
	candidateLimit int
	now            func() time.Time
	logger         *slog.Logger
	metrics        statsd.Sink
}

// IterationResult describes what one RunOnce call did.
type IterationResult struct {
	// Candidates is how many leasable jobs the store offered.
	Candidates int
	// LostRaces counts candidates another instance leased first.
	LostRaces int
	// Job is the acknowledged job as persisted, nil when nothing was leased.
	Job *model.Job
}

// Worked reports whether the iteration leased and acknowledged a job.
func (r IterationResult) Worked() bool {
	return r.Job != nil
}

// NewLeaseScheduler constructs a new LeaseScheduler.
func NewLeaseScheduler(opts LeaseSchedulerOptions) (*LeaseScheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Acknowledger == nil {
		return nil, errors.New("Acknowledger is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("Executor is required")
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
		logger = opts.Logger.With("component", "lease_scheduler")
		logger.Debug("LeaseScheduler initialized",
			"lease_duration", opts.LeaseDuration,
			"candidate_limit", opts.CandidateLimit,
		)
	}

	return &LeaseScheduler{
		store:          opts.Store,
		ack:            opts.Acknowledger,
		executor:       opts.Executor,
		policy:         policy,
		candidateLimit: opts.CandidateLimit,
		now:            now,
		logger:         logger,
		metrics:        opts.Metrics,
	}, nil
}

// MustNewLeaseScheduler constructs a new LeaseScheduler and panics on error.
func MustNewLeaseScheduler(opts LeaseSchedulerOptions) *LeaseScheduler {
	s, err := NewLeaseScheduler(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create LeaseScheduler: %v", err))
	}
	return s
}

// RunOnce leases the oldest available job, executes it and acknowledges the outcome.
//
// Candidates are walked in FIFO order; a lost lease race moves on to the next candidate.
// At most one job is executed per call. Executor panics become failed executions.
func (s *LeaseScheduler) RunOnce(ctx context.Context) (IterationResult, error) {
	var res IterationResult

	now := s.now().UTC()
	candidates, err := s.store.FindLeasableCandidates(ctx, core.CandidateQuery{
		Status: model.JobStatusPending,
		Expiry: s.policy.Expiry(now),
		Limit:  s.candidateLimit,
	})
	if err != nil {
		return res, fmt.Errorf("find leasable candidates: %w", err)
	}
	res.Candidates = len(candidates)

	leased, lost, err := s.leaseFirst(ctx, candidates, now)
	res.LostRaces = lost
	if err != nil {
		return res, err
	}
	if leased == nil {
		return res, nil
	}

	result := s.execute(ctx, leased)

	updated, err := s.ack.Acknowledge(ctx, leased.ID, result)
	if err != nil {
		return res, fmt.Errorf("acknowledge job %s: %w", leased.ID, err)
	}
	res.Job = updated
	return res, nil
}

// leaseFirst returns the first candidate this instance leased, re-read from the store.
func (s *LeaseScheduler) leaseFirst(ctx context.Context, candidates []*model.Job, now time.Time) (*model.Job, int, error) {
	lost := 0
	for _, c := range candidates {
		ok, err := s.store.TryLease(ctx, model.LeaseRequest{
			ID:       c.ID,
			Expected: model.JobStatusPending,
			New:      model.JobStatusRunning,
			At:       now,
		})
		if err != nil {
			metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
				Transition: string(domainjob.TransitionLease),
				Result:     metrics.ResultError,
				Err:        err,
			})
			return nil, lost, fmt.Errorf("lease job %s: %w", c.ID, err)
		}
		if !ok {
			lost++
			continue
		}

		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: string(domainjob.TransitionLease),
			Status:     string(model.JobStatusRunning),
			Result:     metrics.ResultSuccess,
		})

		job, err := s.store.GetByID(ctx, c.ID)
		if err != nil {
			return nil, lost, fmt.Errorf("read leased job %s: %w", c.ID, err)
		}
		if s.logger != nil {
			s.logger.InfoContext(ctx, "job leased",
				"id", job.ID,
				"tenant_id", job.TenantID,
				"retry_count", job.RetryCount,
				"lost_races", lost,
			)
		}
		return job, lost, nil
	}
	return nil, lost, nil
}

func (s *LeaseScheduler) execute(ctx context.Context, job *model.Job) (result model.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "executor panicked", "id", job.ID, "panic", r)
			}
			result = model.ExecutionResult{Success: false, ErrorMessage: fmt.Sprintf("executor panic: %v", r)}
		}
	}()
	return s.executor.Execute(ctx, job)
}
