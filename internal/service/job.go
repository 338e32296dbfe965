package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/mmk-jobqueue/internal/core"
	domainjob "github.com/target/mmk-jobqueue/internal/domain/job"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	apperrors "github.com/target/mmk-jobqueue/internal/errors"
	"github.com/target/mmk-jobqueue/internal/observability/metrics"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Store         core.JobStore        // Required: job store
	Admission     *AdmissionController // Required: per-tenant admission
	Idempotency   *IdempotencyIndex    // Optional: defaults to a cache-less index over Store
	MaxRetries    int                  // Retry budget stamped on new jobs
	DefaultTenant string               // Optional: tenant for submissions without one
	Now           func() time.Time     // Optional: clock for transition timestamps
	Logger        *slog.Logger         // Optional: structured logger
	Metrics       statsd.Sink          // Optional: metrics sink
}

// JobService provides the job lifecycle operations.
//
// This service manages:
// - Submission through the idempotency index and admission controller.
// - Acknowledging execution outcomes as atomic store transitions.
// - Read access for single jobs, status listings and stats.
type JobService struct {
	store         core.JobStore
	admission     *AdmissionController
	idempotency   *IdempotencyIndex
	maxRetries    int
	defaultTenant string
	now           func() time.Time
	logger        *slog.Logger
	metrics       statsd.Sink
}

// SubmitResult is the outcome of a submission.
type SubmitResult struct {
	Job *model.Job
	// Existing is true when an earlier job with the same idempotency key was returned.
	Existing bool
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Admission == nil {
		return nil, errors.New("AdmissionController is required")
	}
	if opts.MaxRetries < 0 {
		return nil, errors.New("MaxRetries must not be negative")
	}

	idx := opts.Idempotency
	if idx == nil {
		var err error
		idx, err = NewIdempotencyIndex(IdempotencyIndexOptions{Store: opts.Store, Logger: opts.Logger})
		if err != nil {
			return nil, fmt.Errorf("create idempotency index: %w", err)
		}
	}

	tenant := strings.TrimSpace(opts.DefaultTenant)
	if tenant == "" {
		tenant = model.DefaultTenantID
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
		logger.Debug("JobService initialized", "max_retries", opts.MaxRetries, "default_tenant", tenant)
	}

	return &JobService{
		store:         opts.Store,
		admission:     opts.Admission,
		idempotency:   idx,
		maxRetries:    opts.MaxRetries,
		defaultTenant: tenant,
		now:           now,
		logger:        logger,
		metrics:       opts.Metrics,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Submit creates a PENDING job, or returns the job already holding the request's idempotency key.
// Duplicates are resolved before admission and consume no admission capacity.
func (s *JobService) Submit(ctx context.Context, req *model.SubmitJobRequest) (*SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.ValidationField("payload", err.Error())
	}
	tenant := strings.TrimSpace(req.TenantID)
	if tenant == "" {
		tenant = s.defaultTenant
	}
	key := req.NormalizedKey()

	existing, err := s.idempotency.Lookup(ctx, key)
	if err != nil {
		return nil, s.internal(ctx, "idempotency lookup failed", err)
	}
	if existing != nil {
		s.debug(ctx, "idempotent resubmission", "id", existing.ID, "idempotency_key", key)
		return &SubmitResult{Job: existing, Existing: true}, nil
	}

	if err := s.admission.Admit(ctx, tenant); err != nil {
		if apperrors.IsRateLimitExceeded(err) {
			return nil, err
		}
		return nil, s.internal(ctx, "admission check failed", err)
	}

	job := &model.Job{
		TenantID:   tenant,
		Status:     model.JobStatusPending,
		Payload:    req.Payload,
		MaxRetries: s.maxRetries,
	}
	if key != "" {
		job.IdempotencyKey = &key
	}

	created, err := s.store.Create(ctx, job)
	if errors.Is(err, core.ErrDuplicateIdempotencyKey) {
		return s.resolveDuplicate(ctx, key)
	}
	if err != nil {
		return nil, s.internal(ctx, "create job failed", err)
	}

	s.idempotency.Remember(ctx, key, created.ID)
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: string(domainjob.TransitionSubmit),
		Status:     string(created.Status),
		Result:     metrics.ResultSuccess,
	})
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job submitted", "id", created.ID, "tenant_id", tenant)
	}
	return &SubmitResult{Job: created}, nil
}

// resolveDuplicate returns the winner of a create race on key.
func (s *JobService) resolveDuplicate(ctx context.Context, key string) (*SubmitResult, error) {
	winner, err := s.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, s.internal(ctx, "re-read duplicate idempotency key failed", err)
	}
	if winner == nil {
		return nil, s.internal(ctx, "duplicate idempotency key vanished",
			fmt.Errorf("%w: %s", core.ErrDuplicateIdempotencyKey, key))
	}
	s.idempotency.Remember(ctx, key, winner.ID)
	return &SubmitResult{Job: winner, Existing: true}, nil
}

// Get returns the job with id.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.GetByID(ctx, id)
	if errors.Is(err, core.ErrJobNotFound) {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, s.internal(ctx, "get job failed", err)
	}
	return job, nil
}

// ListByStatus returns jobs in opts.Status, newest first.
func (s *JobService) ListByStatus(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	if !opts.Status.Valid() {
		return nil, apperrors.ValidationField("status", fmt.Sprintf("unknown status %q", opts.Status))
	}
	jobs, err := s.store.ListByStatus(ctx, opts)
	if err != nil {
		return nil, s.internal(ctx, "list jobs failed", err)
	}
	return jobs, nil
}

// Stats returns job counts per status.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, s.internal(ctx, "job stats failed", err)
	}
	return stats, nil
}

// JobsGroupedByStatus lists up to limit jobs for every status, keyed by lower-case status name.
func (s *JobService) JobsGroupedByStatus(ctx context.Context, limit int) (map[string][]*model.Job, error) {
	out := make(map[string][]*model.Job, len(model.AllJobStatuses()))
	for _, status := range model.AllJobStatuses() {
		jobs, err := s.ListByStatus(ctx, model.JobListOptions{Status: status, Limit: limit})
		if err != nil {
			return nil, err
		}
		if jobs == nil {
			jobs = []*model.Job{}
		}
		out[strings.ToLower(string(status))] = jobs
	}
	return out, nil
}

// Acknowledge applies an execution outcome to a RUNNING job and returns the persisted result.
//
// Success completes the job. A failure retries while budget remains and dead-letters otherwise.
func (s *JobService) Acknowledge(ctx context.Context, id string, result model.ExecutionResult) (*model.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	transition, err := domainjob.Decide(job, result)
	if err != nil {
		return nil, apperrors.Conflict(err.Error())
	}

	params := core.TransitionParams{ID: id, At: s.now().UTC()}
	if !result.Success {
		params.ErrorMessage = domainjob.FailureMessage(result)
	}

	updated, transition, err := s.apply(ctx, transition, params)
	if err != nil {
		s.emitTransition(job, transition, nil, err)
		switch {
		case errors.Is(err, core.ErrJobNotFound):
			return nil, apperrors.NotFoundf("job %s not found", id)
		case errors.Is(err, core.ErrJobNotRunning):
			return nil, apperrors.Conflict(fmt.Sprintf("job %s is no longer running", id))
		default:
			return nil, s.internal(ctx, "acknowledge job failed", err)
		}
	}

	if updated.Status != transition.Target() {
		return nil, s.internal(ctx, "acknowledge landed in unexpected status",
			fmt.Errorf("job %s: want %s, got %s", id, transition.Target(), updated.Status))
	}

	s.emitTransition(job, transition, updated, nil)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job acknowledged",
			"id", id,
			"transition", transition,
			"status", updated.Status,
			"retry_count", updated.RetryCount,
		)
	}
	return updated, nil
}

// apply runs the store transition for t and returns the transition actually applied. A retry
// that loses its budget to a concurrent change falls back to dead-lettering.
func (s *JobService) apply(
	ctx context.Context,
	t domainjob.Transition,
	params core.TransitionParams,
) (*model.Job, domainjob.Transition, error) {
	switch t {
	case domainjob.TransitionComplete:
		updated, err := s.store.Complete(ctx, params)
		return updated, t, err
	case domainjob.TransitionRetry:
		updated, err := s.store.Retry(ctx, params)
		if errors.Is(err, core.ErrRetryBudgetExhausted) {
			updated, err = s.store.DeadLetter(ctx, params)
			return updated, domainjob.TransitionDeadLetter, err
		}
		return updated, t, err
	case domainjob.TransitionDeadLetter:
		updated, err := s.store.DeadLetter(ctx, params)
		return updated, t, err
	default:
		return nil, t, fmt.Errorf("unsupported acknowledge transition %q", t)
	}
}

func (s *JobService) emitTransition(before *model.Job, t domainjob.Transition, after *model.Job, err error) {
	in := metrics.JobMetric{Transition: string(t), Result: metrics.ResultSuccess, Err: err}
	if err != nil {
		in.Result = metrics.ResultError
	}
	if after != nil {
		in.Status = string(after.Status)
		if before.StartedAt != nil && t != domainjob.TransitionRetry {
			in.Duration = s.now().Sub(*before.StartedAt)
		}
	}
	metrics.EmitJobLifecycle(s.metrics, in)
}

func (s *JobService) internal(ctx context.Context, msg string, err error) error {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, msg, "error", err)
	}
	return apperrors.Wrap(err, apperrors.ErrCodeInternal, msg)
}

func (s *JobService) debug(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.DebugContext(ctx, msg, args...)
	}
}
