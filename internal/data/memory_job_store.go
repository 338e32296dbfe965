package data

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// MemoryJobStore is an in-process JobStore used for tests and single-node development.
// All reads return copies so callers never alias stored state.
type MemoryJobStore struct {
	mu           sync.RWMutex
	jobs         map[string]*model.Job
	keys         map[string]string
	timeProvider TimeProvider
}

// NewMemoryJobStore creates an empty store. A nil TimeProvider uses the wall clock.
func NewMemoryJobStore(tp TimeProvider) *MemoryJobStore {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MemoryJobStore{
		jobs:         make(map[string]*model.Job),
		keys:         make(map[string]string),
		timeProvider: tp,
	}
}

// Create stores a copy of job, assigning an ID and timestamps when absent.
func (s *MemoryJobStore) Create(_ context.Context, job *model.Job) (*model.Job, error) {
	if job == nil {
		return nil, ErrJobRequired
	}

	stored := job.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = model.JobStatusPending
	}
	now := s.timeProvider.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[stored.ID]; exists {
		return nil, fmt.Errorf("job %s already exists", stored.ID)
	}
	if key := stored.IdempotencyKey; key != nil {
		if _, taken := s.keys[*key]; taken {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, *key)
		}
		s.keys[*key] = stored.ID
	}
	s.jobs[stored.ID] = stored
	return stored.Clone(), nil
}

// GetByID retrieves a job by its ID.
func (s *MemoryJobStore) GetByID(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// FindByIdempotencyKey returns the job holding key, or (nil, nil) when none does.
func (s *MemoryJobStore) FindByIdempotencyKey(_ context.Context, key string) (*model.Job, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keys[key]
	if !ok {
		return nil, nil
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return job.Clone(), nil
}

// CountByTenantAndStatus returns how many of a tenant's jobs are in status.
func (s *MemoryJobStore) CountByTenantAndStatus(_ context.Context, tenantID string, status model.JobStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, j := range s.jobs {
		if j.TenantID == tenantID && j.Status == status {
			n++
		}
	}
	return n, nil
}

// CountByStatus returns how many jobs are in status.
func (s *MemoryJobStore) CountByStatus(_ context.Context, status model.JobStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, j := range s.jobs {
		if j.Status == status {
			n++
		}
	}
	return n, nil
}

// FindLeasableCandidates returns unleased or lease-expired jobs in q.Status, oldest first.
func (s *MemoryJobStore) FindLeasableCandidates(_ context.Context, q core.CandidateQuery) ([]*model.Job, error) {
	if !q.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidStatus, q.Status)
	}

	s.mu.RLock()
	out := s.filterLocked(func(j *model.Job) bool {
		return j.Status == q.Status && (j.LeasedAt == nil || j.LeasedAt.Before(q.Expiry))
	})
	s.mu.RUnlock()

	sortOldestFirst(out)
	if limit := normalizeCandidateLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TryLease performs the status compare-and-set under the store mutex.
func (s *MemoryJobStore) TryLease(_ context.Context, req model.LeaseRequest) (bool, error) {
	at := req.At
	if at.IsZero() {
		at = s.timeProvider.Now()
	}
	at = at.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[req.ID]
	if !ok || job.Status != req.Expected {
		return false, nil
	}
	job.Status = req.New
	job.LeasedAt = &at
	started := at
	job.StartedAt = &started
	job.UpdatedAt = at
	return true, nil
}

// Complete marks a RUNNING job as completed.
func (s *MemoryJobStore) Complete(_ context.Context, params core.TransitionParams) (*model.Job, error) {
	return s.transition(params, func(j *model.Job, at time.Time) error {
		j.Status = model.JobStatusCompleted
		j.CompletedAt = &at
		j.ErrorMessage = nil
		return nil
	})
}

// Retry returns a RUNNING job to PENDING with its retry count incremented.
func (s *MemoryJobStore) Retry(_ context.Context, params core.TransitionParams) (*model.Job, error) {
	return s.transition(params, func(j *model.Job, _ time.Time) error {
		if !j.CanRetry() {
			return fmt.Errorf("%w: job %s", ErrRetryBudgetExhausted, j.ID)
		}
		msg := params.ErrorMessage
		j.Status = model.JobStatusPending
		j.RetryCount++
		j.ErrorMessage = &msg
		j.LeasedAt = nil
		j.StartedAt = nil
		return nil
	})
}

// DeadLetter moves a RUNNING job to the DLQ.
func (s *MemoryJobStore) DeadLetter(_ context.Context, params core.TransitionParams) (*model.Job, error) {
	return s.transition(params, func(j *model.Job, at time.Time) error {
		msg := params.ErrorMessage
		j.Status = model.JobStatusDLQ
		j.ErrorMessage = &msg
		j.CompletedAt = &at
		return nil
	})
}

func (s *MemoryJobStore) transition(
	params core.TransitionParams,
	apply func(j *model.Job, at time.Time) error,
) (*model.Job, error) {
	at := params.At
	if at.IsZero() {
		at = s.timeProvider.Now()
	}
	at = at.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[params.ID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != model.JobStatusRunning {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotRunning, params.ID, job.Status)
	}

	next := job.Clone()
	if err := apply(next, at); err != nil {
		return nil, err
	}
	next.UpdatedAt = at
	s.jobs[params.ID] = next
	return next.Clone(), nil
}

// ListByStatus returns jobs in the given status, newest first.
func (s *MemoryJobStore) ListByStatus(_ context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	if !opts.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidStatus, opts.Status)
	}
	limit, offset := normalizeListWindow(opts.Limit, opts.Offset)

	s.mu.RLock()
	out := s.filterLocked(func(j *model.Job) bool { return j.Status == opts.Status })
	s.mu.RUnlock()

	sortOldestFirst(out)
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	if offset >= len(out) {
		return []*model.Job{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats returns job counts per status.
func (s *MemoryJobStore) Stats(_ context.Context) (*model.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st model.JobStats
	for _, j := range s.jobs {
		switch j.Status {
		case model.JobStatusPending:
			st.Pending++
		case model.JobStatusRunning:
			st.Running++
		case model.JobStatusCompleted:
			st.Completed++
		case model.JobStatusFailed:
			st.Failed++
		case model.JobStatusDLQ:
			st.DLQ++
		}
		st.Total++
	}
	return &st, nil
}

// RequeueExpiredLeases returns RUNNING jobs leased before expiry to PENDING.
func (s *MemoryJobStore) RequeueExpiredLeases(_ context.Context, expiry time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be greater than zero")
	}
	now := s.timeProvider.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := s.filterLocked(func(j *model.Job) bool {
		return j.Status == model.JobStatusRunning && j.LeasedAt != nil && j.LeasedAt.Before(expiry)
	})
	sort.Slice(expired, func(a, b int) bool { return expired[a].LeasedAt.Before(*expired[b].LeasedAt) })

	var n int64
	for _, cp := range expired {
		if n == int64(batchSize) {
			break
		}
		job := s.jobs[cp.ID]
		job.Status = model.JobStatusPending
		job.LeasedAt = nil
		job.StartedAt = nil
		job.UpdatedAt = now
		n++
	}
	return n, nil
}

// DeleteOldJobs deletes up to params.BatchSize jobs in params.Status older than params.MaxAge.
func (s *MemoryJobStore) DeleteOldJobs(_ context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Valid() {
		return 0, fmt.Errorf("invalid job status: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, fmt.Errorf("batch size must be greater than zero")
	}
	cutoff := s.timeProvider.Now().Add(-params.MaxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, j := range s.jobs {
		if n == int64(params.BatchSize) {
			break
		}
		if j.Status != params.Status || !finishedAt(j).Before(cutoff) {
			continue
		}
		delete(s.jobs, id)
		if j.IdempotencyKey != nil {
			delete(s.keys, *j.IdempotencyKey)
		}
		n++
	}
	return n, nil
}

func finishedAt(j *model.Job) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return j.UpdatedAt
}

// filterLocked returns copies of matching jobs; the caller holds s.mu.
func (s *MemoryJobStore) filterLocked(match func(*model.Job) bool) []*model.Job {
	out := make([]*model.Job, 0)
	for _, j := range s.jobs {
		if match(j) {
			out = append(out, j.Clone())
		}
	}
	return out
}

func sortOldestFirst(jobs []*model.Job) {
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
}
