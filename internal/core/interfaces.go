package core

import (
	"context"
	"time"

	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// TransitionParams groups parameters for the acknowledge transitions to keep param count ≤3.
type TransitionParams struct {
	ID           string
	ErrorMessage string
	At           time.Time
}

// CandidateQuery selects jobs eligible for leasing.
type CandidateQuery struct {
	Status model.JobStatus
	Expiry time.Time
	Limit  int
}

// JobStore is the durable keyed storage the job lifecycle runs on.
//
// TryLease is the only mechanism that grants lease exclusivity: it must behave as a single
// compare-and-set on the stored status. Complete, Retry and DeadLetter are conditional on the
// job being RUNNING and return the row as persisted after the transition.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// FindByIdempotencyKey returns (nil, nil) when no job carries the key.
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Job, error)
	CountByTenantAndStatus(ctx context.Context, tenantID string, status model.JobStatus) (int, error)
	CountByStatus(ctx context.Context, status model.JobStatus) (int, error)
	// FindLeasableCandidates returns jobs in q.Status whose lease is absent or older than q.Expiry,
	// oldest first.
	FindLeasableCandidates(ctx context.Context, q CandidateQuery) ([]*model.Job, error)
	TryLease(ctx context.Context, req model.LeaseRequest) (bool, error)
	Complete(ctx context.Context, params TransitionParams) (*model.Job, error)
	Retry(ctx context.Context, params TransitionParams) (*model.Job, error)
	DeadLetter(ctx context.Context, params TransitionParams) (*model.Job, error)
	ListByStatus(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// Executor runs the business logic of a leased job. Failures are reported through the result,
// not the error path.
type Executor interface {
	Execute(ctx context.Context, job *model.Job) model.ExecutionResult
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs to keep param count ≤3.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the interface for lease reconciliation and cleanup operations.
type ReaperRepository interface {
	// RequeueExpiredLeases returns RUNNING jobs leased before expiry to PENDING.
	// Processes up to batchSize jobs per call to prevent long locks.
	// Returns the number of jobs requeued.
	RequeueExpiredLeases(ctx context.Context, expiry time.Time, batchSize int) (int64, error)

	// DeleteOldJobs deletes jobs with the given status older than maxAge.
	// Processes up to batchSize jobs per call to prevent long locks.
	// Returns the number of jobs deleted.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}
