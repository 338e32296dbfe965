// Package model defines the core data types shared by the job queue layers.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// JobStatusPending indicates a job is waiting to be leased.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusRunning indicates a job is leased and executing.
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed is reserved; no lifecycle transition produces it.
	JobStatusFailed JobStatus = "FAILED"
	// JobStatusDLQ indicates a job exhausted its retry budget.
	JobStatusDLQ JobStatus = "DLQ"
)

// DefaultTenantID is used when a submission carries no tenant.
const DefaultTenantID = "default-tenant"

var (
	// ErrNoJobsAvailable is returned when no candidate could be leased.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrInvalidStatus is returned when a status name is not recognized.
	ErrInvalidStatus = errors.New("invalid job status")
)

// AllJobStatuses lists every status in display order.
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusRunning,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusDLQ,
	}
}

// Valid returns true if the JobStatus is one of the enumerated values.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusDLQ:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions can leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusDLQ || s == JobStatusFailed
}

// ParseJobStatus resolves a status name case-insensitively.
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// UnmarshalText implements encoding.TextUnmarshaler so statuses can be read from env and JSON.
func (s *JobStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseJobStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Job represents a unit of work owned by a tenant.
type Job struct {
	ID             string     `json:"id"                       db:"id"`
	TenantID       string     `json:"tenantId"                 db:"tenant_id"`
	Status         JobStatus  `json:"status"                   db:"status"`
	Payload        string     `json:"payload"                  db:"payload"`
	IdempotencyKey *string    `json:"idempotencyKey,omitempty" db:"idempotency_key"`
	RetryCount     int        `json:"retryCount"               db:"retry_count"`
	MaxRetries     int        `json:"maxRetries"               db:"max_retries"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"   db:"error_message"`
	LeasedAt       *time.Time `json:"leasedAt,omitempty"       db:"leased_at"`
	StartedAt      *time.Time `json:"startedAt,omitempty"      db:"started_at"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"    db:"completed_at"`
	CreatedAt      time.Time  `json:"createdAt"                db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt"                db:"updated_at"`
}

// IsLeaseExpired reports whether the job's lease is older than leaseDuration at now.
// Jobs that were never leased are not considered expired.
func (j *Job) IsLeaseExpired(now time.Time, leaseDuration time.Duration) bool {
	if j == nil || j.LeasedAt == nil {
		return false
	}
	return j.LeasedAt.Add(leaseDuration).Before(now)
}

// CanRetry reports whether a failed attempt may return the job to PENDING.
func (j *Job) CanRetry() bool {
	return j != nil && j.RetryCount < j.MaxRetries
}

// IsTerminal reports whether the job reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j != nil && j.Status.Terminal()
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.IdempotencyKey = cloneString(j.IdempotencyKey)
	out.ErrorMessage = cloneString(j.ErrorMessage)
	out.LeasedAt = cloneTime(j.LeasedAt)
	out.StartedAt = cloneTime(j.StartedAt)
	out.CompletedAt = cloneTime(j.CompletedAt)
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SubmitJobRequest is the caller-facing input for a submission.
type SubmitJobRequest struct {
	TenantID       string `json:"-"`
	Payload        string `json:"payload"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Validate validates the SubmitJobRequest fields.
func (r *SubmitJobRequest) Validate() error {
	if r == nil {
		return errors.New("submit request is required")
	}
	if strings.TrimSpace(r.Payload) == "" {
		return errors.New("payload is required")
	}
	return nil
}

// NormalizedKey returns the trimmed idempotency key, or "" when blank.
func (r *SubmitJobRequest) NormalizedKey() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.IdempotencyKey)
}

// LeaseRequest describes an atomic compare-and-set on a job's status.
type LeaseRequest struct {
	ID       string
	Expected JobStatus
	New      JobStatus
	At       time.Time
}

// ExecutionResult is what an executor reports for one attempt.
type ExecutionResult struct {
	Success      bool
	ErrorMessage string
}

// JobListOptions groups parameters for listing jobs by status.
type JobListOptions struct {
	Status JobStatus
	Limit  int
	Offset int
}

// JobStats represents job counts per status.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	DLQ       int `json:"dlq"`
	Total     int `json:"total"`
}

// ByStatus returns the count for a single status.
func (s *JobStats) ByStatus(status JobStatus) int {
	if s == nil {
		return 0
	}
	switch status {
	case JobStatusPending:
		return s.Pending
	case JobStatusRunning:
		return s.Running
	case JobStatusCompleted:
		return s.Completed
	case JobStatusFailed:
		return s.Failed
	case JobStatusDLQ:
		return s.DLQ
	default:
		return 0
	}
}
