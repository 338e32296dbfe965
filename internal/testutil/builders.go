package testutil

import (
	"time"

	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// JobBuilder provides a fluent interface for building model.Job fixtures.
type JobBuilder struct {
	job *model.Job
}

// NewJob creates a new JobBuilder with sensible defaults: a PENDING job for the default tenant.
func NewJob() *JobBuilder {
	return &JobBuilder{
		job: &model.Job{
			TenantID:   model.DefaultTenantID,
			Status:     model.JobStatusPending,
			Payload:    "send-welcome-email",
			MaxRetries: 3,
		},
	}
}

// WithID sets the job id.
func (b *JobBuilder) WithID(id string) *JobBuilder {
	b.job.ID = id
	return b
}

// WithTenant sets the owning tenant.
func (b *JobBuilder) WithTenant(tenantID string) *JobBuilder {
	b.job.TenantID = tenantID
	return b
}

// WithStatus sets the status.
func (b *JobBuilder) WithStatus(status model.JobStatus) *JobBuilder {
	b.job.Status = status
	return b
}

// WithPayload sets the payload.
func (b *JobBuilder) WithPayload(payload string) *JobBuilder {
	b.job.Payload = payload
	return b
}

// WithIdempotencyKey sets the idempotency key.
func (b *JobBuilder) WithIdempotencyKey(key string) *JobBuilder {
	b.job.IdempotencyKey = &key
	return b
}

// WithRetries sets retry count and budget.
func (b *JobBuilder) WithRetries(retryCount, maxRetries int) *JobBuilder {
	b.job.RetryCount = retryCount
	b.job.MaxRetries = maxRetries
	return b
}

// Running marks the job RUNNING with a lease taken at leasedAt.
func (b *JobBuilder) Running(leasedAt time.Time) *JobBuilder {
	b.job.Status = model.JobStatusRunning
	b.job.LeasedAt = TimePtr(leasedAt)
	b.job.StartedAt = TimePtr(leasedAt)
	return b
}

// Build returns a copy of the configured job.
func (b *JobBuilder) Build() *model.Job {
	return b.job.Clone()
}
