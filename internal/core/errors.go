package core

import "errors"

// Sentinel errors every JobStore implementation reports, wrapped with %w.
var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotRunning is returned when a transition requires a RUNNING job and the stored row is not.
	ErrJobNotRunning = errors.New("job is not running")
	// ErrRetryBudgetExhausted is returned when Retry is applied to a job with no retries left.
	ErrRetryBudgetExhausted = errors.New("job retry budget exhausted")
	// ErrDuplicateIdempotencyKey is returned when a create collides with an existing idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")
)
