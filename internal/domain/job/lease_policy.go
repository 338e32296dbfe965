package job

import (
	"errors"
	"time"

	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// ErrInvalidLeaseDuration indicates the configured lease duration is not positive.
var ErrInvalidLeaseDuration = errors.New("lease duration must be positive")

// LeasePolicy decides when a lease is considered stale.
type LeasePolicy struct {
	duration time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided lease duration.
func NewLeasePolicy(duration time.Duration) (*LeasePolicy, error) {
	if duration <= 0 {
		return nil, ErrInvalidLeaseDuration
	}
	return &LeasePolicy{duration: duration}, nil
}

// Duration returns the configured lease duration.
func (p *LeasePolicy) Duration() time.Duration {
	if p == nil {
		return 0
	}
	return p.duration
}

// Expiry returns the cutoff before which a lease taken is stale at now.
func (p *LeasePolicy) Expiry(now time.Time) time.Time {
	return now.Add(-p.Duration())
}

// Expired reports whether the job's most recent lease is stale at now.
func (p *LeasePolicy) Expired(j *model.Job, now time.Time) bool {
	return j.IsLeaseExpired(now, p.Duration())
}
