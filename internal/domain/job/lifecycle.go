// Package job holds the pure rules of the job lifecycle: lease staleness and
// the transition taken when an attempt is acknowledged.
package job

import (
	"errors"
	"fmt"

	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// Transition names the acknowledge branch taken for a RUNNING job.
type Transition string

const (
	// TransitionComplete moves RUNNING to COMPLETED.
	TransitionComplete Transition = "complete"
	// TransitionRetry moves RUNNING back to PENDING with retry_count+1.
	TransitionRetry Transition = "retry"
	// TransitionDeadLetter moves RUNNING to DLQ.
	TransitionDeadLetter Transition = "dead_letter"
	// TransitionLease moves PENDING to RUNNING.
	TransitionLease Transition = "lease"
	// TransitionSubmit creates a PENDING job.
	TransitionSubmit Transition = "submit"
	// TransitionReclaim returns an expired RUNNING job to PENDING.
	TransitionReclaim Transition = "reclaim"
)

// ErrNotRunning is returned when acknowledge is applied to a job outside RUNNING.
var ErrNotRunning = errors.New("job is not running")

// Decide returns the transition an acknowledge with the given result applies to j.
func Decide(j *model.Job, result model.ExecutionResult) (Transition, error) {
	if j == nil {
		return "", errors.New("job is required")
	}
	if j.Status != model.JobStatusRunning {
		return "", fmt.Errorf("%w: status %s", ErrNotRunning, j.Status)
	}
	switch {
	case result.Success:
		return TransitionComplete, nil
	case j.CanRetry():
		return TransitionRetry, nil
	default:
		return TransitionDeadLetter, nil
	}
}

// Target returns the status a transition lands in.
func (t Transition) Target() model.JobStatus {
	switch t {
	case TransitionComplete:
		return model.JobStatusCompleted
	case TransitionRetry, TransitionSubmit, TransitionReclaim:
		return model.JobStatusPending
	case TransitionDeadLetter:
		return model.JobStatusDLQ
	case TransitionLease:
		return model.JobStatusRunning
	default:
		return ""
	}
}

// FailureMessage returns the message recorded for a failed attempt.
func FailureMessage(result model.ExecutionResult) string {
	if result.ErrorMessage != "" {
		return result.ErrorMessage
	}
	return "job execution failed"
}
