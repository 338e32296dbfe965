package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
)

func TestEmitJobLifecycle(t *testing.T) {
	rec := &statsd.Recorder{}

	EmitJobLifecycle(rec, JobMetric{
		Transition: "complete",
		Status:     "COMPLETED",
		Result:     ResultSuccess,
		Duration:   20 * time.Millisecond,
	})

	counts := rec.Find("job.transition")
	require.Len(t, counts, 1)
	assert.Equal(t, map[string]string{"transition": "complete", "result": "success", "status": "COMPLETED"}, counts[0].Tags)

	timings := rec.Find("job.duration")
	require.Len(t, timings, 1)
	assert.InDelta(t, 20.0, timings[0].Value, 0.001)
}

func TestEmitJobLifecycle_ErrorClass(t *testing.T) {
	rec := &statsd.Recorder{}

	EmitJobLifecycle(rec, JobMetric{
		Transition: "lease",
		Result:     ResultError,
		Err:        fmt.Errorf("lease: %w", context.DeadlineExceeded),
	})

	counts := rec.Find("job.transition")
	require.Len(t, counts, 1)
	assert.Equal(t, "timeout", counts[0].Tags["error_class"])
	assert.Empty(t, rec.Find("job.duration"), "no timing without a duration")
}

func TestEmitNilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		EmitJobLifecycle(nil, JobMetric{Transition: "complete"})
		EmitAdmission(nil, AdmissionMetric{Result: ResultSuccess})
	})
}

func TestEmitAdmission(t *testing.T) {
	rec := &statsd.Recorder{}
	EmitAdmission(rec, AdmissionMetric{Result: ResultRejected, Reason: "rate_limit"})

	got := rec.Find("admission.decision")
	require.Len(t, got, 1)
	assert.Equal(t, "rate_limit", got[0].Tags["reason"])
}

func TestCloneTags(t *testing.T) {
	assert.Nil(t, CloneTags(nil))
	src := map[string]string{"a": "1", "": "x"}
	out := CloneTags(src)
	assert.Equal(t, map[string]string{"a": "1"}, out)
	out["a"] = "2"
	assert.Equal(t, "1", src["a"])
}
