package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
	"github.com/target/mmk-jobqueue/internal/service"
)

type fakeIterator struct {
	calls   atomic.Int64
	results []service.IterationResult
	err     error
	block   chan struct{}
}

func (f *fakeIterator) RunOnce(ctx context.Context) (service.IterationResult, error) {
	n := int(f.calls.Add(1))
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return service.IterationResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return service.IterationResult{}, f.err
	}
	if n <= len(f.results) {
		return f.results[n-1], nil
	}
	return service.IterationResult{}, nil
}

func TestNewRunner(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)

	r, err := NewRunner(RunnerOptions{Scheduler: &fakeIterator{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultDelay, r.delay)
}

func TestRunner_RunIteratesUntilCanceled(t *testing.T) {
	it := &fakeIterator{}
	rec := &statsd.Recorder{}
	r, err := NewRunner(RunnerOptions{Scheduler: it, Delay: 5 * time.Millisecond, Metrics: rec})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return it.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	iterations := rec.Find("scheduler.iteration")
	require.NotEmpty(t, iterations)
	assert.Equal(t, "noop", iterations[0].Tags["result"])
}

func TestRunner_RunReturnsDeadline(t *testing.T) {
	r, err := NewRunner(RunnerOptions{Scheduler: &fakeIterator{}, Delay: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)
}

func TestRunner_ErrorsDoNotStopTheLoop(t *testing.T) {
	it := &fakeIterator{err: errors.New("connection refused")}
	rec := &statsd.Recorder{}
	r, err := NewRunner(RunnerOptions{Scheduler: it, Delay: time.Millisecond, Metrics: rec})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	require.Eventually(t, func() bool { return it.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	r.Stop()

	for _, m := range rec.Find("scheduler.iteration") {
		assert.Equal(t, "error", m.Tags["result"])
	}
	assert.Empty(t, rec.Find("scheduler.last_success_epoch"))
}

func TestRunner_WorkedIterationMetrics(t *testing.T) {
	it := &fakeIterator{results: []service.IterationResult{{
		Candidates: 3,
		LostRaces:  2,
		Job:        &model.Job{ID: "j1", Status: model.JobStatusCompleted},
	}}}
	rec := &statsd.Recorder{}
	r, err := NewRunner(RunnerOptions{Scheduler: it, Delay: time.Millisecond, Metrics: rec})
	require.NoError(t, err)

	r.iterate(context.Background())

	iterations := rec.Find("scheduler.iteration")
	require.Len(t, iterations, 1)
	assert.Equal(t, "success", iterations[0].Tags["result"])

	lost := rec.Find("scheduler.lost_races")
	require.Len(t, lost, 1)
	assert.InDelta(t, 2, lost[0].Value, 0)
}

func TestRunner_StopWaitsForInFlightIteration(t *testing.T) {
	it := &fakeIterator{block: make(chan struct{})}
	r, err := NewRunner(RunnerOptions{Scheduler: it, Delay: time.Millisecond})
	require.NoError(t, err)

	r.Start(context.Background())
	r.Start(context.Background()) // no-op while running
	require.Eventually(t, func() bool { return it.calls.Load() == 1 }, 2*time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, int64(1), it.calls.Load())

	r.Stop() // idempotent
}
