package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/data"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
	"github.com/target/mmk-jobqueue/internal/testutil"
)

type fixtureConfig struct {
	maxConcurrent int
	maxPerWindow  int
	window        time.Duration
	maxRetries    int
}

func defaultFixtureConfig() fixtureConfig {
	return fixtureConfig{maxConcurrent: 5, maxPerWindow: 10, window: time.Minute, maxRetries: 3}
}

// fixture wires the services over a memory store sharing one fixed clock.
type fixture struct {
	clock     *data.FixedTimeProvider
	store     *data.MemoryJobStore
	metrics   *statsd.Recorder
	admission *AdmissionController
	jobs      *JobService
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()

	clock := data.NewFixedTimeProvider(testutil.TestTime())
	store := data.NewMemoryJobStore(clock)
	rec := &statsd.Recorder{}

	admission, err := NewAdmissionController(AdmissionControllerOptions{
		Store:                      store,
		MaxConcurrentJobsPerTenant: cfg.maxConcurrent,
		MaxJobsPerWindow:           cfg.maxPerWindow,
		WindowSize:                 cfg.window,
		Now:                        clock.Now,
		Metrics:                    rec,
	})
	require.NoError(t, err)

	jobs, err := NewJobService(JobServiceOptions{
		Store:      store,
		Admission:  admission,
		MaxRetries: cfg.maxRetries,
		Now:        clock.Now,
		Metrics:    rec,
	})
	require.NoError(t, err)

	return &fixture{clock: clock, store: store, metrics: rec, admission: admission, jobs: jobs}
}

func coreTransition(id string, at time.Time) core.TransitionParams {
	return core.TransitionParams{ID: id, At: at}
}

// submit is a test shorthand for a successful submission.
func (f *fixture) submit(t *testing.T, tenant, key string) *model.Job {
	t.Helper()
	res, err := f.jobs.Submit(context.Background(), &model.SubmitJobRequest{
		TenantID:       tenant,
		Payload:        "resize-image",
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return res.Job
}
