package data

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/testutil"
)

// contractStore is every store implementation in this package.
type contractStore interface {
	core.JobStore
	core.ReaperRepository
}

type storeFactory func(t *testing.T, tp TimeProvider) contractStore

// runJobStoreContract exercises the behavior every JobStore must share.
func runJobStoreContract(t *testing.T, newStore storeFactory) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) { testCreateAndGet(t, newStore) })
	t.Run("idempotency key", func(t *testing.T) { testIdempotencyKey(t, newStore) })
	t.Run("try lease", func(t *testing.T) { testTryLease(t, newStore) })
	t.Run("concurrent try lease", func(t *testing.T) { testConcurrentTryLease(t, newStore) })
	t.Run("transitions", func(t *testing.T) { testTransitions(t, newStore) })
	t.Run("candidates", func(t *testing.T) { testCandidates(t, newStore) })
	t.Run("counts and stats", func(t *testing.T) { testCountsAndStats(t, newStore) })
	t.Run("list by status", func(t *testing.T) { testListByStatus(t, newStore) })
	t.Run("requeue expired leases", func(t *testing.T) { testRequeueExpiredLeases(t, newStore) })
	t.Run("delete old jobs", func(t *testing.T) { testDeleteOldJobs(t, newStore) })
}

func createJob(t *testing.T, s contractStore, b *testutil.JobBuilder) *model.Job {
	t.Helper()
	job, err := s.Create(context.Background(), b.Build())
	require.NoError(t, err)
	return job
}

func leaseJob(t *testing.T, s contractStore, id string, at time.Time) {
	t.Helper()
	ok, err := s.TryLease(context.Background(), model.LeaseRequest{
		ID: id, Expected: model.JobStatusPending, New: model.JobStatusRunning, At: at,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func testCreateAndGet(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	tp := NewFixedTimeProvider(testutil.TestTime())
	s := newStore(t, tp)

	created := createJob(t, s, testutil.NewJob().WithTenant("acme").WithPayload("resize"))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.JobStatusPending, created.Status)
	assert.Equal(t, "acme", created.TenantID)
	assert.Equal(t, 0, created.RetryCount)
	assert.Equal(t, 3, created.MaxRetries)
	assert.True(t, created.CreatedAt.Equal(testutil.TestTime()))
	assert.Nil(t, created.LeasedAt)

	got, err := s.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "resize", got.Payload)

	_, err = s.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = s.Create(ctx, nil)
	assert.ErrorIs(t, err, ErrJobRequired)
}

func testIdempotencyKey(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	s := newStore(t, NewFixedTimeProvider(testutil.TestTime()))

	first := createJob(t, s, testutil.NewJob().WithIdempotencyKey("order-42"))

	_, err := s.Create(ctx, testutil.NewJob().WithIdempotencyKey("order-42").Build())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	found, err := s.FindByIdempotencyKey(ctx, "order-42")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)

	missing, err := s.FindByIdempotencyKey(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)

	blank, err := s.FindByIdempotencyKey(ctx, "  ")
	require.NoError(t, err)
	assert.Nil(t, blank)

	// Jobs without a key never collide.
	createJob(t, s, testutil.NewJob())
	createJob(t, s, testutil.NewJob())
}

func testTryLease(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	now := testutil.TestTime()
	s := newStore(t, NewFixedTimeProvider(now))
	job := createJob(t, s, testutil.NewJob())

	req := model.LeaseRequest{ID: job.ID, Expected: model.JobStatusPending, New: model.JobStatusRunning, At: now}
	ok, err := s.TryLease(ctx, req)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryLease(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok, "second lease must lose the compare-and-set")

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got.Status)
	require.NotNil(t, got.LeasedAt)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.LeasedAt.Equal(now))

	ok, err = s.TryLease(ctx, model.LeaseRequest{ID: uuid.NewString(), Expected: model.JobStatusPending, New: model.JobStatusRunning})
	require.NoError(t, err)
	assert.False(t, ok)
}

func testConcurrentTryLease(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	s := newStore(t, NewFixedTimeProvider(testutil.TestTime()))
	job := createJob(t, s, testutil.NewJob())

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.TryLease(ctx, model.LeaseRequest{
				ID: job.ID, Expected: model.JobStatusPending, New: model.JobStatusRunning, At: testutil.TestTime(),
			})
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func testTransitions(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	now := testutil.TestTime()
	tp := NewFixedTimeProvider(now)
	s := newStore(t, tp)

	t.Run("complete clears error", func(t *testing.T) {
		job := createJob(t, s, testutil.NewJob())
		leaseJob(t, s, job.ID, now)

		done, err := s.Complete(ctx, core.TransitionParams{ID: job.ID, At: now.Add(time.Second)})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, done.Status)
		require.NotNil(t, done.CompletedAt)
		assert.True(t, done.CompletedAt.Equal(now.Add(time.Second)))
		assert.Nil(t, done.ErrorMessage)

		_, err = s.Complete(ctx, core.TransitionParams{ID: job.ID})
		assert.ErrorIs(t, err, ErrJobNotRunning)
	})

	t.Run("retry returns to pending", func(t *testing.T) {
		job := createJob(t, s, testutil.NewJob().WithRetries(0, 2))
		leaseJob(t, s, job.ID, now)

		retried, err := s.Retry(ctx, core.TransitionParams{ID: job.ID, ErrorMessage: "boom", At: now})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, retried.Status)
		assert.Equal(t, 1, retried.RetryCount)
		require.NotNil(t, retried.ErrorMessage)
		assert.Equal(t, "boom", *retried.ErrorMessage)
		assert.Nil(t, retried.LeasedAt)
		assert.Nil(t, retried.StartedAt)
	})

	t.Run("retry refuses exhausted budget", func(t *testing.T) {
		job := createJob(t, s, testutil.NewJob().WithRetries(0, 0))
		leaseJob(t, s, job.ID, now)

		_, err := s.Retry(ctx, core.TransitionParams{ID: job.ID, ErrorMessage: "boom"})
		assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
	})

	t.Run("dead letter keeps error", func(t *testing.T) {
		job := createJob(t, s, testutil.NewJob().WithRetries(0, 0))
		leaseJob(t, s, job.ID, now)

		dead, err := s.DeadLetter(ctx, core.TransitionParams{ID: job.ID, ErrorMessage: "fatal", At: now})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusDLQ, dead.Status)
		require.NotNil(t, dead.ErrorMessage)
		assert.Equal(t, "fatal", *dead.ErrorMessage)
		assert.NotNil(t, dead.CompletedAt)
	})

	t.Run("pending job cannot transition", func(t *testing.T) {
		job := createJob(t, s, testutil.NewJob())
		_, err := s.DeadLetter(ctx, core.TransitionParams{ID: job.ID, ErrorMessage: "x"})
		assert.ErrorIs(t, err, ErrJobNotRunning)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := s.Complete(ctx, core.TransitionParams{ID: uuid.NewString()})
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func testCandidates(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	now := testutil.TestTime()
	tp := NewFixedTimeProvider(now)
	s := newStore(t, tp)

	var ids []string
	for range 3 {
		ids = append(ids, createJob(t, s, testutil.NewJob()).ID)
		tp.AddTime(time.Second)
	}
	leaseJob(t, s, ids[1], tp.Now())

	got, err := s.FindLeasableCandidates(ctx, core.CandidateQuery{
		Status: model.JobStatusPending, Expiry: tp.Now().Add(-30 * time.Second), Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[0], got[0].ID, "oldest first")
	assert.Equal(t, ids[2], got[1].ID)

	limited, err := s.FindLeasableCandidates(ctx, core.CandidateQuery{Status: model.JobStatusPending, Expiry: tp.Now(), Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, ids[0], limited[0].ID)

	_, err = s.FindLeasableCandidates(ctx, core.CandidateQuery{Status: "BOGUS"})
	assert.True(t, errors.Is(err, model.ErrInvalidStatus))
}

func testCountsAndStats(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	now := testutil.TestTime()
	s := newStore(t, NewFixedTimeProvider(now))

	a1 := createJob(t, s, testutil.NewJob().WithTenant("a"))
	createJob(t, s, testutil.NewJob().WithTenant("a"))
	b1 := createJob(t, s, testutil.NewJob().WithTenant("b"))
	leaseJob(t, s, a1.ID, now)
	leaseJob(t, s, b1.ID, now)
	_, err := s.Complete(ctx, core.TransitionParams{ID: b1.ID})
	require.NoError(t, err)

	n, err := s.CountByTenantAndStatus(ctx, "a", model.JobStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountByTenantAndStatus(ctx, "b", model.JobStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.CountByStatus(ctx, model.JobStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.JobStats{Pending: 1, Running: 1, Completed: 1, Total: 3}, *stats)
}

func testListByStatus(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	tp := NewFixedTimeProvider(testutil.TestTime())
	s := newStore(t, tp)

	var ids []string
	for range 3 {
		ids = append(ids, createJob(t, s, testutil.NewJob()).ID)
		tp.AddTime(time.Minute)
	}

	all, err := s.ListByStatus(ctx, model.JobListOptions{Status: model.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[2].ID)

	page, err := s.ListByStatus(ctx, model.JobListOptions{Status: model.JobStatusPending, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	empty, err := s.ListByStatus(ctx, model.JobListOptions{Status: model.JobStatusDLQ})
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}

func testRequeueExpiredLeases(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	now := testutil.TestTime()
	tp := NewFixedTimeProvider(now)
	s := newStore(t, tp)

	stale := createJob(t, s, testutil.NewJob().WithRetries(1, 3))
	fresh := createJob(t, s, testutil.NewJob())
	leaseJob(t, s, stale.ID, now.Add(-2*time.Minute))
	leaseJob(t, s, fresh.ID, now)

	n, err := s.RequeueExpiredLeases(ctx, now.Add(-30*time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Nil(t, got.LeasedAt)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, 1, got.RetryCount, "requeue is not a failed attempt")

	still, err := s.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, still.Status)

	_, err = s.RequeueExpiredLeases(ctx, now, 0)
	assert.Error(t, err)
}

func testDeleteOldJobs(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	now := testutil.TestTime()
	tp := NewFixedTimeProvider(now)
	s := newStore(t, tp)

	old := createJob(t, s, testutil.NewJob().WithIdempotencyKey("old"))
	leaseJob(t, s, old.ID, now)
	_, err := s.Complete(ctx, core.TransitionParams{ID: old.ID, At: now})
	require.NoError(t, err)

	tp.AddTime(48 * time.Hour)
	recent := createJob(t, s, testutil.NewJob())
	leaseJob(t, s, recent.ID, tp.Now())
	_, err = s.Complete(ctx, core.TransitionParams{ID: recent.ID, At: tp.Now()})
	require.NoError(t, err)

	n, err := s.DeleteOldJobs(ctx, core.DeleteOldJobsParams{Status: model.JobStatusCompleted, MaxAge: 24 * time.Hour, BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = s.GetByID(ctx, recent.ID)
	assert.NoError(t, err)

	_, err = s.DeleteOldJobs(ctx, core.DeleteOldJobsParams{Status: "nope", MaxAge: time.Hour, BatchSize: 1})
	assert.Error(t, err)
}
