package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/internal/data"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/service"
	"github.com/target/mmk-jobqueue/internal/testutil"
)

type apiFixture struct {
	clock  *data.FixedTimeProvider
	store  *data.MemoryJobStore
	jobs   *service.JobService
	router http.Handler
}

func newAPIFixture(t *testing.T, maxConcurrent, maxPerWindow int) *apiFixture {
	t.Helper()

	clock := data.NewFixedTimeProvider(testutil.TestTime())
	store := data.NewMemoryJobStore(clock)
	admission := service.MustNewAdmissionController(service.AdmissionControllerOptions{
		Store:                      store,
		MaxConcurrentJobsPerTenant: maxConcurrent,
		MaxJobsPerWindow:           maxPerWindow,
		WindowSize:                 time.Minute,
		Now:                        clock.Now,
	})
	jobs := service.MustNewJobService(service.JobServiceOptions{
		Store:      store,
		Admission:  admission,
		MaxRetries: 3,
		Now:        clock.Now,
	})

	return &apiFixture{
		clock:  clock,
		store:  store,
		jobs:   jobs,
		router: NewRouter(RouterServices{Jobs: jobs}),
	}
}

func (f *apiFixture) do(t *testing.T, method, path, tenant, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestSubmitJob(t *testing.T) {
	f := newAPIFixture(t, 5, 10)

	rec := f.do(t, http.MethodPost, "/api/jobs", "acme", `{"payload":"resize-image"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	job := decodeBody[model.Job](t, rec)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "acme", job.TenantID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 3, job.MaxRetries)
}

func TestSubmitJob_DefaultTenant(t *testing.T) {
	f := newAPIFixture(t, 5, 10)

	rec := f.do(t, http.MethodPost, "/api/jobs", "", `{"payload":"resize-image"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, model.DefaultTenantID, decodeBody[model.Job](t, rec).TenantID)
}

func TestSubmitJob_Idempotent(t *testing.T) {
	f := newAPIFixture(t, 5, 10)
	body := `{"payload":"resize-image","idempotencyKey":"order-42"}`

	first := f.do(t, http.MethodPost, "/api/jobs", "acme", body)
	require.Equal(t, http.StatusCreated, first.Code)
	created := decodeBody[model.Job](t, first)
	require.NotNil(t, created.IdempotencyKey)
	assert.Equal(t, "order-42", *created.IdempotencyKey)

	second := f.do(t, http.MethodPost, "/api/jobs", "acme", body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, created.ID, decodeBody[model.Job](t, second).ID)
}

func TestSubmitJob_BadInput(t *testing.T) {
	f := newAPIFixture(t, 5, 10)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "malformed", body: `{"payload":`},
		{name: "unknown field", body: `{"payload":"x","priority":1}`},
		{name: "blank payload", body: `{"payload":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/jobs", "acme", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, ErrCodeInvalidInput, decodeBody[map[string]string](t, rec)["error"])
		})
	}
}

func TestSubmitJob_RateLimited(t *testing.T) {
	f := newAPIFixture(t, 1, 10)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/api/jobs", "acme", `{"payload":"first"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeBody[model.Job](t, rec)

	ok, err := f.store.TryLease(ctx, model.LeaseRequest{ID: first.ID, Expected: model.JobStatusPending, New: model.JobStatusRunning})
	require.NoError(t, err)
	require.True(t, ok)

	rec = f.do(t, http.MethodPost, "/api/jobs", "acme", `{"payload":"second"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, ErrCodeRateLimitExceeded, decodeBody[map[string]string](t, rec)["error"])

	rec = f.do(t, http.MethodPost, "/api/jobs", "globex", `{"payload":"other tenant"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetJob(t *testing.T) {
	f := newAPIFixture(t, 5, 10)

	rec := f.do(t, http.MethodPost, "/api/jobs", "acme", `{"payload":"x"}`)
	created := decodeBody[model.Job](t, rec)

	rec = f.do(t, http.MethodGet, "/api/jobs/"+created.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeBody[model.Job](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/jobs/does-not-exist", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decodeBody[map[string]string](t, rec)["error"])
}

func TestListJobsByStatus(t *testing.T) {
	f := newAPIFixture(t, 5, 10)
	for range 3 {
		f.do(t, http.MethodPost, "/api/jobs", "acme", `{"payload":"x"}`)
		f.clock.AddTime(time.Second)
	}

	rec := f.do(t, http.MethodGet, "/api/jobs/status/pending?limit=2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decodeBody[[]model.Job](t, rec)
	require.Len(t, jobs, 2)
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))

	rec = f.do(t, http.MethodGet, "/api/jobs/status/DLQ", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/jobs/status/archived", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeInvalidInput, decodeBody[map[string]string](t, rec)["error"])
}

func TestDashboard(t *testing.T) {
	f := newAPIFixture(t, 5, 10)
	f.do(t, http.MethodPost, "/api/jobs", "acme", `{"payload":"x"}`)
	f.do(t, http.MethodPost, "/api/jobs", "acme", `{"payload":"y"}`)

	rec := f.do(t, http.MethodGet, "/api/dashboard/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[model.JobStats](t, rec)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 2, stats.Total)

	rec = f.do(t, http.MethodGet, "/api/dashboard/jobs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	grouped := decodeBody[map[string][]model.Job](t, rec)
	assert.Len(t, grouped["pending"], 2)
	assert.Contains(t, grouped, "dlq")
}

func TestRouter_MetricsAndReadiness(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jobqueue_jobs 1\n"))
	})
	router := NewRouter(RouterServices{
		Metrics: metrics,
		ReadyChecks: map[string]ReadyCheck{
			"store": func(context.Context) error { return nil },
			"cache": func(context.Context) error { return errors.New("dial tcp: connection refused") },
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jobqueue_jobs 1\n", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, false, body["ready"])
	checks, ok := body["checks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", checks["store"])
	assert.Equal(t, "dial tcp: connection refused", checks["cache"])
}

func TestRouter_RecoversPanics(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), Recover(testLogger(&bytes.Buffer{})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrCodeInternal, decodeBody[map[string]string](t, rec)["error"])
}
