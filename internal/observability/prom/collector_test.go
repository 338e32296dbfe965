package prom

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/internal/domain/model"
)

type stubCounter struct {
	counts map[model.JobStatus]int
	err    error
}

func (s *stubCounter) CountByStatus(_ context.Context, status model.JobStatus) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.counts[status], nil
}

func gaugeValues(t *testing.T, counter StatusCounter) map[string]float64 {
	t.Helper()

	families, err := NewRegistry(RegistryOptions{Counter: counter}).Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "jobqueue_jobs", families[0].GetName())

	out := map[string]float64{}
	for _, m := range families[0].GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status" {
				out[lp.GetValue()] = m.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestNewRegistry_GaugePerStatus(t *testing.T) {
	got := gaugeValues(t, &stubCounter{counts: map[model.JobStatus]int{
		model.JobStatusPending: 4,
		model.JobStatusRunning: 1,
		model.JobStatusDLQ:     2,
	}})

	assert.Equal(t, map[string]float64{
		"pending":   4,
		"running":   1,
		"completed": 0,
		"failed":    0,
		"dlq":       2,
	}, got)
}

func TestNewRegistry_CountFailureReportsNegative(t *testing.T) {
	got := gaugeValues(t, &stubCounter{err: errors.New("db down")})
	for status, v := range got {
		assert.InDelta(t, -1, v, 0, status)
	}
}

func TestHandler(t *testing.T) {
	reg := NewRegistry(RegistryOptions{
		Counter:           &stubCounter{counts: map[model.JobStatus]int{model.JobStatusCompleted: 9}},
		RuntimeCollectors: true,
	})

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `jobqueue_jobs{status="completed"} 9`)
	assert.Contains(t, string(body), "go_goroutines")
}
