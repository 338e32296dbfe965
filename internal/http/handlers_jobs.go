// Package httpx provides the HTTP API of the job queue.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/mmk-jobqueue/internal/domain/model"
	apperrors "github.com/target/mmk-jobqueue/internal/errors"
	"github.com/target/mmk-jobqueue/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc    *service.JobService
	Logger *slog.Logger
}

// Submit handles HTTP requests to submit a job for the tenant named by X-Tenant-Id.
// It answers 201 for a new job and 200 when an idempotent duplicate is returned.
func (h *JobHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if tenant, ok := TenantFromContext(r.Context()); ok {
		req.TenantID = tenant
	}

	res, err := h.Svc.Submit(r.Context(), &req)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}

	code := http.StatusCreated
	if res.Existing {
		code = http.StatusOK
	}
	WriteJSON(w, code, res.Job)
}

// Get handles HTTP requests to retrieve a single job.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListByStatus handles HTTP requests to list jobs in one status, newest first.
// The status path segment is matched case-insensitively.
func (h *JobHandlers) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := model.ParseJobStatus(r.PathValue("status"))
	if err != nil {
		WriteAppError(w, r, h.Logger, apperrors.ValidationField("status", err.Error()))
		return
	}
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)

	jobs, err := h.Svc.ListByStatus(r.Context(), model.JobListOptions{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// DashboardStats handles HTTP requests for job counts per status.
func (h *JobHandlers) DashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// DashboardJobs handles HTTP requests for jobs grouped by status.
func (h *JobHandlers) DashboardJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := ParseLimitOffset(r, defaultListLimit, maxListLimit)

	grouped, err := h.Svc.JobsGroupedByStatus(r.Context(), limit)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, grouped)
}
