package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	apperrors "github.com/target/mmk-jobqueue/internal/errors"
	"github.com/target/mmk-jobqueue/internal/observability/metrics"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
)

// RunningCounter is the slice of JobStore the admission controller reads.
type RunningCounter interface {
	CountByTenantAndStatus(ctx context.Context, tenantID string, status model.JobStatus) (int, error)
}

var _ RunningCounter = (core.JobStore)(nil)

// RateWindow is a per-tenant sliding window log of accepted submissions.
// Pruning, the size check and recording happen under one lock so the limit cannot be overshot.
type RateWindow struct {
	mu       sync.Mutex
	start    time.Time
	accepted []time.Time
	limit    int
	size     time.Duration
}

// NewRateWindow creates an empty window opened at start.
func NewRateWindow(start time.Time, limit int, size time.Duration) *RateWindow {
	return &RateWindow{start: start, limit: limit, size: size}
}

// TryAcquire prunes entries older than the window, then records now if fewer than limit remain.
func (w *RateWindow) TryAcquire(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	if len(w.accepted) >= w.limit {
		return false
	}
	w.accepted = append(w.accepted, now)
	return true
}

// Len returns the number of acceptances still inside the window at now.
func (w *RateWindow) Len(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	return len(w.accepted)
}

// Start returns when the window was opened.
func (w *RateWindow) Start() time.Time {
	return w.start
}

func (w *RateWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.size)
	keep := 0
	for keep < len(w.accepted) && w.accepted[keep].Before(cutoff) {
		keep++
	}
	if keep > 0 {
		w.accepted = append(w.accepted[:0], w.accepted[keep:]...)
	}
}

// AdmissionControllerOptions groups dependencies for AdmissionController.
type AdmissionControllerOptions struct {
	Store                      RunningCounter   // Required: source of per-tenant RUNNING counts
	MaxConcurrentJobsPerTenant int              // Required: RUNNING cap, > 0
	MaxJobsPerWindow           int              // Required: acceptances per window, > 0
	WindowSize                 time.Duration    // Required: sliding window length, > 0
	Now                        func() time.Time // Optional: clock, defaults to time.Now
	Logger                     *slog.Logger     // Optional: structured logger
	Metrics                    statsd.Sink      // Optional: metrics sink
}

// AdmissionController decides whether a tenant may submit another job.
//
// Rate windows live in a sync.Map keyed by tenant and are created lazily.
// Each window carries its own mutex, so tenants never contend with each other.
type AdmissionController struct {
	store         RunningCounter
	maxConcurrent int
	maxPerWindow  int
	windowSize    time.Duration
	windows       sync.Map
	now           func() time.Time
	logger        *slog.Logger
	metrics       statsd.Sink
}

// NewAdmissionController constructs a new AdmissionController.
func NewAdmissionController(opts AdmissionControllerOptions) (*AdmissionController, error) {
	if opts.Store == nil {
		return nil, errors.New("RunningCounter is required")
	}
	if opts.MaxConcurrentJobsPerTenant <= 0 {
		return nil, errors.New("MaxConcurrentJobsPerTenant must be positive")
	}
	if opts.MaxJobsPerWindow <= 0 {
		return nil, errors.New("MaxJobsPerWindow must be positive")
	}
	if opts.WindowSize <= 0 {
		return nil, errors.New("WindowSize must be positive")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "admission_controller")
		logger.Debug("AdmissionController initialized",
			"max_concurrent", opts.MaxConcurrentJobsPerTenant,
			"max_per_window", opts.MaxJobsPerWindow,
			"window_size", opts.WindowSize,
		)
	}

	return &AdmissionController{
		store:         opts.Store,
		maxConcurrent: opts.MaxConcurrentJobsPerTenant,
		maxPerWindow:  opts.MaxJobsPerWindow,
		windowSize:    opts.WindowSize,
		now:           now,
		logger:        logger,
		metrics:       opts.Metrics,
	}, nil
}

// MustNewAdmissionController constructs a new AdmissionController and panics on error.
func MustNewAdmissionController(opts AdmissionControllerOptions) *AdmissionController {
	ac, err := NewAdmissionController(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AdmissionController: %v", err))
	}
	return ac
}

// CanSubmit reports whether tenantID may submit now. The concurrency check runs first; a rejection
// there does not consume window capacity. An accepted call records one entry in the tenant's window.
func (a *AdmissionController) CanSubmit(ctx context.Context, tenantID string) (bool, error) {
	running, err := a.store.CountByTenantAndStatus(ctx, tenantID, model.JobStatusRunning)
	if err != nil {
		return false, fmt.Errorf("count running jobs: %w", err)
	}
	if running >= a.maxConcurrent {
		a.reject(ctx, tenantID, "concurrency", "running", running, "limit", a.maxConcurrent)
		return false, nil
	}

	now := a.now()
	if !a.window(tenantID, now).TryAcquire(now) {
		a.reject(ctx, tenantID, "rate_limit", "limit", a.maxPerWindow, "window", a.windowSize)
		return false, nil
	}

	metrics.EmitAdmission(a.metrics, metrics.AdmissionMetric{Result: metrics.ResultSuccess})
	return true, nil
}

// Admit is CanSubmit with a rejection reported as a rate_limit_exceeded AppError.
func (a *AdmissionController) Admit(ctx context.Context, tenantID string) error {
	ok, err := a.CanSubmit(ctx, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.RateLimitExceeded(tenantID)
	}
	return nil
}

// WindowLen returns how many acceptances tenantID has inside its current window.
func (a *AdmissionController) WindowLen(tenantID string) int {
	v, ok := a.windows.Load(tenantID)
	if !ok {
		return 0
	}
	w, _ := v.(*RateWindow)
	return w.Len(a.now())
}

func (a *AdmissionController) window(tenantID string, now time.Time) *RateWindow {
	if v, ok := a.windows.Load(tenantID); ok {
		return v.(*RateWindow) //nolint:forcetypeassert // only *RateWindow is stored
	}
	v, _ := a.windows.LoadOrStore(tenantID, NewRateWindow(now, a.maxPerWindow, a.windowSize))
	return v.(*RateWindow) //nolint:forcetypeassert // only *RateWindow is stored
}

func (a *AdmissionController) reject(ctx context.Context, tenantID, reason string, attrs ...any) {
	metrics.EmitAdmission(a.metrics, metrics.AdmissionMetric{Result: metrics.ResultRejected, Reason: reason})
	if a.logger == nil {
		return
	}
	args := append([]any{"tenant_id", tenantID, "reason", reason}, attrs...)
	a.logger.WarnContext(ctx, "submission rejected", args...)
}
