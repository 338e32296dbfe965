// Package scheduler provides adapters for running the lease scheduler.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	obserrors "github.com/target/mmk-jobqueue/internal/observability/errors"
	"github.com/target/mmk-jobqueue/internal/observability/metrics"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
	"github.com/target/mmk-jobqueue/internal/service"
)

// DefaultDelay is used when RunnerOptions.Delay is not set.
const DefaultDelay = 5 * time.Second

// Iterator is the single-iteration contract Runner drives. service.LeaseScheduler implements it.
type Iterator interface {
	RunOnce(ctx context.Context) (service.IterationResult, error)
}

var _ Iterator = (*service.LeaseScheduler)(nil)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Scheduler Iterator      // Required: one lease-execute-acknowledge iteration per call
	Delay     time.Duration // Optional: pause between the end of one iteration and the next
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// Runner drives the lease scheduler at a fixed delay. The delay is measured from the end of
// the previous iteration, so a slow job never causes iterations to overlap.
type Runner struct {
	scheduler Iterator
	delay     time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a new scheduler runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Runner{
		scheduler: opts.Scheduler,
		delay:     opts.Delay,
		logger:    opts.Logger.With("component", "scheduler_runner"),
		metrics:   opts.Metrics,
	}, nil
}

// Run runs iterations until the context is cancelled.
// Iteration errors are logged and the loop continues.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler runner", "delay", r.delay)

	timer := time.NewTimer(r.delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-timer.C:
			r.iterate(ctx)
			timer.Reset(r.delay)
		}
	}
}

// Start runs the loop in the background. Calling Start on a running Runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		if err := r.Run(ctx); err != nil {
			r.logger.Error("scheduler runner exited", "error", err)
		}
	}()
}

// Stop cancels a started loop and waits for the in-flight iteration to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runner) iterate(ctx context.Context) {
	start := time.Now()
	res, err := r.scheduler.RunOnce(ctx)
	elapsed := time.Since(start)

	r.emitIterationMetrics(res, elapsed, err)

	switch {
	case err != nil && ctx.Err() != nil:
		r.logger.DebugContext(ctx, "scheduler iteration interrupted", "error", err)
	case err != nil:
		r.logger.ErrorContext(ctx, "scheduler iteration failed", "error", err)
	case res.Worked():
		r.logger.DebugContext(ctx, "scheduler iteration processed job",
			"id", res.Job.ID,
			"status", res.Job.Status,
			"lost_races", res.LostRaces,
			"elapsed", elapsed,
		)
	}
}

func (r *Runner) emitIterationMetrics(res service.IterationResult, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if !res.Worked() {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("scheduler.iteration", 1, tags)
	if res.LostRaces > 0 {
		r.metrics.Count("scheduler.lost_races", int64(res.LostRaces), metrics.CloneTags(tags))
	}
	if elapsed > 0 {
		r.metrics.Timing("scheduler.iteration_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil {
		r.metrics.Gauge("scheduler.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}
