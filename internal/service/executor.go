package service

import (
	"context"
	"log/slog"

	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// LogExecutor is the default Executor. It records the job and reports success.
// Deployments replace it with the executor that runs their payloads.
type LogExecutor struct {
	logger *slog.Logger
}

var _ core.Executor = (*LogExecutor)(nil)

// NewLogExecutor creates a LogExecutor. A nil logger uses slog.Default.
func NewLogExecutor(logger *slog.Logger) *LogExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExecutor{logger: logger.With("component", "log_executor")}
}

// Execute logs the job and succeeds unless ctx is already done.
func (e *LogExecutor) Execute(ctx context.Context, job *model.Job) model.ExecutionResult {
	if err := ctx.Err(); err != nil {
		return model.ExecutionResult{Success: false, ErrorMessage: err.Error()}
	}
	e.logger.InfoContext(ctx, "executing job",
		"id", job.ID,
		"tenant_id", job.TenantID,
		"attempt", job.RetryCount+1,
		"payload_bytes", len(job.Payload),
	)
	return model.ExecutionResult{Success: true}
}

// ExecutorFunc adapts a function to core.Executor.
type ExecutorFunc func(ctx context.Context, job *model.Job) model.ExecutionResult

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job *model.Job) model.ExecutionResult {
	return f(ctx, job)
}
