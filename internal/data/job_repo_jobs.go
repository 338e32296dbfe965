package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/data/pgxutil"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	apperrors "github.com/target/mmk-jobqueue/internal/errors"
)

const insertJobSQL = `
  INSERT INTO jobs (
    id, tenant_id, status, payload, idempotency_key, retry_count, max_retries, created_at, updated_at
  ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
  RETURNING ` + jobColumns

// Create inserts a new job. Missing ID, status and timestamps are filled in.
// A collision on the idempotency key is reported as ErrDuplicateIdempotencyKey.
func (r *JobRepo) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	if job == nil {
		return nil, ErrJobRequired
	}

	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := job.Status
	if status == "" {
		status = model.JobStatusPending
	}
	now := r.timeProvider.Now().UTC()

	var created *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qErr := tx.Query(ctx, insertJobSQL,
				id,
				job.TenantID,
				status,
				job.Payload,
				nullableString(job.IdempotencyKey),
				job.RetryCount,
				job.MaxRetries,
				now,
			)
			if qErr != nil {
				return qErr
			}
			defer rows.Close()
			var collectErr error
			created, collectErr = collectJobFromRows(rows)
			return collectErr
		},
	})
	if err != nil {
		if apperrors.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %w", ErrDuplicateIdempotencyKey, err)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return created, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return nil, ErrJobNotFound
	}
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
}

// FindByIdempotencyKey returns the job holding key, or (nil, nil) when none does.
func (r *JobRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.Job, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	job, err := r.getOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key)
	if errors.Is(err, ErrJobNotFound) {
		return nil, nil
	}
	return job, err
}

func (r *JobRepo) getOne(ctx context.Context, query string, arg any) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query, arg)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

// TryLease moves a job from req.Expected to req.New in a single conditional UPDATE.
// It reports true only for the caller whose update matched the expected status.
func (r *JobRepo) TryLease(ctx context.Context, req model.LeaseRequest) (bool, error) {
	if _, parseErr := uuid.Parse(req.ID); parseErr != nil {
		return false, nil
	}
	at := req.At
	if at.IsZero() {
		at = r.timeProvider.Now()
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = $3,
		    leased_at = $4,
		    started_at = $4,
		    updated_at = $4
		WHERE id = $1 AND status = $2
	`, req.ID, req.Expected, req.New, at.UTC())
	if err != nil {
		return false, fmt.Errorf("lease job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

const completeJobSQL = `
  UPDATE jobs
  SET status = 'COMPLETED',
      completed_at = $2,
      updated_at = $2,
      error_message = NULL
  WHERE id = $1 AND status = 'RUNNING'
  RETURNING ` + jobColumns

const retryJobSQL = `
  UPDATE jobs
  SET status = 'PENDING',
      retry_count = retry_count + 1,
      error_message = $2,
      leased_at = NULL,
      started_at = NULL,
      updated_at = $3
  WHERE id = $1 AND status = 'RUNNING' AND retry_count < max_retries
  RETURNING ` + jobColumns

const deadLetterJobSQL = `
  UPDATE jobs
  SET status = 'DLQ',
      error_message = $2,
      completed_at = $3,
      updated_at = $3
  WHERE id = $1 AND status = 'RUNNING'
  RETURNING ` + jobColumns

// Complete marks a RUNNING job as completed and returns the updated row.
func (r *JobRepo) Complete(ctx context.Context, params core.TransitionParams) (*model.Job, error) {
	at := r.transitionTime(params)
	return r.transition(ctx, params.ID, "complete", completeJobSQL, params.ID, at)
}

// Retry returns a RUNNING job to PENDING with its retry count incremented.
func (r *JobRepo) Retry(ctx context.Context, params core.TransitionParams) (*model.Job, error) {
	at := r.transitionTime(params)
	return r.transition(ctx, params.ID, "retry", retryJobSQL, params.ID, params.ErrorMessage, at)
}

// DeadLetter moves a RUNNING job to the DLQ, preserving the final error message.
func (r *JobRepo) DeadLetter(ctx context.Context, params core.TransitionParams) (*model.Job, error) {
	at := r.transitionTime(params)
	return r.transition(ctx, params.ID, "dead letter", deadLetterJobSQL, params.ID, params.ErrorMessage, at)
}

func (r *JobRepo) transitionTime(params core.TransitionParams) time.Time {
	if params.At.IsZero() {
		return r.timeProvider.Now().UTC()
	}
	return params.At.UTC()
}

func (r *JobRepo) transition(ctx context.Context, id, name, query string, args ...any) (*model.Job, error) {
	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return nil, ErrJobNotFound
	}

	job, err := scanJobFromRow(r.DB.QueryRowContext(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s job: %w", name, err)
	}
	return nil, r.explainMiss(ctx, id)
}

// explainMiss resolves why a RUNNING-conditional update matched no row.
func (r *JobRepo) explainMiss(ctx context.Context, id string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != model.JobStatusRunning {
		return fmt.Errorf("%w: job %s is %s", ErrJobNotRunning, id, current.Status)
	}
	return fmt.Errorf("%w: job %s", ErrRetryBudgetExhausted, id)
}
