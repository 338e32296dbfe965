package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
const (
	advisoryLockReaperMajor   = 1000
	advisoryLockReaperRequeue = 1 // minor key for RequeueExpiredLeases
	advisoryLockReaperDelete  = 2 // minor key for DeleteOldJobs
)

// RequeueExpiredLeases returns RUNNING jobs leased before expiry to PENDING.
// The retry count is left untouched: an abandoned lease is not a failed attempt.
// Uses advisory locks to prevent concurrent reaper instances from conflicting.
func (r *JobRepo) RequeueExpiredLeases(ctx context.Context, expiry time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	return r.withReaperLock(ctx, advisoryLockReaperRequeue, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'PENDING',
			    leased_at = NULL,
			    started_at = NULL,
			    updated_at = $1
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = 'RUNNING'
				  AND leased_at < $2
				ORDER BY leased_at
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
		`, r.timeProvider.Now().UTC(), expiry.UTC(), batchSize)
	})
}

// DeleteOldJobs deletes jobs with the given status older than maxAge.
// Processes up to batchSize jobs per call to prevent long locks and I/O spikes.
// Returns the number of jobs deleted.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Valid() {
		return 0, fmt.Errorf("invalid job status: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	cutoffTime := r.timeProvider.Now().Add(-params.MaxAge).UTC()
	return r.withReaperLock(ctx, advisoryLockReaperDelete, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = $1
				  AND (completed_at < $2 OR (completed_at IS NULL AND updated_at < $2))
				ORDER BY COALESCE(completed_at, updated_at)
				LIMIT $3
			)
		`, params.Status, cutoffTime, params.BatchSize)
	})
}

// withReaperLock runs exec inside a transaction holding the reaper advisory lock for minor.
// When another instance holds the lock the call is a no-op returning zero rows.
func (r *JobRepo) withReaperLock(
	ctx context.Context,
	minor int,
	exec func(*sql.Tx) (sql.Result, error),
) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				r.logger.DebugContext(ctx, "reaper lock held elsewhere", "minor", minor)
				return nil
			}

			res, err := exec(tx)
			if err != nil {
				return fmt.Errorf("reaper statement: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
