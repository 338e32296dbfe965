package data

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/data/pgxutil"
	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// CountByTenantAndStatus returns how many of a tenant's jobs are in status.
func (r *JobRepo) CountByTenantAndStatus(ctx context.Context, tenantID string, status model.JobStatus) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM jobs WHERE tenant_id = $1 AND status = $2`,
		tenantID, status,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs by tenant and status: %w", err)
	}
	return n, nil
}

// CountByStatus returns how many jobs are in status across all tenants.
func (r *JobRepo) CountByStatus(ctx context.Context, status model.JobStatus) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM jobs WHERE status = $1`, status,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs by status: %w", err)
	}
	return n, nil
}

// FindLeasableCandidates returns jobs in q.Status that hold no lease or whose lease predates q.Expiry.
// Results are ordered oldest first so the scheduler walks them FIFO.
func (r *JobRepo) FindLeasableCandidates(ctx context.Context, q core.CandidateQuery) ([]*model.Job, error) {
	if !q.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidStatus, q.Status)
	}
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND (leased_at IS NULL OR leased_at < $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`
	return r.queryJobs(ctx, query, q.Status, q.Expiry.UTC(), normalizeCandidateLimit(q.Limit))
}

// ListByStatus returns jobs in the given status, newest first.
func (r *JobRepo) ListByStatus(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	if !opts.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidStatus, opts.Status)
	}
	limit, offset := normalizeListWindow(opts.Limit, opts.Offset)

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryJobs(ctx, query, opts.Status, limit, offset)
}

func (r *JobRepo) queryJobs(ctx context.Context, query string, args ...any) ([]*model.Job, error) {
	result := make([]*model.Job, 0)
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			job, scanErr := scanJobFromRow(rows)
			if scanErr != nil {
				return fmt.Errorf("scan job: %w", scanErr)
			}
			result = append(result, job)
		}
		return rows.Err()
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// Stats returns job counts per status.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'PENDING')   AS pending,
    count(*) FILTER (WHERE status = 'RUNNING')   AS running,
    count(*) FILTER (WHERE status = 'COMPLETED') AS completed,
    count(*) FILTER (WHERE status = 'FAILED')    AS failed,
    count(*) FILTER (WHERE status = 'DLQ')       AS dlq,
    count(*)                                     AS total
  FROM jobs
  `).Scan(
		&s.Pending,
		&s.Running,
		&s.Completed,
		&s.Failed,
		&s.DLQ,
		&s.Total,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}
