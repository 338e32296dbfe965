package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// sqliteTimeLayout is fixed width so lexical comparison in SQL matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		error_message TEXT,
		leased_at TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (retry_count <= max_retries)
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created_at ON jobs(status, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_jobs_tenant_status ON jobs(tenant_id, status);
`

// SQLiteJobRepo is a single-file JobStore for deployments without PostgreSQL.
type SQLiteJobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer. A single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err = db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// NewSQLiteJobRepo wraps an opened SQLite handle.
func NewSQLiteJobRepo(db *sql.DB, cfg RepoConfig) *SQLiteJobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteJobRepo{DB: db, timeProvider: tp, logger: logger.With("component", "sqlite_job_repo")}
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullableSQLiteTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseSQLiteTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSQLiteJob(scanner jobRowScanner) (*model.Job, error) {
	var (
		job                              model.Job
		key, errMsg                      sql.NullString
		leasedAt, startedAt, completedAt sql.NullString
		createdAt, updatedAt             string
	)
	if err := scanner.Scan(
		&job.ID, &job.TenantID, &job.Status, &job.Payload, &key,
		&job.RetryCount, &job.MaxRetries, &errMsg,
		&leasedAt, &startedAt, &completedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	job.IdempotencyKey = cloneNullableString(key)
	job.ErrorMessage = cloneNullableString(errMsg)

	var err error
	if job.LeasedAt, err = parseNullableSQLiteTime(leasedAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNullableSQLiteTime(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullableSQLiteTime(completedAt); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqErr sqlite3.Error
	return errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Create inserts a new job. Missing ID, status and timestamps are filled in.
func (r *SQLiteJobRepo) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
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
	now := formatSQLiteTime(r.timeProvider.Now())

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO jobs (id, tenant_id, status, payload, idempotency_key, retry_count, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+jobColumns,
		id, job.TenantID, string(status), job.Payload, nullableString(job.IdempotencyKey),
		job.RetryCount, job.MaxRetries, now, now,
	)
	created, err := scanSQLiteJob(row)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %w", ErrDuplicateIdempotencyKey, err)
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return created, nil
}

// GetByID retrieves a job by its ID.
func (r *SQLiteJobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanSQLiteJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// FindByIdempotencyKey returns the job holding key, or (nil, nil) when none does.
func (r *SQLiteJobRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.Job, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	job, err := scanSQLiteJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job by idempotency key: %w", err)
	}
	return job, nil
}

// CountByTenantAndStatus returns how many of a tenant's jobs are in status.
func (r *SQLiteJobRepo) CountByTenantAndStatus(ctx context.Context, tenantID string, status model.JobStatus) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM jobs WHERE tenant_id = ? AND status = ?`, tenantID, string(status),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs by tenant and status: %w", err)
	}
	return n, nil
}

// CountByStatus returns how many jobs are in status.
func (r *SQLiteJobRepo) CountByStatus(ctx context.Context, status model.JobStatus) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE status = ?`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs by status: %w", err)
	}
	return n, nil
}

// FindLeasableCandidates returns unleased or lease-expired jobs in q.Status, oldest first.
func (r *SQLiteJobRepo) FindLeasableCandidates(ctx context.Context, q core.CandidateQuery) ([]*model.Job, error) {
	if !q.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidStatus, q.Status)
	}
	return r.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND (leased_at IS NULL OR leased_at < ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		string(q.Status), formatSQLiteTime(q.Expiry), normalizeCandidateLimit(q.Limit),
	)
}

// ListByStatus returns jobs in the given status, newest first.
func (r *SQLiteJobRepo) ListByStatus(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	if !opts.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidStatus, opts.Status)
	}
	limit, offset := normalizeListWindow(opts.Limit, opts.Offset)
	return r.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		string(opts.Status), limit, offset,
	)
}

func (r *SQLiteJobRepo) queryJobs(ctx context.Context, query string, args ...any) ([]*model.Job, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*model.Job, 0)
	for rows.Next() {
		job, scanErr := scanSQLiteJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// TryLease moves a job from req.Expected to req.New with a single conditional UPDATE.
func (r *SQLiteJobRepo) TryLease(ctx context.Context, req model.LeaseRequest) (bool, error) {
	at := req.At
	if at.IsZero() {
		at = r.timeProvider.Now()
	}
	ts := formatSQLiteTime(at)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, leased_at = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(req.New), ts, ts, ts, req.ID, string(req.Expected),
	)
	if err != nil {
		return false, fmt.Errorf("lease job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Complete marks a RUNNING job as completed.
func (r *SQLiteJobRepo) Complete(ctx context.Context, params core.TransitionParams) (*model.Job, error) {
	ts := r.transitionTime(params)
	return r.transition(ctx, params.ID, "complete", `
		UPDATE jobs
		SET status = 'COMPLETED', completed_at = ?, updated_at = ?, error_message = NULL
		WHERE id = ? AND status = 'RUNNING'
		RETURNING `+jobColumns,
		ts, ts, params.ID,
	)
}

// Retry returns a RUNNING job to PENDING with its retry count incremented.
func (r *SQLiteJobRepo) Retry(ctx context.Context, params core.TransitionParams) (*model.Job, error) {
	ts := r.transitionTime(params)
	return r.transition(ctx, params.ID, "retry", `
		UPDATE jobs
		SET status = 'PENDING', retry_count = retry_count + 1, error_message = ?,
		    leased_at = NULL, started_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'RUNNING' AND retry_count < max_retries
		RETURNING `+jobColumns,
		params.ErrorMessage, ts, params.ID,
	)
}

// DeadLetter moves a RUNNING job to the DLQ.
func (r *SQLiteJobRepo) DeadLetter(ctx context.Context, params core.TransitionParams) (*model.Job, error) {
	ts := r.transitionTime(params)
	return r.transition(ctx, params.ID, "dead letter", `
		UPDATE jobs
		SET status = 'DLQ', error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'RUNNING'
		RETURNING `+jobColumns,
		params.ErrorMessage, ts, ts, params.ID,
	)
}

func (r *SQLiteJobRepo) transitionTime(params core.TransitionParams) string {
	if params.At.IsZero() {
		return formatSQLiteTime(r.timeProvider.Now())
	}
	return formatSQLiteTime(params.At)
}

func (r *SQLiteJobRepo) transition(ctx context.Context, id, name, query string, args ...any) (*model.Job, error) {
	job, err := scanSQLiteJob(r.DB.QueryRowContext(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s job: %w", name, err)
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status != model.JobStatusRunning {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotRunning, id, current.Status)
	}
	return nil, fmt.Errorf("%w: job %s", ErrRetryBudgetExhausted, id)
}

// Stats returns job counts per status.
func (r *SQLiteJobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(status = 'PENDING'), 0),
			COALESCE(SUM(status = 'RUNNING'), 0),
			COALESCE(SUM(status = 'COMPLETED'), 0),
			COALESCE(SUM(status = 'FAILED'), 0),
			COALESCE(SUM(status = 'DLQ'), 0),
			count(*)
		FROM jobs`,
	).Scan(&s.Pending, &s.Running, &s.Completed, &s.Failed, &s.DLQ, &s.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

// RequeueExpiredLeases returns RUNNING jobs leased before expiry to PENDING.
func (r *SQLiteJobRepo) RequeueExpiredLeases(ctx context.Context, expiry time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'PENDING', leased_at = NULL, started_at = NULL, updated_at = ?
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'RUNNING' AND leased_at < ?
			ORDER BY leased_at
			LIMIT ?
		)`,
		formatSQLiteTime(r.timeProvider.Now()), formatSQLiteTime(expiry), batchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue expired leases: %w", err)
	}
	return res.RowsAffected()
}

// DeleteOldJobs deletes up to params.BatchSize jobs in params.Status older than params.MaxAge.
func (r *SQLiteJobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Valid() {
		return 0, fmt.Errorf("invalid job status: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	cutoff := formatSQLiteTime(r.timeProvider.Now().Add(-params.MaxAge))
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = ? AND COALESCE(completed_at, updated_at) < ?
			ORDER BY COALESCE(completed_at, updated_at)
			LIMIT ?
		)`,
		string(params.Status), cutoff, params.BatchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return res.RowsAffected()
}
