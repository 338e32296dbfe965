package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/adapters/reaper"
	"github.com/target/mmk-jobqueue/internal/bootstrap"
	"github.com/target/mmk-jobqueue/internal/data"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
)

func newMigrateCmd(a *app) *cobra.Command {
	var (
		timeout time.Duration
		status  bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL migrations (SQLite applies its schema on open)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Store.Driver != config.StoreDriverPostgres {
				return writef(cmd.OutOrStdout(), "store driver %q has no migrations to apply\n", a.cfg.Store.Driver)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{DBConfig: a.cfg.Postgres, Logger: a.logger})
			if err != nil {
				return err
			}
			defer func() {
				if cerr := db.Close(); cerr != nil {
					a.logger.Warn("db close failed", "error", cerr)
				}
			}()

			if status {
				pending, perr := data.PendingMigrations(ctx, db)
				if perr != nil {
					return fmt.Errorf("list pending migrations: %w", perr)
				}
				return renderPendingMigrations(cmd.OutOrStdout(), pending)
			}
			return bootstrap.RunMigrations(ctx, db, a.logger)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultMigrationTimeout, "maximum time to wait for migrations")
	cmd.Flags().BoolVar(&status, "status", false, "list pending migrations without applying them")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(ctx context.Context, store *bootstrap.Store) error {
				stats, err := store.Backend.Stats(ctx)
				if err != nil {
					return fmt.Errorf("load stats: %w", err)
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), stats)
				}
				return renderStats(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print a single job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(ctx context.Context, store *bootstrap.Store) error {
				job, err := store.Backend.GetByID(ctx, args[0])
				if err != nil {
					if errors.Is(err, data.ErrJobNotFound) {
						return fmt.Errorf("job %s not found", args[0])
					}
					return fmt.Errorf("get job: %w", err)
				}
				return writeJSON(cmd.OutOrStdout(), job)
			})
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list <status>",
		Short: "List jobs in a status, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := model.ParseJobStatus(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(ctx context.Context, store *bootstrap.Store) error {
				jobs, lerr := store.Backend.ListByStatus(ctx, model.JobListOptions{
					Status: status,
					Limit:  limit,
					Offset: offset,
				})
				if lerr != nil {
					return fmt.Errorf("list jobs: %w", lerr)
				}
				return renderJobs(cmd.OutOrStdout(), jobs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to print")
	cmd.Flags().IntVar(&offset, "offset", 0, "jobs to skip")
	return cmd
}

func newReconcileCmd(a *app) *cobra.Command {
	var leaseDuration time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reaper sweep: requeue expired leases and prune finished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if leaseDuration <= 0 {
				leaseDuration = a.cfg.Worker.LeaseDuration()
			}
			return a.withStore(cmd.Context(), func(ctx context.Context, store *bootstrap.Store) error {
				runner, err := reaper.NewRunner(reaper.RunnerOptions{
					Repo:          store.Backend,
					Config:        a.cfg.Reaper,
					LeaseDuration: leaseDuration,
					Logger:        a.logger,
					Metrics:       &statsd.Recorder{},
				})
				if err != nil {
					return err
				}
				report, err := runner.Sweep(ctx)
				if rerr := renderCleanupReport(cmd.OutOrStdout(), report); rerr != nil {
					return errors.Join(err, rerr)
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&leaseDuration, "lease-duration", 0, "lease staleness threshold (defaults to WORKER_LEASE_DURATION_SECONDS)")
	return cmd
}
