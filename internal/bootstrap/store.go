package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/data"
)

// StoreBackend is a JobStore that also supports reaper reconciliation.
// Every driver in internal/data satisfies it.
type StoreBackend interface {
	core.JobStore
	core.ReaperRepository
}

var (
	_ StoreBackend = (*data.JobRepo)(nil)
	_ StoreBackend = (*data.SQLiteJobRepo)(nil)
	_ StoreBackend = (*data.MemoryJobStore)(nil)
)

// Store is an opened job store together with the handle that backs it.
type Store struct {
	Backend StoreBackend
	Driver  config.StoreDriver
	// DB is nil for the memory driver.
	DB *sql.DB
}

// Close releases the underlying database handle, if any.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Ping verifies the store answers queries. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.Backend == nil {
		return errors.New("store not initialized")
	}
	if s.DB != nil {
		return s.DB.PingContext(ctx)
	}
	_, err := s.Backend.Stats(ctx)
	return err
}

// StoreOptions configures OpenStore.
type StoreOptions struct {
	Store    config.StoreConfig
	Postgres config.DBConfig
	Logger   *slog.Logger
}

// OpenStore opens the configured job store. PostgreSQL migrations run when
// RunMigrationsOnStart is set; SQLite applies its schema on open.
func OpenStore(ctx context.Context, opts StoreOptions) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	repoCfg := data.RepoConfig{Logger: logger}

	switch opts.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := ConnectDB(ctx, DatabaseConfig{DBConfig: opts.Postgres, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		if opts.Postgres.RunMigrationsOnStart {
			if err = RunMigrations(ctx, db, logger); err != nil {
				return nil, closeOnError(db, err)
			}
		} else {
			logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		}
		return &Store{Backend: data.NewJobRepo(db, repoCfg), Driver: opts.Store.Driver, DB: db}, nil

	case config.StoreDriverSQLite:
		db, err := data.OpenSQLite(ctx, opts.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.InfoContext(ctx, "sqlite store opened", "path", opts.Store.SQLitePath)
		return &Store{Backend: data.NewSQLiteJobRepo(db, repoCfg), Driver: opts.Store.Driver, DB: db}, nil

	case config.StoreDriverMemory:
		logger.WarnContext(ctx, "using in-memory job store; jobs will not survive a restart")
		return &Store{
			Backend: data.NewMemoryJobStore(&data.RealTimeProvider{}),
			Driver:  opts.Store.Driver,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Store.Driver)
	}
}

func closeOnError(db *sql.DB, err error) error {
	if cerr := db.Close(); cerr != nil {
		return errors.Join(err, fmt.Errorf("close database: %w", cerr))
	}
	return err
}
