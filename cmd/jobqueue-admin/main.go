package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/bootstrap"
)

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 2 * time.Minute
)

// app carries what every subcommand needs. openStore is swapped in tests.
type app struct {
	logger    *slog.Logger
	cfg       config.AppConfig
	out       io.Writer
	loadCfg   func() (config.AppConfig, error)
	openStore func(ctx context.Context, cfg config.AppConfig, logger *slog.Logger) (*bootstrap.Store, error)
}

func main() {
	logger := bootstrap.InitLogger(slog.LevelInfo)
	a := &app{
		logger:    logger,
		out:       os.Stdout,
		loadCfg:   bootstrap.LoadConfig,
		openStore: openConfiguredStore,
	}
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobqueue-admin",
		Short:         "Operational commands for the multi-tenant job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadCfg()
			if err != nil {
				return err
			}
			a.cfg = cfg
			cmd.SetOut(a.out)
			return nil
		},
	}
	root.SetOut(a.out)

	root.AddCommand(
		newMigrateCmd(a),
		newStatsCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newReconcileCmd(a),
	)
	return root
}

func openConfiguredStore(ctx context.Context, cfg config.AppConfig, logger *slog.Logger) (*bootstrap.Store, error) {
	// Admin commands never apply migrations implicitly; use the migrate command.
	pg := cfg.Postgres
	pg.RunMigrationsOnStart = false
	return bootstrap.OpenStore(ctx, bootstrap.StoreOptions{
		Store:    cfg.Store,
		Postgres: pg,
		Logger:   logger,
	})
}

// withStore opens the configured store for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(ctx context.Context, store *bootstrap.Store) error) error {
	ctx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	store, err := a.openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			a.logger.Warn("store close failed", "error", cerr)
		}
	}()
	return fn(ctx, store)
}
