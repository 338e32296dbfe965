package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/target/mmk-jobqueue/config"
	"golang.org/x/sync/errgroup"
)

// ServiceOrchestrationConfig contains what RunServices needs to start the enabled services.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown runs the enabled services until SIGINT or SIGTERM arrives
// or one of them fails.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunServices(ctx, cfg)
}

// RunServices starts every enabled service under one errgroup. The first failure cancels
// the others; a clean shutdown of ctx returns nil.
func RunServices(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	if cfg.Services == nil {
		return errors.New("service orchestration config missing services")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeHTTP] {
		server := NewHTTPServer(HTTPServerConfig{
			HTTP:     cfg.Config.HTTP,
			Services: cfg.Services,
			Logger:   logger,
		})
		g.Go(func() error {
			return ServeHTTP(gctx, server, cfg.Config.HTTP.ShutdownTimeout, logger)
		})
	}

	if enabled[config.ServiceModeScheduler] {
		g.Go(func() error {
			if runErr := cfg.Services.Scheduler.Run(gctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("scheduler: %w", runErr)
			}
			logger.InfoContext(gctx, "scheduler stopped")
			return nil
		})
	}

	if enabled[config.ServiceModeReaper] {
		g.Go(func() error {
			if runErr := cfg.Services.Reaper.Run(gctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("reaper: %w", runErr)
			}
			logger.InfoContext(gctx, "reaper stopped")
			return nil
		})
	}

	logger.InfoContext(ctx, "services started", "enabled_services", GetEnabledServices(cfg.Config))
	err = g.Wait()

	if closer, ok := cfg.Services.Metrics.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			logger.WarnContext(ctx, "close metrics sink failed", "error", cerr)
		}
	}
	return err
}
