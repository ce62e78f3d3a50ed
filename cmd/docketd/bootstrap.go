package main

import (
	"context"
	"fmt"
	"log/slog"

	"docket/internal/config"
	"docket/internal/control"
	"docket/internal/intake"
	"docket/internal/logging"
	"docket/internal/processor"
	"docket/internal/processors"
	"docket/internal/system"
)

// buildSystem wires a processing system with the built-in processors
// registered.
func buildSystem(cfg *config.Config, logger *slog.Logger) (*system.System, error) {
	registry := processor.NewRegistry()
	if err := processors.RegisterBuiltins(registry); err != nil {
		return nil, fmt.Errorf("register processors: %w", err)
	}
	return system.New(cfg, logger, system.Options{Registry: registry})
}

// buildWatcher constructs the intake watcher when intake is enabled and the
// config declares a pipeline. A nil watcher means the daemon has nothing to
// watch and only serves resumed or externally created pipelines.
func buildWatcher(cfg *config.Config, sys *system.System, logger *slog.Logger) (*intake.Watcher, error) {
	if !cfg.Intake.Enabled {
		return nil, nil
	}
	if len(cfg.Pipeline.Stages) == 0 {
		logger.Warn("intake enabled but no pipeline stages configured, watcher disabled")
		return nil, nil
	}
	return intake.NewWatcher(cfg, system.PipelineFromConfig(cfg), sys.Manager(), logger)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sys, err := buildSystem(cfg, logger)
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.Start(ctx); err != nil {
		return err
	}
	defer sys.Stop()

	ctl, err := control.NewServer(ctx, control.SocketPath(cfg), sys, logger)
	if err != nil {
		return err
	}
	ctl.Serve()
	defer ctl.Close()

	watcher, err := buildWatcher(cfg, sys, logger)
	if err != nil {
		return err
	}
	if watcher != nil {
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	health := sys.Health(ctx)
	for _, component := range health.Components {
		if !component.Ready {
			logger.Warn("component not ready",
				logging.String("component", component.Name),
				logging.String("detail", component.Detail))
		}
	}

	logger.Info("docketd running",
		logging.String("pipeline", cfg.Pipeline.Name),
		logging.Bool("intake", watcher != nil),
		logging.String("socket", control.SocketPath(cfg)))
	<-ctx.Done()
	logger.Info("docketd shutting down")
	return nil
}
