// Package bootstrap wires configuration, storage and the engine components
// into a running service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/profiling"
	"github.com/jonesrussell/north-cloud/sniper/internal/config"
)

const executorStopTimeout = 30 * time.Second

// Serve runs the API, executor, sweeper and audit delivery until ctx is
// cancelled or one of them fails.
func Serve(ctx context.Context, cfg *config.Config, version string) error {
	log, err := CreateLogger(cfg, version)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// Phase 0: profiling (env-gated)
	profiling.StartPprofServer(cfg.Profiling, log)
	profiler, err := profiling.StartPyroscope(serviceName, version, cfg.Profiling, log)
	if err != nil {
		log.Warn("Pyroscope unavailable", logger.Error(err))
	}
	defer func() { _ = profiler.Stop() }()

	// Phase 1: engine components
	services, err := BuildServices(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer func() {
		if closeErr := services.Close(); closeErr != nil {
			log.Error("Failed to close resources", logger.Error(closeErr))
		}
	}()

	// Phase 2: HTTP server
	server := SetupHTTPServer(cfg, services, version, log)

	// Phase 3: run until interrupted
	g, gctx := errgroup.WithContext(ctx)

	if services.Broker != nil {
		if err = services.Broker.Start(gctx); err != nil {
			return fmt.Errorf("start sse broker: %w", err)
		}
		defer func() { _ = services.Broker.Stop() }()
	}

	g.Go(func() error { return services.Audit.Run(gctx) })
	g.Go(func() error { return services.Sweeper.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	if cfg.Executor.Disabled {
		log.Info("Executor disabled; running API only")
	} else {
		g.Go(func() error { return runExecutor(gctx, services, log) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service stopped with error", logger.Error(err))
		return err
	}
	log.Info("Service stopped")
	return nil
}

func runExecutor(ctx context.Context, s *Services, log logger.Logger) error {
	if err := s.Executor.Start(ctx); err != nil {
		return fmt.Errorf("start executor: %w", err)
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), executorStopTimeout)
	defer cancel()
	if err := s.Executor.Stop(stopCtx); err != nil {
		log.Error("Executor did not stop cleanly", logger.Error(err))
	}
	return nil
}
