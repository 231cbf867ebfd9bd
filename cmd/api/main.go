package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowly/internal/shared/config"
	"flowly/internal/shared/logger"
	"flowly/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}).
		With().Str("service", cfg.Telemetry.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(tctx); err != nil {
				log.Error().Err(err).Msg("telemetry shutdown failed")
			}
		}()
	}

	deps, err := NewDependencies(cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	if cfg.API.Token == "" {
		log.Warn().Msg("SYNC_API_TOKEN not set, API endpoints are unauthenticated")
	}

	deps.WorkerPool.Start()
	deps.Listener.Start(context.WithoutCancel(ctx))
	go func() {
		if err := startSync(ctx, deps.DB, deps.Scheduler, cfg.Sync.ReadyRetries, cfg.Sync.ReadyDelay, log); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("scheduled sync not started")
		}
	}()

	srv, serveErr := StartServer(cfg.Server.Host+":"+cfg.Server.Port, SetupRoutes(deps, cfg, log), log)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		GracefulShutdown(srv, deps, shutdownTimeout, log)
		return fmt.Errorf("HTTP server error: %w", err)
	}

	GracefulShutdown(srv, deps, shutdownTimeout, log)
	return nil
}
