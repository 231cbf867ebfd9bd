package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// StartServer creates the HTTP server and starts it in the background. A
// listen failure is sent on the returned channel.
func StartServer(addr string, handler http.Handler, logger zerolog.Logger) (*http.Server, <-chan error) {
	// Synchronous connection syncs can take a while, hence the long write timeout.
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return srv, errCh
}

// GracefulShutdown stops intake first, then drains background work.
func GracefulShutdown(srv *http.Server, deps *Dependencies, timeout time.Duration, logger zerolog.Logger) {
	logger.Info().Msg("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("error shutting down HTTP server")
	}

	deps.Listener.Stop()
	deps.Scheduler.Shutdown(timeout)
	deps.WorkerPool.ShutdownWithTimeout(timeout)

	logger.Info().Msg("server stopped")
}
