package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"flowly/internal/interfaces/scheduler"
)

type migrator interface {
	scheduler.Pinger
	Migrate(ctx context.Context) error
}

type syncStarter interface {
	Start()
	Abort(err error)
}

// startSync waits for storage, migrates it, and then starts the scheduler.
// When storage never answers the scheduler is stopped and the process keeps
// serving.
func startSync(ctx context.Context, db migrator, sched syncStarter, retries int, delay time.Duration, log zerolog.Logger) error {
	if err := scheduler.WaitForStorage(ctx, db, retries, delay, log); err != nil {
		sched.Abort(err)
		return err
	}

	if err := db.Migrate(ctx); err != nil {
		err = fmt.Errorf("failed to migrate database: %w", err)
		sched.Abort(err)
		return err
	}
	log.Info().Msg("storage ready")

	sched.Start()
	return nil
}
