package scheduler

import "context"

// Job represents a unit of work that can be executed by the worker pool.
type Job interface {
	// Execute runs the job with the given context.
	Execute(ctx context.Context) error

	// ConnectionID returns the connection the job works on, for logging and
	// tracing.
	ConnectionID() string

	// Description returns a human-readable description of the job.
	Description() string
}
