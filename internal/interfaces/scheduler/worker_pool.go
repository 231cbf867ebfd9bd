package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	jobTracer          = otel.Tracer("flowly/scheduler")
	jobMeter           = otel.Meter("flowly/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("scheduler.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
)

var (
	// ErrQueueFull is returned by Submit when the job is dropped.
	ErrQueueFull  = errors.New("job queue full")
	ErrPoolClosed = errors.New("worker pool is shut down")
)

// WorkerPool runs on-demand jobs on a fixed set of goroutines.
type WorkerPool struct {
	workerCount int
	jobDelay    time.Duration
	jobTimeout  time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// PoolConfig sizes a WorkerPool.
type PoolConfig struct {
	Workers    int
	JobDelay   time.Duration // pause after each job, per worker
	JobTimeout time.Duration
	QueueSize  int
}

// NewWorkerPool creates a new worker pool with the specified configuration.
func NewWorkerPool(cfg PoolConfig, logger zerolog.Logger) *WorkerPool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: cfg.Workers,
		jobDelay:    cfg.JobDelay,
		jobTimeout:  cfg.JobTimeout,
		jobs:        make(chan Job, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.logger.Info().Int("workers", wp.workerCount).Msg("starting worker pool")

	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return

		case job, ok := <-wp.jobs:
			if !ok {
				return
			}

			wp.processJob(id, job)

			if wp.jobDelay > 0 {
				select {
				case <-time.After(wp.jobDelay):
				case <-wp.ctx.Done():
					return
				}
			}
		}
	}
}

// processJob executes a single job with error handling, logging, and telemetry.
func (wp *WorkerPool) processJob(workerID int, job Job) {
	logger := wp.logger.With().Int("worker_id", workerID).Str("connection_id", job.ConnectionID()).Logger()
	logger.Debug().Str("job", job.Description()).Msg("processing job")

	ctx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.connection_id", job.ConnectionID()),
		),
	)
	defer span.End()

	start := time.Now()

	if err := job.Execute(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		jobDuration.Record(ctx, time.Since(start).Seconds())
		logger.Error().Err(err).Str("job", job.Description()).Msg("job failed")
		return
	}

	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	jobDuration.Record(ctx, time.Since(start).Seconds())
	logger.Info().Str("job", job.Description()).Dur("duration", time.Since(start)).Msg("job completed")
}

// Submit queues a job without blocking. A full queue drops the job and
// returns ErrQueueFull.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrPoolClosed
	}

	select {
	case wp.jobs <- job:
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		wp.logger.Warn().Str("connection_id", job.ConnectionID()).Msg("job queue full, dropping job")
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, job.Description())
	}
}

// ShutdownWithTimeout stops accepting jobs and waits for the workers. If they
// do not finish within the timeout, running jobs see their context cancelled.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	wp.logger.Info().Dur("timeout", timeout).Msg("worker pool shutting down")

	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.jobs)
	}
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Info().Msg("all workers finished")
	case <-time.After(timeout):
		wp.logger.Warn().Msg("timeout reached, cancelling running jobs")
	}
	wp.cancel()
}
