// Package scheduler drives recurring full sync passes and runs on-demand
// connection syncs on a worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"flowly/internal/domain/banksync"
)

// State is the scheduler lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateWaitingForStorage
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateWaitingForStorage:
		return "waiting_for_storage"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ScheduleTime represents a specific time of day when the scheduler should run.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	_, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// Pinger probes storage readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PassRunner runs one full sync pass.
type PassRunner interface {
	RunFullPass(ctx context.Context) *banksync.PassResult
}

// Config holds configuration for the scheduler.
type Config struct {
	Enabled       bool
	Interval      time.Duration
	ScheduleTimes []string // HH:MM; when set, replaces the interval
	ReadyRetries  int
	ReadyDelay    time.Duration
}

// Scheduler gates on storage, runs an immediate pass, then repeats passes on
// an interval or at fixed daily times. Passes never overlap.
type Scheduler struct {
	cfg           Config
	scheduleTimes []ScheduleTime
	storage       Pinger
	runner        PassRunner
	logger        zerolog.Logger

	state   atomic.Int32
	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	lastRunKey  string
	lastStarted time.Time

	now  func() time.Time
	tick time.Duration // polling period for daily times
}

// NewScheduler creates a new scheduler with the given configuration.
func NewScheduler(cfg Config, storage Pinger, runner PassRunner, logger zerolog.Logger) (*Scheduler, error) {
	scheduleTimes := make([]ScheduleTime, 0, len(cfg.ScheduleTimes))
	for _, timeStr := range cfg.ScheduleTimes {
		st, err := ParseScheduleTime(timeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", timeStr, err)
		}
		scheduleTimes = append(scheduleTimes, st)
	}

	if len(scheduleTimes) == 0 && cfg.Interval <= 0 {
		return nil, errors.New("an interval or at least one schedule time is required")
	}
	if cfg.ReadyRetries < 1 {
		cfg.ReadyRetries = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cfg:           cfg,
		scheduleTimes: scheduleTimes,
		storage:       storage,
		runner:        runner,
		logger:        logger.With().Str("component", "scheduler").Logger(),
		ctx:           ctx,
		cancel:        cancel,
		now:           time.Now,
		tick:          time.Minute,
	}, nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Start launches the scheduler. It returns immediately; storage readiness
// is probed in the background.
func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("sync scheduler disabled")
		s.state.Store(int32(StateStopped))
		return
	}
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateWaitingForStorage)) {
		return
	}

	s.wg.Add(1)
	go s.run()
}

// Abort moves a scheduler that was never started straight to Stopped.
func (s *Scheduler) Abort(err error) {
	if s.state.CompareAndSwap(int32(StateUninitialized), int32(StateStopped)) {
		s.logger.Error().Err(err).Msg("scheduler not started")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	if err := s.waitForStorage(); err != nil {
		s.logger.Error().Err(err).Msg("scheduler not started")
		s.state.Store(int32(StateStopped))
		return
	}

	if !s.state.CompareAndSwap(int32(StateWaitingForStorage), int32(StateRunning)) {
		return
	}
	if len(s.scheduleTimes) > 0 {
		s.logger.Info().Strs("times", s.cfg.ScheduleTimes).Msg("scheduler running on daily times")
	} else {
		s.logger.Info().Dur("interval", s.cfg.Interval).Msg("scheduler running on interval")
	}

	s.trigger("startup")

	if len(s.scheduleTimes) > 0 {
		s.dailyLoop()
	} else {
		s.intervalLoop()
	}
}

func (s *Scheduler) waitForStorage() error {
	return WaitForStorage(s.ctx, s.storage, s.cfg.ReadyRetries, s.cfg.ReadyDelay, s.logger)
}

// WaitForStorage pings storage up to attempts times, delay apart. It returns
// an error wrapping banksync.ErrStorageUnavailable once the attempts run out,
// or ctx.Err() if ctx ends first.
func WaitForStorage(ctx context.Context, storage Pinger, attempts int, delay time.Duration, logger zerolog.Logger) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = storage.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			return nil
		}

		logger.Warn().Err(lastErr).Int("attempt", attempt).Int("max_attempts", attempts).Msg("storage not ready")
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", banksync.ErrStorageUnavailable, attempts, lastErr)
}

func (s *Scheduler) intervalLoop() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.trigger("interval")
		}
	}
}

func (s *Scheduler) dailyLoop() {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.shouldRun(s.now()) {
				s.trigger("schedule")
			}
		}
	}
}

// shouldRun checks if the current time matches any scheduled time that has
// not fired yet today.
func (s *Scheduler) shouldRun(now time.Time) bool {
	currentKey := fmt.Sprintf("%s-%02d:%02d", now.Format("2006-01-02"), now.Hour(), now.Minute())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRunKey == currentKey {
		return false
	}

	for _, st := range s.scheduleTimes {
		if now.Hour() == st.Hour && now.Minute() == st.Minute {
			s.lastRunKey = currentKey
			return true
		}
	}

	return false
}

// trigger starts a pass in the background unless one is already running.
func (s *Scheduler) trigger(reason string) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn().Str("trigger", reason).Msg("previous sync pass still running, skipping trigger")
		return false
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		s.running.Store(false)
		return false
	}
	s.lastStarted = s.now()
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		s.logger.Info().Str("trigger", reason).Msg("sync pass triggered")
		s.runner.RunFullPass(s.ctx)
	}()
	return true
}

// TriggerNow starts a pass immediately. It returns false when the scheduler
// is not running or a pass is already in progress.
func (s *Scheduler) TriggerNow() bool {
	if s.State() != StateRunning {
		return false
	}
	return s.trigger("manual")
}

// Shutdown stops scheduling and waits up to timeout for a running pass.
// In-flight connection syncs finish on their own detached contexts.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.logger.Info().Msg("scheduler shutting down")

	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.state.Store(int32(StateStopped))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
	case <-time.After(timeout):
		s.logger.Warn().Dur("timeout", timeout).Msg("timed out waiting for sync pass to finish")
	}
}

// NextRun returns when the next pass is due, or the zero time when the
// scheduler is not running.
func (s *Scheduler) NextRun() time.Time {
	if s.State() != StateRunning {
		return time.Time{}
	}
	if len(s.scheduleTimes) > 0 {
		return s.nextScheduledTime(s.now())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStarted.Add(s.cfg.Interval)
}

// nextScheduledTime returns the first configured time of day after now.
func (s *Scheduler) nextScheduledTime(now time.Time) time.Time {
	var next time.Time
	for _, st := range s.scheduleTimes {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next
}
