package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	syncerrors "github.com/marksync/marksync/internal/errors"
)

// CycleRunner is the orchestrator capability the scheduler needs.
type CycleRunner interface {
	RunCycle(ctx context.Context) SyncResult
}

// Scheduler runs cycles on a fixed interval and on demand. At most one
// cycle runs at a time: a trigger that arrives while a cycle is in
// flight is rejected with ErrSyncInProgress rather than queued, because
// the running cycle already picks up whatever changed.
type Scheduler struct {
	runner CycleRunner
	logger *slog.Logger

	// running is the single-flight guard, taken with TryLock.
	running sync.Mutex

	intervalCh chan time.Duration
	interval   time.Duration
}

// NewScheduler creates a scheduler. interval must be positive.
func NewScheduler(runner CycleRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		logger:     logger,
		intervalCh: make(chan time.Duration, 1),
		interval:   interval,
	}
}

// Run drives the periodic loop until ctx is cancelled. An interval
// change takes effect immediately for the next tick; the in-flight
// cycle, if any, is never interrupted.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")

			return ctx.Err()

		case d := <-s.intervalCh:
			s.interval = d
			ticker.Reset(d)
			s.logger.Info("sync interval changed", slog.Duration("interval", d))

		case <-ticker.C:
			if _, err := s.TriggerNow(ctx); err != nil {
				// Only possible when an on-demand cycle is still in
				// flight; the tick is simply skipped.
				s.logger.Debug("scheduled cycle skipped, sync in progress")
			}
		}
	}
}

// TriggerNow runs one cycle in the caller's goroutine. It returns
// ErrSyncInProgress when another cycle is already running.
func (s *Scheduler) TriggerNow(ctx context.Context) (SyncResult, error) {
	if !s.running.TryLock() {
		return SyncResult{}, syncerrors.ErrSyncInProgress
	}
	defer s.running.Unlock()

	return s.runner.RunCycle(ctx), nil
}

// SetInterval changes the periodic interval. Safe to call from any
// goroutine; a pending unobserved change is replaced.
func (s *Scheduler) SetInterval(d time.Duration) {
	for {
		select {
		case s.intervalCh <- d:
			return
		default:
			select {
			case <-s.intervalCh:
			default:
			}
		}
	}
}
