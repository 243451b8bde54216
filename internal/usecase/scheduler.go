package usecase

import (
	"context"
	"log/slog"
	"time"

	"NewsIngestor/internal/ports"
	"NewsIngestor/internal/runlock"
)

// Scheduler wires the interval driver, the run lock, and the pipeline: every
// trigger attempts one locked pipeline pass, and overlapping triggers are
// skipped rather than queued.
type Scheduler struct {
	driver   ports.Scheduler
	lock     runlock.Substrate
	lockName string
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring locked passes.
func NewScheduler(driver ports.Scheduler, lock runlock.Substrate, lockName string, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver:   driver,
		lock:     lock,
		lockName: lockName,
		pipeline: pipeline,
		logger:   logger,
	}
}

// Start registers the locked pipeline pass with the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("pipeline pass failed", "trigger", trigger, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// RunOnce executes a single pipeline pass under the run lock. A contended
// lock is an expected outcome and is never surfaced as a failure.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return runlock.WithLock(ctx, s.lock, s.lockName,
		func(ctx context.Context) error {
			_, err := s.pipeline.Run(ctx)
			return err
		},
		func() {
			s.logger.Info("pipeline pass already running, skipping trigger", "lock", s.lockName)
		})
}

// Stop gracefully tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
