// Package scheduler runs periodic maintenance jobs for the API server.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const (
	defaultPruneInterval = time.Hour
	pruneJobTimeout      = time.Minute
)

var errMissingPruner = errors.New("scheduler: pruner is required")

// Pruner deletes activity records older than a retention window.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Config describes the retention job.
type Config struct {
	Pruner    Pruner
	Retention time.Duration
	Interval  time.Duration
	Logger    *zap.Logger
}

// Scheduler periodically prunes the activity log.
type Scheduler struct {
	scheduler *gocron.Scheduler
	pruner    Pruner
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. It does not start any job.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Pruner == nil {
		return nil, errMissingPruner
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		pruner:    cfg.Pruner,
		retention: cfg.Retention,
		interval:  interval,
		logger:    logger,
	}, nil
}

// Start schedules the prune job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.retention <= 0 {
		s.logger.Info("activity retention disabled; prune job not scheduled")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 1
	}
	if _, err := s.scheduler.Every(minutes).Minutes().Do(s.RunOnce); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	return nil
}

// RunOnce prunes expired activity records.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneJobTimeout)
	defer cancel()

	removed, err := s.pruner.Prune(ctx, s.retention)
	if err != nil {
		s.logger.Error("activity prune failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("activity records pruned", zap.Int64("removed", removed))
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
