package api

import (
	"context"
	"log/slog"
	"time"
)

// TimeoutChecker is the periodic hook a Scheduler drives.
type TimeoutChecker interface {
	CheckTimeout(ctx context.Context) bool
}

// Scheduler calls CheckTimeout on a fixed interval until its context ends.
type Scheduler struct {
	checker  TimeoutChecker
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(checker TimeoutChecker, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		checker:  checker,
		interval: interval,
		logger:   logger.With("component", "scheduler"),
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("timeout checks started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.checker.CheckTimeout(ctx) {
				s.logger.Debug("timeout check changed session state")
			}
		}
	}
}
