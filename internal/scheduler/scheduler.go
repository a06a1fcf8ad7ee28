// Package scheduler runs the refresh pipeline on a cron schedule so the
// graph and findings stay current without manual reloads.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// RefreshFunc reloads the graph and re-runs the analysis.
type RefreshFunc func(ctx context.Context) error

type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	refresh RefreshFunc

	mu      sync.Mutex
	running bool
}

func New(refresh RefreshFunc) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		logger:  slog.Default(),
		refresh: refresh,
	}
}

// Start registers the schedule and begins running. Overlapping refreshes are
// skipped: a tick that arrives while a refresh is in flight is dropped.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.mu.Lock()
		if s.running {
			s.mu.Unlock()
			s.logger.Warn("refresh still in flight, skipping tick")
			return
		}
		s.running = true
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		s.logger.Info("scheduled refresh starting")
		if err := s.refresh(ctx); err != nil {
			s.logger.Error("scheduled refresh failed", "error", err)
			return
		}
		s.logger.Info("scheduled refresh finished")
	})
	if err != nil {
		return fmt.Errorf("registering schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()

	return nil
}
