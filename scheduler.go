package trammonitor

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler drives the two periodic tasks: the fast loop polling
// vehicle positions and the slow loop refreshing the route atlas. The
// loops overlap safely because atlas installs and state-table swaps are
// both atomic-by-replacement.
type Scheduler struct {
	app *App
}

// NewScheduler creates a scheduler for the app.
func NewScheduler(app *App) *Scheduler {
	return &Scheduler{app: app}
}

// Run blocks until the context is canceled. The initial atlas refresh
// happens inline before the loops start; its failure is logged and
// retried on the slow cadence.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.app.RefreshAtlas(ctx); err != nil {
		slog.Error("initial atlas refresh failed, will retry", "err", err)
	}
	if err := s.app.PollVehicles(ctx); err != nil && ctx.Err() == nil {
		slog.Error("initial vehicle poll failed", "err", err)
	}

	pollEvery := time.Duration(s.app.cfg.Pipeline.PollIntervalSeconds) * time.Second
	refreshEvery := time.Duration(s.app.cfg.Pipeline.RouteRefreshHours) * time.Hour

	go s.loop(ctx, "poll_vehicles", pollEvery, s.app.PollVehicles)
	go s.loop(ctx, "refresh_atlas", refreshEvery, s.app.RefreshAtlas)

	<-ctx.Done()
}

// loop runs fn on every tick until cancellation. A run in flight when
// the context is canceled sees the cancellation through its own ctx and
// its partial state is discarded by the caller.
func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				slog.Error("scheduled task failed", "task", name, "err", err)
			}
		}
	}
}
