package trammonitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/empsgit/tram-monitor-ekb/atlas"
	"github.com/empsgit/tram-monitor-ekb/broadcast"
	"github.com/empsgit/tram-monitor-ekb/config"
	"github.com/empsgit/tram-monitor-ekb/ettu"
	"github.com/empsgit/tram-monitor-ekb/metrics"
	"github.com/empsgit/tram-monitor-ekb/store"
	"github.com/empsgit/tram-monitor-ekb/tracking"
)

// App wires the pipeline together: source client, atlas builder,
// tracker, broadcaster, query API, and the optional adapters.
type App struct {
	cfg config.AppConfig

	ettu        *ettu.Client
	builder     *atlas.Builder
	tracker     *tracking.Tracker
	broadcaster *broadcast.Broadcaster
	store       *store.Store // nil without DATABASE_URL
	metrics     *metrics.Collector

	atlas atomic.Pointer[atlas.Atlas]
}

// NewApp constructs the application from configuration. The Redis
// mirror and the Postgres store are attached only when configured; a
// failure to reach either is fatal at startup, not during operation.
func NewApp(ctx context.Context, cfg config.AppConfig) (*App, error) {
	var mirror *broadcast.RedisMirror
	if cfg.RedisURL != "" {
		var err error
		mirror, err = broadcast.NewRedisMirror(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		slog.Info("redis mirror attached")
	}

	var st *store.Store
	if cfg.DatabaseURL != "" {
		var err error
		st, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, err
		}
		slog.Info("postgres store attached")
	}

	builder := &atlas.Builder{
		Geometry: atlas.NewOSRMClient(cfg.OSRM),
	}
	if st != nil {
		builder.Cache = st
	}

	return &App{
		cfg:         cfg,
		ettu:        ettu.NewClient(cfg.Ettu),
		builder:     builder,
		tracker:     tracking.NewTracker(cfg.Pipeline),
		broadcaster: broadcast.NewBroadcaster(cfg.Broadcast, mirror),
		store:       st,
		metrics:     metrics.NewCollector(),
	}, nil
}

// Atlas returns the installed route index generation; nil before the
// first successful refresh.
func (a *App) Atlas() *atlas.Atlas { return a.atlas.Load() }

// RefreshAtlas rebuilds the route index from the source API and installs
// the new generation. Any failure keeps the previous generation.
func (a *App) RefreshAtlas(ctx context.Context) error {
	start := time.Now()

	routes, err := a.ettu.FetchRoutes(ctx)
	if err != nil {
		a.metrics.RefreshFailures.Inc()
		return err
	}
	points, err := a.ettu.FetchPoints(ctx)
	if err != nil {
		a.metrics.RefreshFailures.Inc()
		return err
	}

	built, err := a.builder.Build(ctx, routes, points)
	if err != nil {
		a.metrics.RefreshFailures.Inc()
		return err
	}

	a.atlas.Store(built)
	a.metrics.RefreshesTotal.Inc()
	a.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	a.metrics.AtlasGeneration.Set(float64(built.Generation))
	a.metrics.AtlasRoutes.Set(float64(built.RouteCount()))

	if a.store != nil {
		if err := a.store.UpsertAtlas(ctx, built); err != nil {
			slog.Warn("atlas persistence failed", "err", err)
		}
	}
	return nil
}

// PollVehicles runs one fast-loop tick: fetch, enrich, publish, persist.
// An upstream failure skips the tick and leaves prior state unchanged.
func (a *App) PollVehicles(ctx context.Context) error {
	start := time.Now()

	raw, err := a.ettu.FetchVehicles(ctx)
	if err != nil {
		a.metrics.TickErrors.Inc()
		return err
	}

	now := time.Now().UTC()
	result := a.tracker.Tick(now, a.Atlas(), raw)

	if err := a.broadcaster.Publish(ctx, result.States, a.tracker.Snapshot(), now); err != nil {
		slog.Warn("publish failed", "err", err)
	} else {
		a.metrics.FramesPublished.Inc()
	}

	stats := a.tracker.LastTick()
	a.metrics.TicksTotal.Inc()
	a.metrics.TickDuration.Observe(time.Since(start).Seconds())
	a.metrics.VehiclesTracked.Set(float64(a.tracker.VehicleCount()))
	a.metrics.VehiclesMatched.Set(float64(stats.VehiclesMatched))
	a.metrics.VehiclesUnmatched.Set(float64(stats.VehiclesUnmatched))
	a.metrics.Subscribers.Set(float64(a.broadcaster.SubscriberCount()))

	if a.store != nil && len(raw) > 0 {
		if err := a.store.InsertPositions(ctx, result.States, now); err != nil {
			slog.Warn("position persistence failed", "err", err)
		}
		if err := a.store.RecordTravelTimes(ctx, result.Passages); err != nil {
			slog.Warn("travel time persistence failed", "err", err)
		}
	}
	return nil
}

// Close releases the optional adapters.
func (a *App) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// ready reports whether any data surface is initialized. REST endpoints
// answer 503 until then.
func (a *App) ready() bool {
	return a.Atlas() != nil || a.tracker.LastTick() != nil
}
