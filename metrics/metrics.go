package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus instruments for the pipeline.
type Collector struct {
	reg *prometheus.Registry

	VehiclesTracked   prometheus.Gauge
	VehiclesMatched   prometheus.Gauge
	VehiclesUnmatched prometheus.Gauge
	Subscribers       prometheus.Gauge
	AtlasGeneration   prometheus.Gauge
	AtlasRoutes       prometheus.Gauge

	TicksTotal      prometheus.Counter
	TickErrors      prometheus.Counter
	RefreshesTotal  prometheus.Counter
	RefreshFailures prometheus.Counter
	FramesPublished prometheus.Counter

	TickDuration    prometheus.Histogram
	RefreshDuration prometheus.Histogram
}

// NewCollector creates and registers the instruments on a private
// registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		VehiclesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tram_monitor_vehicles_tracked",
			Help: "Vehicles currently in the state table.",
		}),
		VehiclesMatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tram_monitor_vehicles_matched",
			Help: "Vehicles matched to a route in the last tick.",
		}),
		VehiclesUnmatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tram_monitor_vehicles_unmatched",
			Help: "Vehicles left unmatched in the last tick.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tram_monitor_subscribers",
			Help: "Attached WebSocket subscribers.",
		}),
		AtlasGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tram_monitor_atlas_generation",
			Help: "Generation number of the installed route atlas.",
		}),
		AtlasRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tram_monitor_atlas_routes",
			Help: "Routes in the installed atlas generation.",
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tram_monitor_ticks_total",
			Help: "Completed fast-loop ticks.",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tram_monitor_tick_errors_total",
			Help: "Fast-loop ticks skipped on upstream failure.",
		}),
		RefreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tram_monitor_atlas_refreshes_total",
			Help: "Completed atlas refreshes.",
		}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tram_monitor_atlas_refresh_failures_total",
			Help: "Atlas refreshes that kept the previous generation.",
		}),
		FramesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tram_monitor_frames_published_total",
			Help: "Update frames published to subscribers.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tram_monitor_tick_duration_seconds",
			Help:    "Duration of one fetch-enrich-publish tick.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tram_monitor_atlas_refresh_duration_seconds",
			Help:    "Duration of one atlas rebuild.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(
		c.VehiclesTracked, c.VehiclesMatched, c.VehiclesUnmatched,
		c.Subscribers, c.AtlasGeneration, c.AtlasRoutes,
		c.TicksTotal, c.TickErrors, c.RefreshesTotal, c.RefreshFailures,
		c.FramesPublished, c.TickDuration, c.RefreshDuration,
	)
	return c
}

// Handler exposes the registry for the /metrics route.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
