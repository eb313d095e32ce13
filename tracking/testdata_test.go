package tracking

import (
	"context"
	"testing"

	"github.com/empsgit/tram-monitor-ekb/atlas"
	"github.com/empsgit/tram-monitor-ekb/config"
	"github.com/empsgit/tram-monitor-ekb/ettu"
)

// Test network: route "1" runs straight north for about 10 km with a
// stop at each end. No router is attached, so the geometry is the stop
// chain itself.
const (
	testRouteID = 101

	startLat = 56.800000
	endLat   = 56.889830 // ~10 000 m north
	testLon  = 60.600000
	midLat   = (startLat + endLat) / 2
)

func testStops() []ettu.RawStop {
	return []ettu.RawStop{
		{ID: 1, Name: "Южная", Lat: startLat, Lon: testLon, Direction: "на север", Active: true},
		{ID: 2, Name: "Северная", Lat: endLat, Lon: testLon, Direction: "на юг", Active: true},
	}
}

func testRoutes() []ettu.RawRoute {
	return []ettu.RawRoute{
		{
			ID:     testRouteID,
			Number: "1",
			Name:   "Южная — Северная",
			Paths:  [2][]int{{1, 2}, {2, 1}},
		},
	}
}

func buildTestAtlas(t *testing.T) *atlas.Atlas {
	t.Helper()
	b := &atlas.Builder{}
	a, err := b.Build(context.Background(), testRoutes(), testStops())
	if err != nil {
		t.Fatalf("building test atlas: %v", err)
	}
	return a
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		PollIntervalSeconds: 10,
		RouteRefreshHours:   6,
		MaxSnapDistanceM:    300,
		VehicleTTLSeconds:   120,
		SignalLostSeconds:   60,
	}
}
