package atlas

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/empsgit/tram-monitor-ekb/ettu"
	"github.com/empsgit/tram-monitor-ekb/geo"
)

func catalogStops() []ettu.RawStop {
	return []ettu.RawStop{
		{ID: 1, Name: "Южная", Lat: 56.8000, Lon: 60.6000, Direction: "на север", Active: true},
		{ID: 2, Name: "Центр", Lat: 56.8450, Lon: 60.6000, Direction: "на север", Active: true},
		{ID: 3, Name: "Северная", Lat: 56.8898, Lon: 60.6000, Direction: "на юг", Active: true},
		{ID: 4, Name: "", Lat: 56.8200, Lon: 60.6000, Active: true}, // unnamed pole
	}
}

func rawRoute(fwd, rev []int) ettu.RawRoute {
	return ettu.RawRoute{
		ID:     101,
		Number: "1",
		Name:   "Южная — Северная",
		Paths:  [2][]int{fwd, rev},
	}
}

func build(t *testing.T, b *Builder, routes []ettu.RawRoute, stops []ettu.RawStop) *Atlas {
	t.Helper()
	a, err := b.Build(context.Background(), routes, stops)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return a
}

func TestBuildFallbackGeometry(t *testing.T) {
	b := &Builder{}
	a := build(t, b, []ettu.RawRoute{rawRoute([]int{1, 2, 3}, []int{3, 2, 1})}, catalogStops())

	route, ok := a.Route(101)
	if !ok {
		t.Fatal("route missing")
	}
	if route.HasOSRMGeometry {
		t.Errorf("stop-chain fallback flagged as router geometry")
	}
	line := route.Line(DirectionForward)
	if line == nil {
		t.Fatal("forward line missing")
	}
	if line.Length < 9900 || line.Length > 10100 {
		t.Errorf("length = %v, want ~10 km", line.Length)
	}
	if rev := route.Line(DirectionReverse); rev == nil || rev.Pts[0] != line.Pts[len(line.Pts)-1] {
		t.Errorf("reverse line should be the forward line reversed")
	}
	if !route.ReverseUsesForwardGeometry {
		t.Errorf("reverse geometry flag not set")
	}
}

func TestBuildUnresolvedIDs(t *testing.T) {
	b := &Builder{}
	a := build(t, b, []ettu.RawRoute{rawRoute([]int{1, 99, 2, 3}, nil)}, catalogStops())

	route, _ := a.Route(101)
	if len(route.UnresolvedIDs) != 1 || route.UnresolvedIDs[0] != 99 {
		t.Errorf("unresolved = %v, want [99]", route.UnresolvedIDs)
	}
	if route.PathStopCount != 4 {
		t.Errorf("path stop count = %d, want 4", route.PathStopCount)
	}
	if got := len(route.Dirs[DirectionForward].Stops); got != 3 {
		t.Errorf("resolved stops = %d, want 3", got)
	}
}

func TestBuildUnnamedKeptInSequence(t *testing.T) {
	b := &Builder{}
	a := build(t, b, []ettu.RawRoute{rawRoute([]int{1, 4, 2}, nil)}, catalogStops())

	route, _ := a.Route(101)
	if route.UnnamedCount != 1 {
		t.Errorf("unnamed count = %d, want 1", route.UnnamedCount)
	}
	stops := route.Dirs[DirectionForward].Stops
	if len(stops) != 3 {
		t.Fatalf("stops = %d, want 3 (unnamed kept)", len(stops))
	}
}

func TestBuildStopPlacement(t *testing.T) {
	b := &Builder{}
	a := build(t, b, []ettu.RawRoute{rawRoute([]int{1, 2, 3}, []int{3, 2, 1})}, catalogStops())

	route, _ := a.Route(101)
	for dir := 0; dir < 2; dir++ {
		line := route.Line(dir)
		stops := route.Dirs[dir].Stops
		prev := -1.0
		for _, s := range stops {
			if s.DistanceAlong < prev {
				t.Errorf("dir %d: distance order violated at stop %d", dir, s.ID)
			}
			if s.DistanceAlong < 0 || s.DistanceAlong > line.Length {
				t.Errorf("dir %d: stop %d distance %v outside [0, %v]", dir, s.ID, s.DistanceAlong, line.Length)
			}
			prev = s.DistanceAlong
		}
	}
	// The reverse path walks the stops in opposite order.
	rev := route.Dirs[DirectionReverse].Stops
	if rev[0].ID != 3 || rev[len(rev)-1].ID != 1 {
		t.Errorf("reverse stop order = %v, want 3..1", rev)
	}
}

type fakeGeometry struct {
	pts  []geo.Point
	err  error
	hits int
}

func (f *fakeGeometry) RouteGeometry(ctx context.Context, waypoints []geo.Point) ([]geo.Point, error) {
	f.hits++
	if f.err != nil {
		return nil, f.err
	}
	return f.pts, nil
}

func TestBuildRouterGeometry(t *testing.T) {
	pts := []geo.Point{
		{Lat: 56.8000, Lon: 60.6000},
		{Lat: 56.8200, Lon: 60.6030},
		{Lat: 56.8450, Lon: 60.6000},
		{Lat: 56.8898, Lon: 60.6000},
	}
	src := &fakeGeometry{pts: pts}
	b := &Builder{Geometry: src}
	a := build(t, b, []ettu.RawRoute{rawRoute([]int{1, 2, 3}, nil)}, catalogStops())

	route, _ := a.Route(101)
	if !route.HasOSRMGeometry {
		t.Errorf("router geometry not flagged")
	}
	if src.hits != 1 {
		t.Errorf("router hit %d times, want 1", src.hits)
	}
	if got := len(route.Line(DirectionForward).Pts); got != len(pts) {
		t.Errorf("geometry points = %d, want %d", got, len(pts))
	}
}

func TestBuildRouterFailureFallsBack(t *testing.T) {
	src := &fakeGeometry{err: errors.New("unreachable")}
	b := &Builder{Geometry: src}
	a := build(t, b, []ettu.RawRoute{rawRoute([]int{1, 2, 3}, nil)}, catalogStops())

	route, _ := a.Route(101)
	if route.HasOSRMGeometry {
		t.Errorf("failed router fetch still flagged as router geometry")
	}
	if route.Line(DirectionForward) == nil {
		t.Errorf("expected stop-chain fallback geometry")
	}
}

type fakeCache struct {
	entries map[string][]geo.Point
	saved   map[string][]geo.Point
}

func (f *fakeCache) Load(ctx context.Context) (map[string][]geo.Point, error) {
	return f.entries, nil
}

func (f *fakeCache) Save(ctx context.Context, g map[string][]geo.Point) error {
	f.saved = g
	return nil
}

func TestBuildUsesGeometryCache(t *testing.T) {
	cachedPts := []geo.Point{
		{Lat: 56.8000, Lon: 60.6000},
		{Lat: 56.8898, Lon: 60.6005},
	}
	src := &fakeGeometry{pts: cachedPts}
	cache := &fakeCache{entries: map[string][]geo.Point{"1": cachedPts}}
	b := &Builder{Geometry: src, Cache: cache}
	a := build(t, b, []ettu.RawRoute{rawRoute([]int{1, 2, 3}, nil)}, catalogStops())

	if src.hits != 0 {
		t.Errorf("router hit despite a fresh cache")
	}
	route, _ := a.Route(101)
	if !route.HasOSRMGeometry {
		t.Errorf("cached router geometry not flagged")
	}
}

func TestBuildSavesFetchedGeometry(t *testing.T) {
	src := &fakeGeometry{pts: []geo.Point{
		{Lat: 56.8000, Lon: 60.6000},
		{Lat: 56.8898, Lon: 60.6005},
	}}
	cache := &fakeCache{}
	b := &Builder{Geometry: src, Cache: cache}
	build(t, b, []ettu.RawRoute{rawRoute([]int{1, 2, 3}, nil)}, catalogStops())

	if len(cache.saved) != 1 || len(cache.saved["1"]) != 2 {
		t.Errorf("fetched geometry not cached: %v", cache.saved)
	}
}

func TestBuildRefusesBrokenGeometry(t *testing.T) {
	src := &fakeGeometry{pts: []geo.Point{
		{Lat: math.NaN(), Lon: 60.6000},
		{Lat: 56.8898, Lon: 60.6005},
	}}
	b := &Builder{Geometry: src}
	_, err := b.Build(context.Background(), []ettu.RawRoute{rawRoute([]int{1, 2, 3}, nil)}, catalogStops())
	if err == nil {
		t.Fatal("expected the build to refuse a non-finite geometry")
	}
}

func TestBuildStopRouteAssociations(t *testing.T) {
	b := &Builder{}
	a := build(t, b, []ettu.RawRoute{rawRoute([]int{1, 2, 3}, []int{3, 2, 1})}, catalogStops())

	for _, id := range []int{1, 2, 3} {
		if serving := a.RoutesServing(id); len(serving) != 1 || serving[0] != 101 {
			t.Errorf("stop %d serving = %v, want [101]", id, serving)
		}
	}
	if serving := a.RoutesServing(4); len(serving) != 0 {
		t.Errorf("stop 4 should serve no routes, got %v", serving)
	}

	generations := a.Generation
	a2 := build(t, b, []ettu.RawRoute{rawRoute([]int{1, 2}, nil)}, catalogStops())
	if a2.Generation <= generations {
		t.Errorf("generation should increase: %d then %d", generations, a2.Generation)
	}
}

func TestBuildRouteWithoutGeometry(t *testing.T) {
	b := &Builder{}
	a := build(t, b, []ettu.RawRoute{rawRoute([]int{1}, nil)}, catalogStops())

	route, _ := a.Route(101)
	if route.Line(DirectionForward) != nil {
		t.Errorf("single-stop route should carry no geometry")
	}
}
