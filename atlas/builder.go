package atlas

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/empsgit/tram-monitor-ekb/ettu"
	"github.com/empsgit/tram-monitor-ekb/geo"
)

// GeometryCache persists fetched polylines between refreshes so a
// rebuild does not hammer the router. Load returns fresh entries keyed
// by route number; both methods are best-effort.
type GeometryCache interface {
	Load(ctx context.Context) (map[string][]geo.Point, error)
	Save(ctx context.Context, geometries map[string][]geo.Point) error
}

// Builder assembles Atlas generations from raw ETTU data.
type Builder struct {
	Geometry GeometrySource // nil disables the router, stop-chain fallback only
	Cache    GeometryCache  // nil disables geometry caching
}

var generation atomic.Uint64

// Build resolves routes against the stop catalog, attaches geometry, and
// produces a new immutable Atlas generation. A geometry that violates
// the arc-length invariants makes the whole build fail so the caller can
// keep the previous generation.
func (b *Builder) Build(ctx context.Context, rawRoutes []ettu.RawRoute, rawStops []ettu.RawStop) (*Atlas, error) {
	catalog := make(map[int]ettu.RawStop, len(rawStops))
	for _, s := range rawStops {
		catalog[s.ID] = s
	}

	var cached map[string][]geo.Point
	if b.Cache != nil {
		var err error
		cached, err = b.Cache.Load(ctx)
		if err != nil {
			slog.Warn("geometry cache load failed", "err", err)
		}
	}

	a := &Atlas{
		Generation:   generation.Add(1),
		BuiltAt:      time.Now().UTC(),
		routes:       make(map[int]*ResolvedRoute, len(rawRoutes)),
		byNumber:     make(map[string]*ResolvedRoute, len(rawRoutes)),
		stops:        make(map[int]Stop, len(rawStops)),
		stopToRoutes: make(map[int][]int),
	}
	for _, s := range rawStops {
		a.stops[s.ID] = Stop{
			ID:        s.ID,
			Name:      s.Name,
			Lat:       s.Lat,
			Lon:       s.Lon,
			Direction: s.Direction,
			Active:    s.Active,
		}
	}

	fetched := map[string][]geo.Point{}
	for _, raw := range rawRoutes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		route := resolveRoute(raw, catalog)

		pts, src := b.routeGeometry(ctx, route, cached)
		if len(pts) >= 2 {
			route.HasOSRMGeometry = src != geomFallback
			if src == geomRouter {
				fetched[route.Number] = pts
			}
			fwd := geo.NewLine(pts)
			if err := checkLine(route.Number, fwd); err != nil {
				return nil, err
			}
			route.Dirs[DirectionForward].Line = fwd
			route.Dirs[DirectionReverse].Line = fwd.Reversed()
		}

		for dir := 0; dir < 2; dir++ {
			placeStops(&route.Dirs[dir])
			route.OrderViolations += orderViolations(route.Dirs[dir].Stops)
		}
		if route.OrderViolations > 0 {
			slog.Warn("stop order violates distance order",
				"route", route.Number, "violations", route.OrderViolations)
		}

		a.routes[route.ID] = route
		a.byNumber[route.Number] = route
		for dir := 0; dir < 2; dir++ {
			for _, s := range route.Dirs[dir].Stops {
				if !contains(a.stopToRoutes[s.ID], route.ID) {
					a.stopToRoutes[s.ID] = append(a.stopToRoutes[s.ID], route.ID)
				}
			}
		}
	}

	if b.Cache != nil && len(fetched) > 0 {
		if err := b.Cache.Save(ctx, fetched); err != nil {
			slog.Warn("geometry cache save failed", "err", err)
		}
	}

	slog.Info("atlas built",
		"generation", a.Generation,
		"routes", len(a.routes),
		"stops", len(a.stops))
	return a, nil
}

type geometrySrc int

const (
	geomFallback geometrySrc = iota
	geomRouter
	geomCache
)

// routeGeometry picks the forward-direction polyline: cached router
// geometry, then a live router fetch, then the straight chain through
// the forward stops.
func (b *Builder) routeGeometry(ctx context.Context, route *ResolvedRoute, cached map[string][]geo.Point) ([]geo.Point, geometrySrc) {
	if pts, ok := cached[route.Number]; ok && len(pts) >= 2 {
		return pts, geomCache
	}

	waypoints := stopPoints(route.Dirs[DirectionForward].Stops)
	if len(waypoints) < 2 {
		// Some routes publish stops only in the reverse element.
		waypoints = reversePoints(stopPoints(route.Dirs[DirectionReverse].Stops))
	}
	if len(waypoints) < 2 {
		return nil, geomFallback
	}

	if b.Geometry != nil {
		pts, err := b.Geometry.RouteGeometry(ctx, waypoints)
		if err == nil {
			return pts, geomRouter
		}
		slog.Warn("router geometry failed, using stop chain",
			"route", route.Number, "err", err)
	}
	return waypoints, geomFallback
}

// placeStops projects each stop of a direction onto its line and sorts
// by distance along; the resolved-sequence order breaks ties.
func placeStops(dir *DirectionPath) {
	if dir.Line == nil {
		return
	}
	for i := range dir.Stops {
		p := dir.Line.Project(dir.Stops[i].Lat, dir.Stops[i].Lon)
		dir.Stops[i].DistanceAlong = p.DistanceAlong
	}
	sort.SliceStable(dir.Stops, func(i, j int) bool {
		return dir.Stops[i].DistanceAlong < dir.Stops[j].DistanceAlong
	})
}

// orderViolations counts stops whose distance order disagrees with the
// resolved path order. Reported through diagnostics, never fatal.
func orderViolations(stops []StopOnRoute) int {
	n := 0
	for i := 1; i < len(stops); i++ {
		if stops[i].Order < stops[i-1].Order {
			n++
		}
	}
	return n
}

// checkLine verifies the arc-length invariants of a freshly built line.
func checkLine(routeNumber string, l *geo.Line) error {
	if l == nil {
		return fmt.Errorf("route %s: degenerate geometry", routeNumber)
	}
	if math.IsNaN(l.Length) || math.IsInf(l.Length, 0) {
		return fmt.Errorf("route %s: non-finite length", routeNumber)
	}
	if l.Cum[0] != 0 {
		return fmt.Errorf("route %s: cum[0] = %g, want 0", routeNumber, l.Cum[0])
	}
	for i := 1; i < len(l.Cum); i++ {
		if l.Cum[i] < l.Cum[i-1] {
			return fmt.Errorf("route %s: cumulative distance decreases at %d", routeNumber, i)
		}
	}
	return nil
}

func stopPoints(stops []StopOnRoute) []geo.Point {
	pts := make([]geo.Point, 0, len(stops))
	for _, s := range stops {
		pts = append(pts, geo.Point{Lat: s.Lat, Lon: s.Lon})
	}
	return pts
}

func reversePoints(pts []geo.Point) []geo.Point {
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
	return pts
}

func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
