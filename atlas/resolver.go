package atlas

import (
	"log/slog"

	"github.com/empsgit/tram-monitor-ekb/ettu"
)

// resolvePath joins one direction's stop-ID path against the points
// catalog. IDs absent from the catalog are dropped and reported;
// unnamed or inactive stops are counted but kept, their coordinates
// still anchor the geometry.
func resolvePath(path []int, catalog map[int]ettu.RawStop) (stops []StopOnRoute, unresolved []int, unnamed int) {
	for _, id := range path {
		raw, ok := catalog[id]
		if !ok {
			unresolved = append(unresolved, id)
			continue
		}
		if raw.Name == "" || !raw.Active {
			unnamed++
		}
		stops = append(stops, StopOnRoute{
			Stop: Stop{
				ID:        raw.ID,
				Name:      raw.Name,
				Lat:       raw.Lat,
				Lon:       raw.Lon,
				Direction: raw.Direction,
				Active:    raw.Active,
			},
			Order: len(stops),
		})
	}
	return stops, unresolved, unnamed
}

// resolveRoute joins both directions of a raw route.
func resolveRoute(raw ettu.RawRoute, catalog map[int]ettu.RawStop) *ResolvedRoute {
	route := &ResolvedRoute{
		ID:                         raw.ID,
		Number:                     raw.Number,
		Name:                       raw.Name,
		Color:                      DefaultRouteColor,
		ReverseUsesForwardGeometry: true,
	}
	for dir := 0; dir < 2; dir++ {
		stops, unresolved, unnamed := resolvePath(raw.Paths[dir], catalog)
		route.Dirs[dir].Stops = stops
		route.PathStopCount += len(raw.Paths[dir])
		route.UnresolvedIDs = append(route.UnresolvedIDs, unresolved...)
		route.UnnamedCount += unnamed
	}
	if len(route.UnresolvedIDs) > 0 {
		slog.Warn("route has unresolved path stops",
			"route", raw.Number,
			"unresolved", len(route.UnresolvedIDs),
			"total", route.PathStopCount)
	}
	return route
}
