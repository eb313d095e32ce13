package tracking

import (
	"sort"

	"github.com/empsgit/tram-monitor-ekb/atlas"
	"github.com/empsgit/tram-monitor-ekb/geo"
)

const maxArrivals = 15

// ArrivalsAt builds the arrivals board for a stop. Vehicles whose
// upcoming-stop list contains the stop use their pipeline ETAs. Routes
// serving the stop that produced no such hit fall back to a great-circle
// estimate from each vehicle's raw position, so a board is available
// even when map matching failed.
func (t *Tracker) ArrivalsAt(a *atlas.Atlas, stop atlas.Stop, routeFilter string) []StopArrival {
	states := t.Snapshot()

	arrivals := make([]StopArrival, 0, 8)
	hitRoutes := map[int]struct{}{}

	for i := range states {
		st := &states[i]
		if st.SignalLost {
			continue
		}
		if routeFilter != "" && st.Route != routeFilter {
			continue
		}
		for _, ns := range st.NextStops {
			if ns.ID != stop.ID {
				continue
			}
			arrivals = append(arrivals, StopArrival{
				VehicleID:  st.ID,
				BoardNum:   st.BoardNum,
				Route:      st.Route,
				RouteID:    st.RouteID,
				ETASeconds: ns.ETASeconds,
			})
			if st.RouteID != nil {
				hitRoutes[*st.RouteID] = struct{}{}
			}
			break
		}
	}

	// Fallback tier: straight-line estimates for serving routes with no
	// pipeline hit.
	for _, routeID := range a.RoutesServing(stop.ID) {
		if _, ok := hitRoutes[routeID]; ok {
			continue
		}
		route, ok := a.Route(routeID)
		if !ok {
			continue
		}
		if routeFilter != "" && route.Number != routeFilter {
			continue
		}
		for i := range states {
			st := &states[i]
			if st.SignalLost || st.Route != route.Number {
				continue
			}
			if hasArrival(arrivals, st.ID) {
				continue
			}
			distM := geo.HaversineM(st.rawLat, st.rawLon, stop.Lat, stop.Lon)
			eta := etaSeconds(distM, st.Speed)
			if eta == nil {
				continue
			}
			arrivals = append(arrivals, StopArrival{
				VehicleID:  st.ID,
				BoardNum:   st.BoardNum,
				Route:      st.Route,
				RouteID:    st.RouteID,
				ETASeconds: eta,
			})
		}
	}

	sort.SliceStable(arrivals, func(i, j int) bool {
		return etaOrInf(arrivals[i].ETASeconds) < etaOrInf(arrivals[j].ETASeconds)
	})
	if len(arrivals) > maxArrivals {
		arrivals = arrivals[:maxArrivals]
	}
	return arrivals
}

func hasArrival(arrivals []StopArrival, vehicleID string) bool {
	for _, a := range arrivals {
		if a.VehicleID == vehicleID {
			return true
		}
	}
	return false
}

func etaOrInf(eta *int) int {
	if eta == nil {
		return int(^uint(0) >> 1)
	}
	return *eta
}
