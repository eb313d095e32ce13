package tracking

import (
	"github.com/empsgit/tram-monitor-ekb/atlas"
	"github.com/empsgit/tram-monitor-ekb/geo"
)

// MatchResult is a successful snap of a vehicle onto a route direction.
type MatchResult struct {
	RouteID       int
	Direction     int
	Progress      float64
	DistanceAlong float64
	PerpDistM     float64
	Lat           float64 // snapped position
	Lon           float64
}

// Match projects a vehicle's GPS point onto the candidate routes and
// picks the direction whose bearing agrees with the vehicle's course.
//
// Every direction polyline of every candidate is projected. Directions
// whose segment bearing is within 90 degrees of the course are preferred;
// among those the smallest perpendicular distance wins. When the course
// disagrees with both (or sits at exactly 90 degrees), distance alone
// decides. Matches farther than maxSnapM from any polyline are rejected.
func Match(lat, lon, course float64, candidates []*atlas.ResolvedRoute, maxSnapM float64) *MatchResult {
	var best *MatchResult
	bestAligned := false

	for _, route := range candidates {
		for dir := 0; dir < 2; dir++ {
			line := route.Line(dir)
			if line == nil {
				continue
			}
			p := line.Project(lat, lon)
			aligned := geo.AngularDiff(course, p.Bearing) < 90

			better := false
			switch {
			case best == nil:
				better = true
			case aligned && !bestAligned:
				better = true
			case aligned == bestAligned && p.PerpDistM < best.PerpDistM:
				better = true
			}
			if better {
				best = &MatchResult{
					RouteID:       route.ID,
					Direction:     dir,
					Progress:      p.Progress,
					DistanceAlong: p.DistanceAlong,
					PerpDistM:     p.PerpDistM,
					Lat:           p.Lat,
					Lon:           p.Lon,
				}
				bestAligned = aligned
			}
		}
	}

	if best == nil || best.PerpDistM > maxSnapM {
		return nil
	}
	return best
}
