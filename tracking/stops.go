package tracking

import (
	"sort"

	"github.com/empsgit/tram-monitor-ekb/atlas"
)

// MaxNextStops is how many upcoming stops a vehicle state carries.
const MaxNextStops = 5

// Detection holds the stops around a position on a direction path.
type Detection struct {
	Prev *atlas.StopOnRoute
	Next []atlas.StopOnRoute
}

// DetectStops locates the previous stop and the next maxNext stops for a
// vehicle at distanceAlong on the given direction. The direction's stops
// are pre-sorted by distance along, so a binary search finds the last
// stop at or before the position.
func DetectStops(route *atlas.ResolvedRoute, direction int, distanceAlong float64, maxNext int) Detection {
	if direction < 0 || direction > 1 {
		return Detection{}
	}
	stops := route.Dirs[direction].Stops
	if len(stops) == 0 {
		return Detection{}
	}

	// First index with DistanceAlong strictly greater than the position.
	idx := sort.Search(len(stops), func(i int) bool {
		return stops[i].DistanceAlong > distanceAlong
	})

	var det Detection
	if idx > 0 {
		det.Prev = &stops[idx-1]
	}
	end := idx + maxNext
	if end > len(stops) {
		end = len(stops)
	}
	if idx < end {
		det.Next = stops[idx:end]
	}
	return det
}
