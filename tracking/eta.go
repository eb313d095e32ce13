package tracking

import (
	"github.com/empsgit/tram-monitor-ekb/atlas"
)

// MinSpeedKmh is the speed floor for ETA math; a stopped tram is assumed
// to move again at walking-plus pace rather than never arrive.
const MinSpeedKmh = 5.0

// MaxETASeconds caps the estimate horizon; anything beyond is reported
// as unknown.
const MaxETASeconds = 3600

// etaSeconds estimates the time to cover remaining meters at the given
// speed. Returns nil when the estimate exceeds the horizon.
func etaSeconds(remainingM, speedKmh float64) *int {
	if remainingM < 0 {
		remainingM = 0
	}
	effective := speedKmh
	if effective < MinSpeedKmh {
		effective = MinSpeedKmh
	}
	eta := int(remainingM / (effective / 3.6))
	if eta > MaxETASeconds {
		return nil
	}
	return &eta
}

// CalculateETAs produces the wire-format upcoming-stop list for a
// vehicle at distanceAlong. Stops beyond the horizon are still emitted,
// with a nil estimate, for context.
func CalculateETAs(distanceAlong, speedKmh float64, next []atlas.StopOnRoute) []NextStop {
	out := make([]NextStop, 0, len(next))
	for _, stop := range next {
		out = append(out, NextStop{
			ID:            stop.ID,
			Name:          stop.DisplayName(),
			ETASeconds:    etaSeconds(stop.DistanceAlong-distanceAlong, speedKmh),
			DistanceAlong: stop.DistanceAlong,
		})
	}
	return out
}
