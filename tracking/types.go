package tracking

import (
	"time"
)

// StopRef identifies a stop in the wire format.
type StopRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// NextStop is one upcoming stop with its time estimate. A nil
// ETASeconds means the estimate exceeded the horizon.
type NextStop struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	ETASeconds *int   `json:"eta_seconds"`

	// DistanceAlong is kept for arrival queries; not serialized.
	DistanceAlong float64 `json:"-"`
}

// VehicleState is the enriched state of one tram. The JSON shape is the
// wire contract shared by the REST and WebSocket surfaces.
type VehicleState struct {
	ID         string     `json:"id"`
	BoardNum   string     `json:"board_num"`
	Route      string     `json:"route"`
	RouteID    *int       `json:"route_id"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	Speed      float64    `json:"speed"`
	Course     float64    `json:"course"`
	PrevStop   *StopRef   `json:"prev_stop"`
	NextStops  []NextStop `json:"next_stops"`
	Progress   *float64   `json:"progress"`
	Timestamp  *string    `json:"timestamp"`
	SignalLost bool       `json:"signal_lost"`

	// Pipeline internals, not part of the wire shape.
	Direction     *int     `json:"-"`
	DistanceAlong *float64 `json:"-"`

	sourceTime *time.Time
	lastSeen   time.Time
	// Raw GPS position before snapping, for great-circle fallbacks.
	rawLat float64
	rawLon float64
}

// SourceTime returns the parsed source timestamp, if any.
func (v *VehicleState) SourceTime() *time.Time { return v.sourceTime }

// LastSeen returns when the vehicle last appeared in the source feed.
func (v *VehicleState) LastSeen() time.Time { return v.lastSeen }

// StopArrival is one vehicle approaching a stop.
type StopArrival struct {
	VehicleID  string `json:"vehicle_id"`
	BoardNum   string `json:"board_num"`
	Route      string `json:"route"`
	RouteID    *int   `json:"route_id"`
	ETASeconds *int   `json:"eta_seconds"`
}

// StopArrivals is the arrivals board for one stop.
type StopArrivals struct {
	StopID   int           `json:"stop_id"`
	StopName string        `json:"stop_name"`
	Arrivals []StopArrival `json:"arrivals"`
}

// StopPassage is one observed traversal between two consecutive stops,
// recorded for travel-time statistics.
type StopPassage struct {
	RouteID    int
	FromStopID int
	ToStopID   int
	Seconds    float64
	At         time.Time
}
