package tracking

import (
	"testing"
	"time"

	"github.com/empsgit/tram-monitor-ekb/ettu"
)

func rawAt(id string, lat, lon, course, speed float64, ts *time.Time) ettu.RawVehicle {
	return ettu.RawVehicle{
		DevID:     id,
		BoardNum:  "801",
		RouteNum:  "1",
		Lat:       lat,
		Lon:       lon,
		SpeedKmh:  speed,
		Course:    course,
		Timestamp: ts,
	}
}

func TestTickHappyPath(t *testing.T) {
	a := buildTestAtlas(t)
	tracker := NewTracker(testPipelineConfig())
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	ts := now.Add(-5 * time.Second)

	result := tracker.Tick(now, a, []ettu.RawVehicle{
		rawAt("tram-1", midLat, testLon, 0, 36, &ts),
	})
	if len(result.States) != 1 {
		t.Fatalf("emitted %d states, want 1", len(result.States))
	}
	st := result.States[0]

	if st.RouteID == nil || *st.RouteID != testRouteID {
		t.Fatalf("route_id = %v, want %d", st.RouteID, testRouteID)
	}
	if st.Direction == nil || *st.Direction != 0 {
		t.Errorf("direction = %v, want forward", st.Direction)
	}
	if st.Progress == nil || *st.Progress < 0.49 || *st.Progress > 0.51 {
		t.Errorf("progress = %v, want ~0.5", st.Progress)
	}
	if st.DistanceAlong == nil || *st.DistanceAlong < 4980 || *st.DistanceAlong > 5020 {
		t.Errorf("distance along = %v, want ~5000", st.DistanceAlong)
	}
	if st.PrevStop == nil || st.PrevStop.ID != 1 {
		t.Errorf("prev stop = %+v, want stop 1", st.PrevStop)
	}
	if len(st.NextStops) != 1 || st.NextStops[0].ID != 2 {
		t.Fatalf("next stops = %+v, want [stop 2]", st.NextStops)
	}
	eta := st.NextStops[0].ETASeconds
	if eta == nil || *eta < 495 || *eta > 505 {
		t.Errorf("eta = %v, want ~500 s", eta)
	}
	if st.SignalLost {
		t.Errorf("fresh vehicle reported signal_lost")
	}

	stats := tracker.LastTick()
	if stats.VehiclesMatched != 1 || stats.VehiclesUnmatched != 0 {
		t.Errorf("stats = %+v, want 1 matched", stats)
	}
	if stats.PerRoute["1"] != 1 {
		t.Errorf("per-route counts = %v, want route 1 -> 1", stats.PerRoute)
	}
}

func TestTickReverseDirection(t *testing.T) {
	a := buildTestAtlas(t)
	tracker := NewTracker(testPipelineConfig())
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	result := tracker.Tick(now, a, []ettu.RawVehicle{
		rawAt("tram-1", midLat, testLon, 180, 36, nil),
	})
	st := result.States[0]

	if st.Direction == nil || *st.Direction != 1 {
		t.Fatalf("direction = %v, want reverse", st.Direction)
	}
	// Walking backward: the north stop is behind, the south stop ahead.
	if st.PrevStop == nil || st.PrevStop.ID != 2 {
		t.Errorf("prev stop = %+v, want stop 2", st.PrevStop)
	}
	if len(st.NextStops) != 1 || st.NextStops[0].ID != 1 {
		t.Errorf("next stops = %+v, want [stop 1]", st.NextStops)
	}
}

func TestTickOffRouteStillEmitted(t *testing.T) {
	a := buildTestAtlas(t)
	tracker := NewTracker(testPipelineConfig())
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	offLon := testLon + 0.00825 // ~500 m east

	result := tracker.Tick(now, a, []ettu.RawVehicle{
		rawAt("tram-1", midLat, offLon, 0, 36, nil),
	})
	if len(result.States) != 1 {
		t.Fatalf("emitted %d states, want 1", len(result.States))
	}
	st := result.States[0]
	if st.RouteID != nil || st.Progress != nil || st.Direction != nil {
		t.Errorf("off-route vehicle should carry null route fields: %+v", st)
	}
	if st.Lat != midLat || st.Lon != offLon {
		t.Errorf("raw position should pass through, got (%v, %v)", st.Lat, st.Lon)
	}
	if tracker.LastTick().VehiclesUnmatched != 1 {
		t.Errorf("expected an unmatched count")
	}
	if events := tracker.ProjectionEvents(10); len(events) != 1 || events[0].Kind != "snap_rejected_far" {
		t.Errorf("projection events = %+v, want one rejection", events)
	}
}

func TestTickUnknownRoute(t *testing.T) {
	a := buildTestAtlas(t)
	tracker := NewTracker(testPipelineConfig())
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	rv := rawAt("tram-9", midLat, testLon, 0, 36, nil)
	rv.RouteNum = "99"
	result := tracker.Tick(now, a, []ettu.RawVehicle{rv})

	st := result.States[0]
	if st.RouteID != nil {
		t.Errorf("unknown route should leave route_id null")
	}
	if st.Route != "99" {
		t.Errorf("route string = %q, want pass-through", st.Route)
	}
}

func TestTickNilAtlas(t *testing.T) {
	tracker := NewTracker(testPipelineConfig())
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	result := tracker.Tick(now, nil, []ettu.RawVehicle{
		rawAt("tram-1", midLat, testLon, 0, 36, nil),
	})
	if len(result.States) != 1 || result.States[0].RouteID != nil {
		t.Errorf("vehicles must be emitted unmatched before the atlas exists")
	}
}

func TestTickSignalLost(t *testing.T) {
	a := buildTestAtlas(t)
	tracker := NewTracker(testPipelineConfig())
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-90 * time.Second)

	result := tracker.Tick(now, a, []ettu.RawVehicle{
		rawAt("tram-1", midLat, testLon, 0, 36, &stale),
	})
	if !result.States[0].SignalLost {
		t.Errorf("vehicle with a 90 s old timestamp should be signal_lost")
	}
}

func TestTickEviction(t *testing.T) {
	a := buildTestAtlas(t)
	tracker := NewTracker(testPipelineConfig())
	t0 := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	tracker.Tick(t0, a, []ettu.RawVehicle{rawAt("tram-1", midLat, testLon, 0, 36, nil)})
	if tracker.VehicleCount() != 1 {
		t.Fatalf("tracked = %d, want 1", tracker.VehicleCount())
	}

	// Still within TTL: the vehicle is carried over.
	tracker.Tick(t0.Add(30*time.Second), a, nil)
	if _, ok := tracker.Vehicle("tram-1"); !ok {
		t.Fatalf("vehicle evicted before TTL")
	}

	// Beyond TTL: gone from the table and the snapshot.
	tracker.Tick(t0.Add(121*time.Second), a, nil)
	if _, ok := tracker.Vehicle("tram-1"); ok {
		t.Errorf("vehicle still present after TTL")
	}
	if len(tracker.Snapshot()) != 0 {
		t.Errorf("snapshot still lists evicted vehicles")
	}
}

func TestTickUpdateFrameOnlyCurrentVehicles(t *testing.T) {
	a := buildTestAtlas(t)
	tracker := NewTracker(testPipelineConfig())
	t0 := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	tracker.Tick(t0, a, []ettu.RawVehicle{rawAt("tram-1", midLat, testLon, 0, 36, nil)})
	result := tracker.Tick(t0.Add(10*time.Second), a, []ettu.RawVehicle{
		rawAt("tram-2", midLat, testLon, 0, 36, nil),
	})

	if len(result.States) != 1 || result.States[0].ID != "tram-2" {
		t.Errorf("update frame = %+v, want only tram-2", result.States)
	}
	if len(tracker.Snapshot()) != 2 {
		t.Errorf("snapshot = %d vehicles, want both", len(tracker.Snapshot()))
	}
}

func TestTickStopPassage(t *testing.T) {
	a := buildTestAtlas(t)
	tracker := NewTracker(testPipelineConfig())
	t0 := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	// Just past the south stop, then just past the north stop.
	tracker.Tick(t0, a, []ettu.RawVehicle{rawAt("tram-1", startLat+0.001, testLon, 0, 36, nil)})
	result := tracker.Tick(t0.Add(10*time.Minute), a, []ettu.RawVehicle{
		rawAt("tram-1", endLat, testLon, 0, 36, nil),
	})

	if len(result.Passages) != 1 {
		t.Fatalf("passages = %d, want 1", len(result.Passages))
	}
	p := result.Passages[0]
	if p.FromStopID != 1 || p.ToStopID != 2 {
		t.Errorf("passage %d -> %d, want 1 -> 2", p.FromStopID, p.ToStopID)
	}
	if p.Seconds < 599 || p.Seconds > 601 {
		t.Errorf("elapsed = %v, want ~600 s", p.Seconds)
	}
}
