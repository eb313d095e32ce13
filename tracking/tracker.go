package tracking

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/empsgit/tram-monitor-ekb/atlas"
	"github.com/empsgit/tram-monitor-ekb/config"
	"github.com/empsgit/tram-monitor-ekb/ettu"
)

type stateTable map[string]VehicleState

// TickStats summarizes one pipeline tick for diagnostics.
type TickStats struct {
	At                time.Time      `json:"at"`
	VehiclesTotal     int            `json:"vehicles_total"`
	VehiclesMatched   int            `json:"vehicles_matched"`
	VehiclesUnmatched int            `json:"vehicles_unmatched"`
	PerRoute          map[string]int `json:"per_route"`
}

// TickResult is what one tick produced: the states observed in this
// tick (the update frame payload) and any stop passages completed.
type TickResult struct {
	States   []VehicleState
	Passages []StopPassage
}

// ProjectionEvent records a rejected or suspicious snap for diagnostics.
type ProjectionEvent struct {
	At        time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	VehicleID string    `json:"vehicle_id"`
	Route     string    `json:"route"`
	DistanceM float64   `json:"distance_m,omitempty"`
}

const projectionEventCap = 500

type passageMark struct {
	stopID  int
	routeID int
	at      time.Time
}

// Minimum and maximum plausible traversal between consecutive stops;
// observations outside the window are GPS glitches.
const (
	minPassageSeconds = 10
	maxPassageSeconds = 1800
)

// Tracker runs the per-tick enrichment pipeline and owns the current
// vehicle state table. Tick is the table's only writer; readers take the
// atomically published generation of the whole table.
type Tracker struct {
	cfg config.PipelineConfig

	table atomic.Pointer[stateTable]
	stats atomic.Pointer[TickStats]

	// Written only from Tick.
	lastPassage map[string]passageMark

	eventsMu sync.Mutex
	events   []ProjectionEvent
}

// NewTracker creates a tracker with an empty state table.
func NewTracker(cfg config.PipelineConfig) *Tracker {
	t := &Tracker{
		cfg:         cfg,
		lastPassage: make(map[string]passageMark),
	}
	empty := stateTable{}
	t.table.Store(&empty)
	return t
}

// Tick processes one batch of raw vehicles against the given atlas
// generation, upserts the state table, evicts expired vehicles, and
// returns the states observed in this tick.
func (t *Tracker) Tick(now time.Time, a *atlas.Atlas, raw []ettu.RawVehicle) TickResult {
	prev := *t.table.Load()
	next := make(stateTable, len(prev)+len(raw))
	for id, st := range prev {
		next[id] = st
	}

	stats := TickStats{
		At:            now,
		VehiclesTotal: len(raw),
		PerRoute:      map[string]int{},
	}
	result := TickResult{States: make([]VehicleState, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))

	for _, rv := range raw {
		st := t.process(now, a, rv, &stats)
		next[st.ID] = st
		seen[st.ID] = struct{}{}
		result.States = append(result.States, st)
		if p := t.markPassage(st, now); p != nil {
			result.Passages = append(result.Passages, *p)
		}
	}

	// Refresh staleness on carried-over entries and evict the expired.
	ttl := time.Duration(t.cfg.VehicleTTLSeconds) * time.Second
	for id, st := range next {
		if _, ok := seen[id]; !ok {
			if now.Sub(st.lastSeen) > ttl {
				delete(next, id)
				delete(t.lastPassage, id)
				continue
			}
			st.SignalLost = t.signalLost(now, st.sourceTime)
			next[id] = st
		}
	}

	t.table.Store(&next)
	t.stats.Store(&stats)
	slog.Info("tick processed",
		"vehicles", stats.VehiclesTotal,
		"matched", stats.VehiclesMatched,
		"unmatched", stats.VehiclesUnmatched,
		"tracked", len(next))
	return result
}

// process enriches a single raw vehicle. Unmatched vehicles are still
// emitted, with raw position and null route fields.
func (t *Tracker) process(now time.Time, a *atlas.Atlas, rv ettu.RawVehicle, stats *TickStats) VehicleState {
	st := VehicleState{
		ID:         rv.DevID,
		BoardNum:   rv.BoardNum,
		Route:      rv.RouteNum,
		Lat:        rv.Lat,
		Lon:        rv.Lon,
		Speed:      rv.SpeedKmh,
		Course:     rv.Course,
		NextStops:  []NextStop{},
		Timestamp:  formatTimestamp(rv.Timestamp),
		SignalLost: t.signalLost(now, rv.Timestamp),
		sourceTime: rv.Timestamp,
		lastSeen:   now,
		rawLat:     rv.Lat,
		rawLon:     rv.Lon,
	}

	if a == nil {
		stats.VehiclesUnmatched++
		return st
	}
	route, ok := a.RouteByNumber(rv.RouteNum)
	if !ok {
		stats.VehiclesUnmatched++
		return st
	}

	m := Match(rv.Lat, rv.Lon, rv.Course, []*atlas.ResolvedRoute{route}, t.cfg.MaxSnapDistanceM)
	if m == nil {
		stats.VehiclesUnmatched++
		t.recordEvent(ProjectionEvent{
			At:        now,
			Kind:      "snap_rejected_far",
			VehicleID: rv.DevID,
			Route:     rv.RouteNum,
		})
		return st
	}

	stats.VehiclesMatched++
	stats.PerRoute[route.Number]++

	routeID := m.RouteID
	direction := m.Direction
	progress := m.Progress
	distance := m.DistanceAlong
	st.RouteID = &routeID
	st.Direction = &direction
	st.Progress = &progress
	st.DistanceAlong = &distance
	st.Lat = m.Lat
	st.Lon = m.Lon

	det := DetectStops(route, direction, distance, MaxNextStops)
	if det.Prev != nil {
		st.PrevStop = &StopRef{ID: det.Prev.ID, Name: det.Prev.DisplayName()}
	}
	st.NextStops = CalculateETAs(distance, rv.SpeedKmh, det.Next)
	return st
}

// markPassage tracks prev-stop transitions for travel-time statistics.
func (t *Tracker) markPassage(st VehicleState, now time.Time) *StopPassage {
	if st.PrevStop == nil || st.RouteID == nil {
		return nil
	}
	mark, ok := t.lastPassage[st.ID]
	t.lastPassage[st.ID] = passageMark{stopID: st.PrevStop.ID, routeID: *st.RouteID, at: now}

	if !ok || mark.stopID == st.PrevStop.ID || mark.routeID != *st.RouteID {
		return nil
	}
	elapsed := now.Sub(mark.at).Seconds()
	if elapsed < minPassageSeconds || elapsed > maxPassageSeconds {
		return nil
	}
	return &StopPassage{
		RouteID:    *st.RouteID,
		FromStopID: mark.stopID,
		ToStopID:   st.PrevStop.ID,
		Seconds:    elapsed,
		At:         now,
	}
}

func (t *Tracker) signalLost(now time.Time, sourceTime *time.Time) bool {
	if sourceTime == nil {
		return false
	}
	return now.Sub(*sourceTime) > time.Duration(t.cfg.SignalLostSeconds)*time.Second
}

// Snapshot returns the current state table as a sorted slice.
func (t *Tracker) Snapshot() []VehicleState {
	table := *t.table.Load()
	out := make([]VehicleState, 0, len(table))
	for _, st := range table {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Vehicle returns the current state of one vehicle.
func (t *Tracker) Vehicle(id string) (VehicleState, bool) {
	table := *t.table.Load()
	st, ok := table[id]
	return st, ok
}

// VehicleCount reports the number of tracked vehicles.
func (t *Tracker) VehicleCount() int {
	return len(*t.table.Load())
}

// LastTick returns the most recent tick's statistics, or nil before the
// first tick.
func (t *Tracker) LastTick() *TickStats {
	return t.stats.Load()
}

func (t *Tracker) recordEvent(e ProjectionEvent) {
	t.eventsMu.Lock()
	defer t.eventsMu.Unlock()
	t.events = append(t.events, e)
	if len(t.events) > projectionEventCap {
		t.events = t.events[len(t.events)-projectionEventCap:]
	}
}

// ProjectionEvents returns up to limit most recent projection events.
func (t *Tracker) ProjectionEvents(limit int) []ProjectionEvent {
	t.eventsMu.Lock()
	defer t.eventsMu.Unlock()
	if limit <= 0 || limit > len(t.events) {
		limit = len(t.events)
	}
	out := make([]ProjectionEvent, limit)
	copy(out, t.events[len(t.events)-limit:])
	return out
}

func formatTimestamp(ts *time.Time) *string {
	if ts == nil {
		return nil
	}
	s := ts.UTC().Format(time.RFC3339)
	return &s
}
