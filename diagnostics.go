package trammonitor

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/empsgit/tram-monitor-ekb/atlas"
	"github.com/empsgit/tram-monitor-ekb/tracking"
)

type routeDiagnostics struct {
	RouteID                    int     `json:"route_id"`
	RouteNumber                string  `json:"route_number"`
	PathStopCount              int     `json:"path_stop_count"`
	ResolvedCount              int     `json:"resolved_count"`
	UnnamedCount               int     `json:"unnamed_count"`
	UnresolvedIDs              []int   `json:"unresolved_ids"`
	OrderViolations            int     `json:"order_violations"`
	HasOSRMGeometry            bool    `json:"has_osrm_geometry"`
	ReverseUsesForwardGeometry bool    `json:"reverse_uses_forward_geometry"`
	GeometryPoints             int     `json:"geometry_points"`
	RouteLengthM               float64 `json:"route_length_m"`
	StopsForward               int     `json:"stops_forward"`
	StopsReverse               int     `json:"stops_reverse"`
}

type diagnosticsReport struct {
	AtlasGeneration   uint64                     `json:"atlas_generation"`
	AtlasBuiltAt      string                     `json:"atlas_built_at"`
	TotalStops        int                        `json:"total_stops_in_points_api"`
	TotalRoutes       int                        `json:"total_routes"`
	TotalVehicles     int                        `json:"total_vehicles"`
	LastTick          *tracking.TickStats        `json:"last_tick"`
	Routes            []routeDiagnostics         `json:"routes"`
	ProjectionEvents  []tracking.ProjectionEvent `json:"projection_events"`
	SubscriberCount   int                        `json:"subscriber_count"`
	StoreAttached     bool                       `json:"store_attached"`
	RedisAttached     bool                       `json:"redis_attached"`
	VehiclesMatched   int                        `json:"vehicles_matched"`
	VehiclesUnmatched int                        `json:"vehicles_unmatched"`
}

func diagnoseRoute(route *atlas.ResolvedRoute) routeDiagnostics {
	d := routeDiagnostics{
		RouteID:                    route.ID,
		RouteNumber:                route.Number,
		PathStopCount:              route.PathStopCount,
		ResolvedCount:              route.PathStopCount - len(route.UnresolvedIDs),
		UnnamedCount:               route.UnnamedCount,
		UnresolvedIDs:              route.UnresolvedIDs,
		OrderViolations:            route.OrderViolations,
		HasOSRMGeometry:            route.HasOSRMGeometry,
		ReverseUsesForwardGeometry: route.ReverseUsesForwardGeometry,
		StopsForward:               len(route.Dirs[atlas.DirectionForward].Stops),
		StopsReverse:               len(route.Dirs[atlas.DirectionReverse].Stops),
	}
	if d.UnresolvedIDs == nil {
		d.UnresolvedIDs = []int{}
	}
	if line := route.Line(atlas.DirectionForward); line != nil {
		d.GeometryPoints = len(line.Pts)
		d.RouteLengthM = line.Length
	}
	return d
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	a := s.app.Atlas()
	if a == nil {
		s.unavailableOrEmpty(w, nil)
		return
	}

	report := diagnosticsReport{
		AtlasGeneration: a.Generation,
		AtlasBuiltAt:    a.BuiltAt.Format("2006-01-02T15:04:05Z07:00"),
		TotalStops:      a.StopCount(),
		TotalRoutes:     a.RouteCount(),
		TotalVehicles:   s.app.tracker.VehicleCount(),
		LastTick:        s.app.tracker.LastTick(),
		Routes:          []routeDiagnostics{},
		ProjectionEvents: s.app.tracker.ProjectionEvents(100),
		SubscriberCount: s.app.broadcaster.SubscriberCount(),
		StoreAttached:   s.app.store != nil,
		RedisAttached:   s.app.cfg.RedisURL != "",
	}
	if report.LastTick != nil {
		report.VehiclesMatched = report.LastTick.VehiclesMatched
		report.VehiclesUnmatched = report.LastTick.VehiclesUnmatched
	}
	if report.ProjectionEvents == nil {
		report.ProjectionEvents = []tracking.ProjectionEvent{}
	}
	for _, route := range a.Routes() {
		report.Routes = append(report.Routes, diagnoseRoute(route))
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRouteDiagnostics(w http.ResponseWriter, r *http.Request) {
	a := s.app.Atlas()
	if a == nil {
		s.unavailableOrEmpty(w, nil)
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid route id")
		return
	}
	route, ok := a.Route(id)
	if !ok {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	writeJSON(w, http.StatusOK, diagnoseRoute(route))
}
