package trammonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/empsgit/tram-monitor-ekb/atlas"
)

// Server serves the read-only query API, the metrics endpoint, and the
// vehicle WebSocket. All reads come from the atlas and the state table;
// handlers never call the source API inline.
type Server struct {
	app  *App
	http *http.Server
}

// NewServer builds the router and the underlying http.Server.
func NewServer(app *App) *Server {
	s := &Server{app: app}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(app.cfg.Server.CORSOrigins, ","),
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/api/routes", s.handleListRoutes)
	r.Get("/api/routes/{id}", s.handleGetRoute)
	r.Get("/api/stops", s.handleListStops)
	r.Get("/api/stops/{id}/arrivals", s.handleArrivals)
	r.Get("/api/vehicles", s.handleListVehicles)
	r.Get("/api/vehicles/{id}", s.handleGetVehicle)
	r.Get("/api/diagnostics", s.handleDiagnostics)
	r.Get("/api/diagnostics/routes/{id}", s.handleRouteDiagnostics)
	r.Get("/api/health", s.handleHealth)
	r.Get("/ws/vehicles", s.handleVehicleWS)
	r.Handle("/metrics", app.metrics.Handler())

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start begins listening in the background.
func (s *Server) Start() {
	go func() {
		slog.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "err", err)
		}
	}()
}

// Shutdown drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Wire shapes of the route and stop endpoints.

type routeSummary struct {
	ID       int          `json:"id"`
	Number   string       `json:"number"`
	Name     string       `json:"name"`
	Color    string       `json:"color"`
	StopIDs  []int        `json:"stop_ids"`
	Geometry [][2]float64 `json:"geometry"`
}

type routeStopDetail struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Order         int     `json:"order"`
	Direction     int     `json:"direction"`
	DistanceAlong float64 `json:"distance_along"`
}

type routeDetail struct {
	ID       int               `json:"id"`
	Number   string            `json:"number"`
	Name     string            `json:"name"`
	Color    string            `json:"color"`
	Stops    []routeStopDetail `json:"stops"`
	Geometry [][2]float64      `json:"geometry"`
}

type stopSummary struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Direction string  `json:"direction"`
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	a := s.app.Atlas()
	if a == nil {
		s.unavailableOrEmpty(w, []routeSummary{})
		return
	}
	out := make([]routeSummary, 0, a.RouteCount())
	for _, route := range a.Routes() {
		out = append(out, routeSummary{
			ID:       route.ID,
			Number:   route.Number,
			Name:     route.Name,
			Color:    route.Color,
			StopIDs:  namedStopIDs(route),
			Geometry: lineCoords(route),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
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

	detail := routeDetail{
		ID:       route.ID,
		Number:   route.Number,
		Name:     route.Name,
		Color:    route.Color,
		Stops:    []routeStopDetail{},
		Geometry: lineCoords(route),
	}
	for dir := 0; dir < 2; dir++ {
		for _, st := range route.Dirs[dir].Stops {
			if st.Name == "" {
				continue
			}
			detail.Stops = append(detail.Stops, routeStopDetail{
				ID:            st.ID,
				Name:          st.Name,
				Lat:           st.Lat,
				Lon:           st.Lon,
				Order:         st.Order,
				Direction:     dir,
				DistanceAlong: st.DistanceAlong,
			})
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListStops(w http.ResponseWriter, r *http.Request) {
	a := s.app.Atlas()
	if a == nil {
		s.unavailableOrEmpty(w, []stopSummary{})
		return
	}
	out := make([]stopSummary, 0, a.StopCount())
	for _, st := range a.Stops() {
		if st.Name == "" {
			continue
		}
		out = append(out, stopSummary{
			ID:        st.ID,
			Name:      st.Name,
			Lat:       st.Lat,
			Lon:       st.Lon,
			Direction: st.Direction,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleArrivals(w http.ResponseWriter, r *http.Request) {
	a := s.app.Atlas()
	if a == nil {
		s.unavailableOrEmpty(w, nil)
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stop id")
		return
	}
	stop, ok := a.Stop(id)
	if !ok {
		writeError(w, http.StatusNotFound, "stop not found")
		return
	}
	arrivals := s.app.tracker.ArrivalsAt(a, stop, r.URL.Query().Get("route"))
	writeJSON(w, http.StatusOK, map[string]any{
		"stop_id":   stop.ID,
		"stop_name": stop.Name,
		"arrivals":  arrivals,
	})
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	if !s.app.ready() {
		s.unavailableOrEmpty(w, nil)
		return
	}
	states := s.app.tracker.Snapshot()
	if route := r.URL.Query().Get("route"); route != "" {
		filtered := states[:0]
		for _, st := range states {
			if st.Route == route {
				filtered = append(filtered, st)
			}
		}
		states = filtered
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	if !s.app.ready() {
		s.unavailableOrEmpty(w, nil)
		return
	}
	st, ok := s.app.tracker.Vehicle(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "vehicle not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// unavailableOrEmpty implements the degradation contract: 200 with an
// empty body while any surface is initialized, 503 before that.
func (s *Server) unavailableOrEmpty(w http.ResponseWriter, empty any) {
	if !s.app.ready() {
		writeError(w, http.StatusServiceUnavailable, "not initialized")
		return
	}
	if empty == nil {
		empty = map[string]any{}
	}
	writeJSON(w, http.StatusOK, empty)
}

func namedStopIDs(route *atlas.ResolvedRoute) []int {
	seen := map[int]struct{}{}
	ids := []int{}
	for dir := 0; dir < 2; dir++ {
		for _, st := range route.Dirs[dir].Stops {
			if st.Name == "" {
				continue
			}
			if _, ok := seen[st.ID]; ok {
				continue
			}
			seen[st.ID] = struct{}{}
			ids = append(ids, st.ID)
		}
	}
	return ids
}

func lineCoords(route *atlas.ResolvedRoute) [][2]float64 {
	line := route.Line(0)
	if line == nil {
		return [][2]float64{}
	}
	coords := make([][2]float64, len(line.Pts))
	for i, p := range line.Pts {
		coords[i] = [2]float64{p.Lat, p.Lon}
	}
	return coords
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
