package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/empsgit/tram-monitor-ekb/atlas"
	"github.com/empsgit/tram-monitor-ekb/geo"
	"github.com/empsgit/tram-monitor-ekb/tracking"
)

// geometryCacheTTL bounds how long cached router polylines are reused.
const geometryCacheTTL = 24 * time.Hour

// Observations during the night service gap are unreliable and skipped.
var ekbZone = time.FixedZone("YEKT", 5*3600)

// Store persists historical rows to Postgres. Every write is
// best-effort from the pipeline's point of view: the caller logs
// failures and moves on.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects a pgx pool to the given DSN and pings it.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS routes (
		id INTEGER PRIMARY KEY,
		number TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '#e53935'
	)`,
	`CREATE TABLE IF NOT EXISTS stops (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS route_stops (
		id BIGSERIAL PRIMARY KEY,
		route_id INTEGER NOT NULL REFERENCES routes(id),
		stop_id INTEGER NOT NULL REFERENCES stops(id),
		direction INTEGER NOT NULL DEFAULT 0,
		ord INTEGER NOT NULL,
		distance_along DOUBLE PRECISION,
		CONSTRAINT uq_route_stop_dir_ord UNIQUE (route_id, stop_id, direction, ord)
	)`,
	`CREATE TABLE IF NOT EXISTS vehicle_positions (
		id BIGSERIAL PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		route_id INTEGER,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		speed DOUBLE PRECISION,
		course DOUBLE PRECISION,
		progress DOUBLE PRECISION,
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_vp_vehicle_ts ON vehicle_positions (vehicle_id, ts)`,
	`CREATE INDEX IF NOT EXISTS ix_vp_route_ts ON vehicle_positions (route_id, ts)`,
	`CREATE TABLE IF NOT EXISTS travel_time_segments (
		id BIGSERIAL PRIMARY KEY,
		route_id INTEGER NOT NULL,
		from_stop_id INTEGER NOT NULL,
		to_stop_id INTEGER NOT NULL,
		day_type TEXT NOT NULL,
		hour INTEGER NOT NULL,
		mean_seconds DOUBLE PRECISION NOT NULL,
		sample_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT uq_travel_segment UNIQUE (route_id, from_stop_id, to_stop_id, day_type, hour)
	)`,
	`CREATE TABLE IF NOT EXISTS route_geometry_cache (
		route_number TEXT PRIMARY KEY,
		coords_json JSONB NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema: %w", err)
		}
	}
	return nil
}

// UpsertAtlas persists the catalog of a freshly built atlas generation:
// routes, named stops, and route-stop placements.
func (s *Store) UpsertAtlas(ctx context.Context, a *atlas.Atlas) error {
	batch := &pgx.Batch{}
	for _, r := range a.Routes() {
		batch.Queue(`
			INSERT INTO routes (id, number, name, color) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET number = $2, name = $3, color = $4`,
			r.ID, r.Number, r.Name, r.Color)
	}
	for _, st := range a.Stops() {
		if st.Name == "" {
			continue
		}
		batch.Queue(`
			INSERT INTO stops (id, name, direction, lat, lon) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET name = $2, direction = $3, lat = $4, lon = $5`,
			st.ID, st.Name, st.Direction, st.Lat, st.Lon)
	}
	for _, r := range a.Routes() {
		for dir := 0; dir < 2; dir++ {
			for _, st := range r.Dirs[dir].Stops {
				if st.Name == "" {
					continue
				}
				batch.Queue(`
					INSERT INTO route_stops (route_id, stop_id, direction, ord, distance_along)
					VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT ON CONSTRAINT uq_route_stop_dir_ord
					DO UPDATE SET distance_along = $5`,
					r.ID, st.ID, dir, st.Order, st.DistanceAlong)
			}
		}
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store: upsert atlas: %w", err)
	}
	slog.Debug("persisted atlas catalog", "routes", a.RouteCount())
	return nil
}

// InsertPositions appends this tick's positions to the history table.
func (s *Store) InsertPositions(ctx context.Context, states []tracking.VehicleState, now time.Time) error {
	if len(states) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range states {
		st := &states[i]
		var progress *float64
		if st.Progress != nil {
			progress = st.Progress
		}
		ts := now
		if src := st.SourceTime(); src != nil {
			ts = *src
		}
		batch.Queue(`
			INSERT INTO vehicle_positions (vehicle_id, route_id, lat, lon, speed, course, progress, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			st.ID, st.RouteID, st.Lat, st.Lon, st.Speed, st.Course, progress, ts)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store: insert positions: %w", err)
	}
	return nil
}

// RecordTravelTimes folds stop-passage observations into the per-segment
// running mean. Night-hour observations are discarded: there is no
// regular service and the data would only add noise.
func (s *Store) RecordTravelTimes(ctx context.Context, passages []tracking.StopPassage) error {
	if len(passages) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	queued := 0
	for _, p := range passages {
		local := p.At.In(ekbZone)
		if local.Hour() < 5 {
			continue
		}
		batch.Queue(`
			INSERT INTO travel_time_segments
				(route_id, from_stop_id, to_stop_id, day_type, hour, mean_seconds, sample_count, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
			ON CONFLICT ON CONSTRAINT uq_travel_segment DO UPDATE SET
				mean_seconds = travel_time_segments.mean_seconds +
					($6 - travel_time_segments.mean_seconds) / (travel_time_segments.sample_count + 1),
				sample_count = travel_time_segments.sample_count + 1,
				updated_at = $7`,
			p.RouteID, p.FromStopID, p.ToStopID, dayType(local), local.Hour(), p.Seconds, p.At)
		queued++
	}
	if queued == 0 {
		return nil
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store: record travel times: %w", err)
	}
	slog.Debug("persisted travel time observations", "count", queued)
	return nil
}

func dayType(t time.Time) string {
	switch t.Weekday() {
	case time.Saturday:
		return "saturday"
	case time.Sunday:
		return "sunday"
	default:
		return "weekday"
	}
}

// Store is the atlas builder's geometry cache.
var _ atlas.GeometryCache = (*Store)(nil)

// Load returns cached router polylines. A single stale row invalidates
// the whole cache so all routes refresh together.
func (s *Store) Load(ctx context.Context) (map[string][]geo.Point, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT route_number, coords_json, fetched_at FROM route_geometry_cache`)
	if err != nil {
		return nil, fmt.Errorf("store: load geometry cache: %w", err)
	}
	defer rows.Close()

	result := map[string][]geo.Point{}
	now := time.Now().UTC()
	for rows.Next() {
		var number string
		var coordsJSON []byte
		var fetchedAt time.Time
		if err := rows.Scan(&number, &coordsJSON, &fetchedAt); err != nil {
			return nil, fmt.Errorf("store: load geometry cache: %w", err)
		}
		if now.Sub(fetchedAt) > geometryCacheTTL {
			slog.Info("geometry cache is stale, refetching", "route", number)
			return nil, nil
		}
		var coords [][]float64
		if err := json.Unmarshal(coordsJSON, &coords); err != nil {
			continue
		}
		pts := make([]geo.Point, 0, len(coords))
		for _, c := range coords {
			if len(c) >= 2 {
				pts = append(pts, geo.Point{Lat: c[0], Lon: c[1]})
			}
		}
		if len(pts) >= 2 {
			result[number] = pts
		}
	}
	return result, rows.Err()
}

// Save upserts freshly fetched router polylines.
func (s *Store) Save(ctx context.Context, geometries map[string][]geo.Point) error {
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for number, pts := range geometries {
		coords := make([][]float64, 0, len(pts))
		for _, p := range pts {
			coords = append(coords, []float64{p.Lat, p.Lon})
		}
		coordsJSON, err := json.Marshal(coords)
		if err != nil {
			continue
		}
		batch.Queue(`
			INSERT INTO route_geometry_cache (route_number, coords_json, fetched_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (route_number) DO UPDATE SET coords_json = $2, fetched_at = $3`,
			number, coordsJSON, now)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store: save geometry cache: %w", err)
	}
	return nil
}
