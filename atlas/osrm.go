package atlas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/empsgit/tram-monitor-ekb/config"
	"github.com/empsgit/tram-monitor-ekb/geo"
)

// GeometrySource provides a street-following polyline through an
// ordered set of waypoints. Implementations return an error when no
// usable geometry could be produced; the atlas builder then falls back
// to straight stop-to-stop lines.
type GeometrySource interface {
	RouteGeometry(ctx context.Context, waypoints []geo.Point) ([]geo.Point, error)
}

// OSRMClient fetches road-following geometry from an OSRM instance.
// Requests are serialized with a pause between them to respect the
// public router's rate limits.
type OSRMClient struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.Mutex
	lastReq  time.Time
	minPause time.Duration
}

const osrmRequestPause = 300 * time.Millisecond

// NewOSRMClient creates a client for the configured OSRM endpoint.
func NewOSRMClient(cfg config.OSRMConfig) *OSRMClient {
	return &OSRMClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
		minPause: osrmRequestPause,
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
	} `json:"routes"`
}

// RouteGeometry requests a full driving polyline through the waypoints.
func (c *OSRMClient) RouteGeometry(ctx context.Context, waypoints []geo.Point) ([]geo.Point, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("osrm: need at least 2 waypoints, got %d", len(waypoints))
	}
	c.pace()

	coords := make([]string, len(waypoints))
	for i, p := range waypoints {
		coords[i] = fmt.Sprintf("%.6f,%.6f", p.Lon, p.Lat)
	}
	u := fmt.Sprintf("%s/route/v1/driving/%s?overview=full&geometries=geojson",
		c.baseURL, strings.Join(coords, ";"))

	var body []byte
	b := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("osrm: %w", err))
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("osrm: HTTP %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("osrm: HTTP %d", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("osrm: read body: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var decoded osrmResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("osrm: decode: %w", err)
	}
	if decoded.Code != "Ok" || len(decoded.Routes) == 0 {
		return nil, fmt.Errorf("osrm: no route (code=%s)", decoded.Code)
	}

	raw := decoded.Routes[0].Geometry.Coordinates
	pts := make([]geo.Point, 0, len(raw))
	for _, c := range raw {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, geo.Point{Lat: c[1], Lon: c[0]})
	}
	if len(pts) < 2 {
		return nil, fmt.Errorf("osrm: degenerate geometry (%d points)", len(pts))
	}
	slog.Debug("fetched osrm geometry", "points", len(pts))
	return pts, nil
}

// pace enforces the inter-request pause.
func (c *OSRMClient) pace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wait := c.minPause - time.Since(c.lastReq); wait > 0 {
		time.Sleep(wait)
	}
	c.lastReq = time.Now()
}
