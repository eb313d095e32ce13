package ettu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/empsgit/tram-monitor-ekb/config"
)

// Client polls the ETTU (Gortrans) API for tram positions, routes, and
// stops. Network errors, timeouts, and 5xx responses are retried with
// exponential backoff; 4xx and malformed payloads are not.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

const maxRetries = 2

var backoffBase = 2 * time.Second

// NewClient creates an ETTU API client from configuration.
func NewClient(cfg config.EttuConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
	}
}

// get fetches one endpoint with retry. The returned body is fully read.
func (c *Client) get(ctx context.Context, path, label string) ([]byte, error) {
	u := fmt.Sprintf("%s%s?apiKey=%s", c.baseURL, path, url.QueryEscape(c.apiKey))

	var body []byte
	b := retry.WithMaxRetries(maxRetries, retry.NewExponential(backoffBase))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%s: %w", label, err))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("%s: HTTP %d", label, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP %d", label, resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%s: read body: %w", label, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// FetchVehicles fetches all current tram positions. Records without
// coordinates or a route assignment are dropped.
func (c *Client) FetchVehicles(ctx context.Context) ([]RawVehicle, error) {
	body, err := c.get(ctx, "/api/v2/tram/boards/", "vehicles")
	if err != nil {
		return nil, err
	}

	var records []boardRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("vehicles: decode: %w", err)
	}

	vehicles := make([]RawVehicle, 0, len(records))
	for _, r := range records {
		if r.ID == "" || r.Lat == 0 || r.Lon == 0 || r.Route == "" {
			continue
		}
		vehicles = append(vehicles, RawVehicle{
			DevID:     r.ID,
			BoardNum:  r.BoardNum,
			RouteNum:  r.Route,
			Lat:       float64(r.Lat),
			Lon:       float64(r.Lon),
			SpeedKmh:  float64(r.Speed),
			Course:    float64(r.Course),
			Timestamp: ParseATime(r.ATime),
		})
	}
	slog.Debug("fetched vehicles from ettu", "count", len(vehicles))
	return vehicles, nil
}

// FetchRoutes fetches the tram route catalog. The first two elements of
// a route are the forward and reverse stop-ID paths; the element's own
// direction field wins when it is a valid 0/1.
func (c *Client) FetchRoutes(ctx context.Context) ([]RawRoute, error) {
	body, err := c.get(ctx, "/api/v2/tram/routes/", "routes")
	if err != nil {
		return nil, err
	}

	var records []routeRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("routes: decode: %w", err)
	}

	routes := make([]RawRoute, 0, len(records))
	for _, r := range records {
		route := RawRoute{ID: int(r.ID), Number: r.Number, Name: r.Name}
		for i, elem := range r.Elements {
			dir := int(elem.Direction)
			// Some payloads omit the direction field; element position
			// is the convention then (0 = forward, 1 = reverse).
			if dir != 0 && dir != 1 || len(route.Paths[dir]) > 0 {
				dir = i
			}
			if dir != 0 && dir != 1 || len(route.Paths[dir]) > 0 {
				continue
			}
			path := make([]int, 0, len(elem.Path))
			for _, sid := range elem.Path {
				path = append(path, int(sid))
			}
			route.Paths[dir] = path
		}
		routes = append(routes, route)
	}
	slog.Debug("fetched routes from ettu", "count", len(routes))
	return routes, nil
}

// FetchPoints fetches the stop catalog. Entries without coordinates are
// dropped; unnamed or inactive entries are kept for geometry use.
func (c *Client) FetchPoints(ctx context.Context) ([]RawStop, error) {
	body, err := c.get(ctx, "/api/v2/tram/points/", "points")
	if err != nil {
		return nil, err
	}

	var records []pointRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("points: decode: %w", err)
	}

	stops := make([]RawStop, 0, len(records))
	for _, r := range records {
		if r.ID == 0 || r.Lat == 0 || r.Lon == 0 {
			continue
		}
		stops = append(stops, RawStop{
			ID:        int(r.ID),
			Name:      r.Name,
			Lat:       float64(r.Lat),
			Lon:       float64(r.Lon),
			Direction: r.Direction,
			Active:    int(r.Status) == 0,
		})
	}
	slog.Debug("fetched points from ettu", "count", len(stops))
	return stops, nil
}
