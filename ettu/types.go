package ettu

import (
	"bytes"
	"strconv"
	"time"
)

// RawVehicle is one board record from /api/v2/tram/boards/.
type RawVehicle struct {
	DevID    string
	BoardNum string
	RouteNum string
	Lat      float64
	Lon      float64
	SpeedKmh float64
	Course   float64
	// Timestamp is the parsed ATIME in UTC; nil when absent or malformed.
	Timestamp *time.Time
}

// RawRoute is one route from /api/v2/tram/routes/. Paths holds the
// ordered stop IDs for the forward (0) and reverse (1) directions.
type RawRoute struct {
	ID     int
	Number string
	Name   string
	Paths  [2][]int
}

// RawStop is one catalog entry from /api/v2/tram/points/.
type RawStop struct {
	ID        int
	Name      string
	Lat       float64
	Lon       float64
	Direction string
	Active    bool
}

// ETTU timestamps are Yekaterinburg local time (UTC+5).
var ekbZone = time.FixedZone("YEKT", 5*3600)

const atimeLayout = "2006-01-02 15:04:05"

// ParseATime parses an ETTU ATIME string like "2026-02-13 16:30:42" to
// UTC. Returns nil for empty or malformed input.
func ParseATime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	local, err := time.ParseInLocation(atimeLayout, raw, ekbZone)
	if err != nil {
		return nil
	}
	utc := local.UTC()
	return &utc
}

// flexFloat decodes a JSON number that ETTU sometimes serializes as a
// quoted string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt decodes a JSON integer that may arrive quoted.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		// Stop IDs occasionally carry a decimal part.
		f, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			return err
		}
		v = int(f)
	}
	*n = flexInt(v)
	return nil
}

// Wire shapes. Boards use lower-case keys, points upper-case.

type boardRecord struct {
	ID       string    `json:"id"`
	BoardNum string    `json:"board_num"`
	Route    string    `json:"route"`
	Lat      flexFloat `json:"lat"`
	Lon      flexFloat `json:"lon"`
	Speed    flexFloat `json:"speed"`
	Course   flexFloat `json:"course"`
	ATime    string    `json:"timestamp"`
}

type routeElement struct {
	Direction flexInt   `json:"direction"`
	Path      []flexInt `json:"path"`
}

type routeRecord struct {
	ID       flexInt        `json:"id"`
	Number   string         `json:"number"`
	Name     string         `json:"name"`
	Elements []routeElement `json:"elements"`
}

type pointRecord struct {
	ID        flexInt   `json:"ID"`
	Name      string    `json:"NAME"`
	Lat       flexFloat `json:"LAT"`
	Lon       flexFloat `json:"LON"`
	Status    flexInt   `json:"STATUS"`
	Direction string    `json:"DIRECTION"`
}
