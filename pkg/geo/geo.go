// Package geo holds the position snapshot stamped onto every observation and
// the distance helper used to gate scans on movement.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371008.8

// ErrNoPosition is returned by position providers when no fix is available
// yet or the source is unavailable.
var ErrNoPosition = errors.New("no position available")

// Position is an immutable WGS 84 coordinate in degrees.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p Position) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}

// Valid reports whether p lies within the latitude/longitude ranges.
func (p Position) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Position) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// ParsePosition parses "lat,lon".
func ParsePosition(s string) (Position, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Position{}, fmt.Errorf("parse position %q: want \"lat,lon\"", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Position{}, fmt.Errorf("parse latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Position{}, fmt.Errorf("parse longitude: %w", err)
	}
	p := Position{Latitude: lat, Longitude: lon}
	if !p.Valid() {
		return Position{}, fmt.Errorf("position %s out of range", p)
	}
	return p, nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
