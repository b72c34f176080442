package geo

import "math"

// Bounds is a lat/lon box. The zero value is empty; use Extend to grow it.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`

	set bool
}

// NewBounds returns the box with the given edges.
func NewBounds(south, west, north, east float64) Bounds {
	return Bounds{South: south, West: west, North: north, East: east, set: true}
}

// Empty reports whether no point has been added.
func (b Bounds) Empty() bool { return !b.set }

// Extend returns b grown to include the point.
func (b Bounds) Extend(lat, lon float64) Bounds {
	if !b.set {
		return NewBounds(lat, lon, lat, lon)
	}
	b.South = min(b.South, lat)
	b.North = max(b.North, lat)
	b.West = min(b.West, lon)
	b.East = max(b.East, lon)
	return b
}

// Pad returns b widened on every side by ratio of its span, the way Leaflet's
// LatLngBounds.pad does.
func (b Bounds) Pad(ratio float64) Bounds {
	if !b.set {
		return b
	}
	dLat := (b.North - b.South) * ratio
	dLon := (b.East - b.West) * ratio
	return NewBounds(b.South-dLat, b.West-dLon, b.North+dLat, b.East+dLon)
}

// Contains reports whether the point lies inside b, edges included.
func (b Bounds) Contains(lat, lon float64) bool {
	return b.set && lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}

// Center returns the midpoint of b.
func (b Bounds) Center() (lat, lon float64) {
	return (b.South + b.North) / 2, (b.West + b.East) / 2
}

// Valid reports whether the edges are ordered and within lat/lon range.
func (b Bounds) Valid() bool {
	return b.South <= b.North && b.West <= b.East &&
		b.South >= -90 && b.North <= 90 && b.West >= -180 && b.East <= 180
}

// Normalize maps a viewport onto the primary world copy. Web maps report
// unwrapped longitudes once panned across the antimeridian or zoomed out
// past one world width, so b is shifted by whole turns until its centre lies
// within [-180, 180] and then clamped to the valid range.
func (b Bounds) Normalize() Bounds {
	if b.East-b.West >= 360 {
		b.West, b.East = -180, 180
	} else {
		_, lon := b.Center()
		shift := 360 * math.Round(lon/360)
		b.West = max(b.West-shift, -180)
		b.East = min(b.East-shift, 180)
	}
	b.South = max(b.South, -90)
	b.North = min(b.North, 90)
	return b
}
