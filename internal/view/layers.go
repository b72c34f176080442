// Package view turns coordinator state into what the browser draws: map
// layers as JSON, the trips panel and the status banners. Nothing here
// mutates state or talks to the backend.
package view

import (
	"cmp"
	"slices"

	"transitmap/internal/geo"
	"transitmap/internal/routedata"
	"transitmap/internal/transitapi"
)

const (
	// FitPadding widens fitted bounds by this share of their span.
	FitPadding = 0.1
	// FocusZoom is the minimum zoom used when following a selected trip's vehicle.
	FocusZoom = 16
)

// Point is a [lat, lon] pair, the shape Leaflet accepts directly.
type Point [2]float64

// StopMarker is a stop drawn on the map.
type StopMarker struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Lat   float64  `json:"lat"`
	Lon   float64  `json:"lon"`
	Times []string `json:"times,omitempty"`
}

// VehicleMarker is a bus icon rotated by its bearing.
type VehicleMarker struct {
	TripID      string   `json:"tripId"`
	VehicleID   string   `json:"vehicleId,omitempty"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Rotation    float64  `json:"rotation"`
	Bearing     *float64 `json:"bearing,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	LastUpdated string   `json:"lastUpdated,omitempty"`
}

// Focus asks the map to fly to a point.
type Focus struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	MinZoom int     `json:"minZoom"`
}

// Layers is everything the map widget draws for the route selection.
type Layers struct {
	RouteID    string       `json:"routeId,omitempty"`
	RouteLines [][]Point    `json:"routeLines"`
	RouteStops []StopMarker `json:"routeStops"`

	TripID    string       `json:"tripId,omitempty"`
	TripLine  []Point      `json:"tripLine"`
	Arrows    bool         `json:"arrows"`
	TripStops []StopMarker `json:"tripStops"`

	Vehicles []VehicleMarker `json:"vehicles"`

	// FitKey changes whenever Fit should be applied again, so periodic
	// vehicle updates do not keep re-fitting the map.
	FitKey string      `json:"fitKey,omitempty"`
	Fit    *geo.Bounds `json:"fit,omitempty"`
	Focus  *Focus      `json:"focus,omitempty"`
}

// BuildLayers projects coordinator state onto map layers.
func BuildLayers(s routedata.State) Layers {
	l := Layers{
		RouteID:    s.RouteID,
		TripID:     s.TripID,
		RouteLines: [][]Point{},
		RouteStops: []StopMarker{},
		TripLine:   []Point{},
		TripStops:  []StopMarker{},
		Vehicles:   []VehicleMarker{},
	}

	if s.TripID == "" {
		if s.Geometry != nil {
			var b geo.Bounds
			n := 0
			for _, sh := range s.Geometry.Shapes {
				line := make([]Point, len(sh.Points))
				for i, p := range sh.Points {
					line[i] = Point{p.Lat, p.Lon}
					b = b.Extend(p.Lat, p.Lon)
					n++
				}
				l.RouteLines = append(l.RouteLines, line)
			}
			for _, st := range s.Geometry.Stops {
				l.RouteStops = append(l.RouteStops, StopMarker{ID: st.ID, Name: st.Name, Lat: st.Lat, Lon: st.Lon})
			}
			if n > 1 {
				fit := b.Pad(FitPadding)
				l.Fit = &fit
				l.FitKey = "route:" + s.RouteID
			}
		}
	} else {
		if s.TripShape != nil {
			var b geo.Bounds
			for _, p := range SortShapePoints(s.TripShape.Points) {
				l.TripLine = append(l.TripLine, Point{p.Lat, p.Lon})
				b = b.Extend(p.Lat, p.Lon)
			}
			l.Arrows = len(l.TripLine) > 1
			if !b.Empty() {
				fit := b.Pad(FitPadding)
				l.Fit = &fit
				l.FitKey = "trip:" + s.RouteID + "/" + s.TripID
			}
		}
		if s.TripStops != nil {
			for _, st := range SortTripStops(s.TripStops.Stops) {
				l.TripStops = append(l.TripStops, StopMarker{
					ID:    st.StopID,
					Name:  st.StopName,
					Lat:   st.Lat,
					Lon:   st.Lon,
					Times: TimeLabel(st.ArrivalTime, st.DepartureTime),
				})
			}
		}
	}

	for _, v := range s.ShownVehicles() {
		if !v.Live() {
			continue
		}
		l.Vehicles = append(l.Vehicles, vehicleMarker(v))
	}

	if s.TripID != "" {
		for _, v := range l.Vehicles {
			if v.TripID == s.TripID {
				l.Focus = &Focus{Lat: v.Lat, Lon: v.Lon, MinZoom: FocusZoom}
				break
			}
		}
	}
	return l
}

func vehicleMarker(v transitapi.VehiclePosition) VehicleMarker {
	m := VehicleMarker{
		TripID:  v.TripID,
		Lat:     *v.Lat,
		Lon:     *v.Lon,
		Bearing: v.Bearing,
		Speed:   v.Speed,
	}
	if v.Bearing != nil {
		m.Rotation = *v.Bearing
	}
	if v.VehicleID != nil {
		m.VehicleID = *v.VehicleID
	}
	if v.LastUpdated != nil {
		m.LastUpdated = *v.LastUpdated
	}
	return m
}

// SortShapePoints returns the points ordered by ascending sequence. The
// sort is stable and leaves the input untouched, so applying it twice gives
// the same result as applying it once.
func SortShapePoints(points []transitapi.ShapePoint) []transitapi.ShapePoint {
	out := slices.Clone(points)
	slices.SortStableFunc(out, func(a, b transitapi.ShapePoint) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return out
}

// SortTripStops returns the stops ordered by ascending sequence.
func SortTripStops(stops []transitapi.TripStop) []transitapi.TripStop {
	out := slices.Clone(stops)
	slices.SortStableFunc(out, func(a, b transitapi.TripStop) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return out
}

// TimeLabel describes a stop visit. Equal arrival and departure collapse
// into a single line.
func TimeLabel(arrival, departure string) []string {
	switch {
	case arrival == "" && departure == "":
		return nil
	case arrival == departure:
		return []string{"Time: " + arrival}
	case arrival == "":
		return []string{"Departure: " + departure}
	case departure == "":
		return []string{"Arrival: " + arrival}
	default:
		return []string{"Arrival: " + arrival, "Departure: " + departure}
	}
}
