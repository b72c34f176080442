package routedata

import (
	"transitmap/internal/apperr"
	"transitmap/internal/transitapi"
)

// Loading holds per-operation progress flags.
type Loading struct {
	Route       bool
	Trips       bool
	Vehicles    bool
	TripDetails bool
}

// Any reports whether any operation is in progress.
func (l Loading) Any() bool {
	return l.Route || l.Trips || l.Vehicles || l.TripDetails
}

// State is a snapshot of everything the coordinator owns. Slices are
// replaced wholesale on every commit and never mutated in place, so a
// snapshot stays valid after the coordinator moves on.
type State struct {
	RouteID  string
	Geometry *transitapi.RouteGeometry
	Trips    []transitapi.TripSummary
	Vehicles []transitapi.VehiclePosition

	// TripID is only set while RouteID is set.
	TripID    string
	TripShape *transitapi.TripShape
	TripStops *transitapi.TripStops

	Loading  Loading
	RouteErr *apperr.Error
	TripErr  *apperr.Error
}

// ShownVehicles is the full vehicle list when no trip is selected, else the
// vehicles serving the selected trip (possibly none).
func (s State) ShownVehicles() []transitapi.VehiclePosition {
	if s.TripID == "" {
		return s.Vehicles
	}
	out := []transitapi.VehiclePosition{}
	for _, v := range s.Vehicles {
		if v.TripID == s.TripID {
			out = append(out, v)
		}
	}
	return out
}

// TripsWithVehicle returns the trips that currently have a live vehicle,
// in trip list order.
func (s State) TripsWithVehicle() []transitapi.TripSummary {
	live := make(map[string]bool, len(s.Vehicles))
	for _, v := range s.Vehicles {
		live[v.TripID] = true
	}
	out := []transitapi.TripSummary{}
	for _, t := range s.Trips {
		if live[t.TripID] {
			out = append(out, t)
		}
	}
	return out
}
