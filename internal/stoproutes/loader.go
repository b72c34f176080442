// Package stoproutes loads the routes serving one stop and works out which
// of them currently have a vehicle on the road.
package stoproutes

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"transitmap/internal/apperr"
	"transitmap/internal/transitapi"
)

const (
	routesFallbackMsg   = "Could not load routes for this stop"
	scheduleFallbackMsg = "Could not load the schedule"
)

// Status is the lifecycle of a stop's route list.
type Status int

const (
	Unloaded Status = iota
	Loading
	Loaded
	Errored
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Errored:
		return "errored"
	default:
		return "unloaded"
	}
}

// Backend is the subset of the transit API a Loader needs.
type Backend interface {
	RoutesThroughStop(ctx context.Context, stopID string) ([]transitapi.RouteSummary, error)
	RouteScheduleAtStop(ctx context.Context, stopID, routeID string, date time.Time) (*transitapi.RouteSchedule, error)
	TripsByRoute(ctx context.Context, routeID string) ([]transitapi.TripSummary, error)
	VehiclePosition(ctx context.Context, tripID string, maxAge time.Duration) (*transitapi.VehiclePosition, error)
}

// State is what a stop popup renders.
type State struct {
	StopID         string
	Status         Status
	Routes         []transitapi.RouteSummary
	Err            *apperr.Error
	ActiveRoutes   []string // nil until checked
	CheckingActive bool
}

// IsActive reports whether routeID was found active by the last check.
func (s State) IsActive(routeID string) bool {
	for _, id := range s.ActiveRoutes {
		if id == routeID {
			return true
		}
	}
	return false
}

// Loader owns the route list of a single stop.
type Loader struct {
	stopID      string
	api         Backend
	maxAge      time.Duration
	concurrency int
	logger      *slog.Logger

	mu    sync.Mutex
	state State
}

// NewLoader creates an unloaded Loader. maxAge is the freshness window used
// when probing for active vehicles.
func NewLoader(stopID string, api Backend, maxAge time.Duration, concurrency int, logger *slog.Logger) *Loader {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Loader{
		stopID:      stopID,
		api:         api,
		maxAge:      maxAge,
		concurrency: concurrency,
		logger:      logger,
		state:       State{StopID: stopID},
	}
}

// Snapshot returns the current state.
func (l *Loader) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LoadRoutes fetches the stop's routes once. Calls while loading or after a
// successful load do nothing; a failed load may be retried.
func (l *Loader) LoadRoutes(ctx context.Context) {
	l.mu.Lock()
	if l.state.Status == Loading || l.state.Status == Loaded {
		l.mu.Unlock()
		return
	}
	l.state.Status = Loading
	l.state.Err = nil
	l.mu.Unlock()

	routes, err := l.api.RoutesThroughStop(ctx, l.stopID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.logger.Error("loading routes for stop", "stop", l.stopID, "error", err)
		l.state.Status = Errored
		l.state.Err = apperr.Classify(err, routesFallbackMsg)
		return
	}
	l.state.Status = Loaded
	l.state.Routes = routes
}

// CheckActiveRoutes probes every route of the stop for a live vehicle and
// returns the ids of the active ones in route order. It does nothing until
// the routes are loaded and never fails: routes whose trips cannot be
// fetched, or whose probes all fail, count as inactive.
func (l *Loader) CheckActiveRoutes(ctx context.Context) []string {
	l.mu.Lock()
	if l.state.Status != Loaded {
		l.mu.Unlock()
		return nil
	}
	routes := l.state.Routes
	l.state.CheckingActive = true
	l.mu.Unlock()

	active := make([]bool, len(routes))
	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for i, r := range routes {
		g.Go(func() error {
			active[i] = l.routeActive(ctx, r.RouteID)
			return nil
		})
	}
	_ = g.Wait()

	ids := []string{}
	for i, r := range routes {
		if active[i] {
			ids = append(ids, r.RouteID)
		}
	}

	l.mu.Lock()
	l.state.ActiveRoutes = ids
	l.state.CheckingActive = false
	l.mu.Unlock()

	l.logger.Debug("checked active routes", "stop", l.stopID, "routes", len(routes), "active", len(ids))
	return ids
}

// routeActive walks the route's trips in order and stops at the first one
// with a live vehicle.
func (l *Loader) routeActive(ctx context.Context, routeID string) bool {
	trips, err := l.api.TripsByRoute(ctx, routeID)
	if err != nil {
		l.logger.Warn("fetching trips for active check", "route", routeID, "error", err)
		return false
	}
	for _, t := range trips {
		if ctx.Err() != nil {
			return false
		}
		v, err := l.api.VehiclePosition(ctx, t.TripID, l.maxAge)
		if err != nil {
			continue
		}
		if v.Live() {
			return true
		}
	}
	return false
}

// Schedule returns the departures of routeID at this stop on date. Errors
// are returned as *apperr.Error.
func (l *Loader) Schedule(ctx context.Context, routeID string, date time.Time) (*transitapi.RouteSchedule, error) {
	s, err := l.api.RouteScheduleAtStop(ctx, l.stopID, routeID, date)
	if err != nil {
		l.logger.Error("loading schedule", "stop", l.stopID, "route", routeID, "error", err)
		return nil, apperr.Classify(err, scheduleFallbackMsg)
	}
	return s, nil
}
