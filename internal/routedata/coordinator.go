// Package routedata coordinates everything shown for a selected route: its
// geometry, its trips, the live vehicles serving them and the drill-down
// into a single trip.
//
// Every route selection bumps a generation number. A request only commits
// its results while its generation is still current, so a slow response for
// an older selection can never overwrite a newer one. Trip selections carry
// their own generation for the same reason.
package routedata

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"transitmap/internal/apperr"
	"transitmap/internal/poll"
	"transitmap/internal/transitapi"
)

const (
	routeFallbackMsg = "Could not load route data"
	tripFallbackMsg  = "Could not load trip shape and stops"
)

// Backend is the subset of the transit API the coordinator needs.
type Backend interface {
	RouteGeometry(ctx context.Context, routeID string) (*transitapi.RouteGeometry, error)
	TripsByRoute(ctx context.Context, routeID string) ([]transitapi.TripSummary, error)
	TripShape(ctx context.Context, tripID string) (*transitapi.TripShape, error)
	TripStops(ctx context.Context, tripID string) (*transitapi.TripStops, error)
	VehiclePosition(ctx context.Context, tripID string, maxAge time.Duration) (*transitapi.VehiclePosition, error)
}

// VehicleSink receives every committed vehicle list.
type VehicleSink interface {
	PublishVehicles(routeID string, vehicles []transitapi.VehiclePosition)
}

// Metrics counts coordinator events.
type Metrics interface {
	RefreshTick(outcome string)
	StaleDiscarded(op string)
}

// Options tunes a Coordinator.
type Options struct {
	InitialMaxAge    time.Duration
	RefreshMaxAge    time.Duration
	RefreshInterval  time.Duration
	ProbeConcurrency int

	Sink    VehicleSink
	Metrics Metrics
}

// Coordinator owns the route/trip/vehicle state of one map view.
type Coordinator struct {
	api    Backend
	opts   Options
	logger *slog.Logger

	ctx    context.Context // lifetime of the refresh task
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	routeGen   uint64
	tripGen    uint64
	refresh    *poll.Handle
	refreshSeq uint64 // identifies the current refresh task

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// New creates a Coordinator with nothing selected.
func New(api Backend, opts Options, logger *slog.Logger) *Coordinator {
	if opts.ProbeConcurrency <= 0 {
		opts.ProbeConcurrency = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		api:    api,
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]chan struct{}),
	}
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ShownVehicles is Snapshot().ShownVehicles().
func (c *Coordinator) ShownVehicles() []transitapi.VehiclePosition {
	return c.Snapshot().ShownVehicles()
}

// SelectRoute loads a route and its vehicles. It blocks until the load has
// finished or been superseded; the outcome is reflected in the state.
func (c *Coordinator) SelectRoute(ctx context.Context, routeID string) {
	id := strings.TrimSpace(routeID)
	if id == "" {
		return
	}

	c.mu.Lock()
	c.routeGen++
	c.tripGen++
	gen := c.routeGen
	c.stopRefreshLocked()
	c.state.RouteID = id
	c.state.RouteErr = nil
	c.clearTripLocked()
	c.state.Loading.Route = true
	c.state.Loading.Trips = true
	c.state.Loading.Vehicles = true
	c.state.Vehicles = nil
	c.mu.Unlock()
	c.notify()

	var (
		geometry *transitapi.RouteGeometry
		trips    []transitapi.TripSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		geometry, err = c.api.RouteGeometry(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		trips, err = c.api.TripsByRoute(gctx, id)
		return err
	})
	err := g.Wait()

	c.mu.Lock()
	if gen != c.routeGen {
		c.mu.Unlock()
		c.discarded("route", id)
		return
	}
	if err != nil {
		c.logger.Error("loading route", "route", id, "error", err)
		c.state.RouteErr = apperr.Classify(err, routeFallbackMsg)
		c.state.Geometry = nil
		c.state.Trips = nil
		c.state.Vehicles = nil
		c.state.Loading.Route = false
		c.state.Loading.Trips = false
		c.state.Loading.Vehicles = false
		c.mu.Unlock()
		c.notify()
		return
	}
	c.state.Geometry = geometry
	c.state.Trips = trips
	c.state.Loading.Route = false
	c.state.Loading.Trips = false
	c.mu.Unlock()
	c.notify()

	vehicles, _ := c.probe(ctx, trips, c.opts.InitialMaxAge)

	c.mu.Lock()
	if gen != c.routeGen {
		c.mu.Unlock()
		c.discarded("vehicles", id)
		return
	}
	c.state.Vehicles = vehicles
	c.state.Loading.Vehicles = false
	if len(trips) > 0 {
		c.startRefreshLocked(gen, id, trips)
	}
	c.mu.Unlock()
	c.notify()
	c.publish(id, vehicles)
}

// SelectTrip drills into one trip of the selected route. An empty id
// returns to the all-trips view.
func (c *Coordinator) SelectTrip(ctx context.Context, tripID string) {
	id := strings.TrimSpace(tripID)

	c.mu.Lock()
	c.tripGen++
	gen := c.tripGen
	if id == "" {
		c.clearTripLocked()
		c.mu.Unlock()
		c.notify()
		return
	}
	if c.state.RouteID == "" {
		c.mu.Unlock()
		return
	}
	c.state.TripID = id
	c.state.TripShape = nil
	c.state.TripStops = nil
	c.state.TripErr = nil
	c.state.Loading.TripDetails = true
	c.mu.Unlock()
	c.notify()

	var (
		shape *transitapi.TripShape
		stops *transitapi.TripStops
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		shape, err = c.api.TripShape(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		stops, err = c.api.TripStops(gctx, id)
		return err
	})
	err := g.Wait()

	c.mu.Lock()
	if gen != c.tripGen {
		c.mu.Unlock()
		c.discarded("trip", id)
		return
	}
	if err != nil {
		c.logger.Error("loading trip details", "trip", id, "error", err)
		c.state.TripErr = apperr.Classify(err, tripFallbackMsg)
		c.state.TripShape = nil
		c.state.TripStops = nil
	} else {
		c.state.TripShape = shape
		c.state.TripStops = stops
	}
	c.state.Loading.TripDetails = false
	c.mu.Unlock()
	c.notify()
}

// ClearRoute resets every owned field at once and stops the refresh task.
// Requests still in flight will find their generation stale.
func (c *Coordinator) ClearRoute() {
	c.mu.Lock()
	c.routeGen++
	c.tripGen++
	c.stopRefreshLocked()
	c.state = State{}
	c.mu.Unlock()
	c.notify()
}

// Close stops background work. The coordinator must not be used afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.routeGen++
	c.tripGen++
	c.stopRefreshLocked()
	c.mu.Unlock()
	c.cancel()
}

// Subscribe returns a channel that receives a value after state changes.
// Notifications coalesce; receivers should re-read Snapshot.
func (c *Coordinator) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Coordinator) notify() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Coordinator) clearTripLocked() {
	c.state.TripID = ""
	c.state.TripShape = nil
	c.state.TripStops = nil
	c.state.TripErr = nil
	c.state.Loading.TripDetails = false
}

func (c *Coordinator) stopRefreshLocked() {
	c.refresh.Stop()
	c.refresh = nil
}

func (c *Coordinator) startRefreshLocked(gen uint64, routeID string, trips []transitapi.TripSummary) {
	c.stopRefreshLocked()
	c.refreshSeq++
	seq := c.refreshSeq
	c.refresh = poll.Every(c.ctx, c.opts.RefreshInterval, func(ctx context.Context) {
		c.refreshOnce(ctx, seq, gen, routeID, trips)
	})
}

// refreshOnce re-probes every trip and replaces the vehicle list. A tick in
// which every probe failed keeps the previous list.
func (c *Coordinator) refreshOnce(ctx context.Context, seq, gen uint64, routeID string, trips []transitapi.TripSummary) {
	vehicles, failed := c.probe(ctx, trips, c.opts.RefreshMaxAge)
	if ctx.Err() != nil {
		c.countTick("canceled")
		return
	}
	if failed > 0 && failed == len(trips) {
		c.logger.Warn("refreshing vehicles failed, keeping previous positions", "route", routeID, "trips", len(trips))
		c.countTick("failed")
		return
	}

	c.mu.Lock()
	if c.refresh.Stopped() || seq != c.refreshSeq || gen != c.routeGen {
		c.mu.Unlock()
		c.countTick("discarded")
		return
	}
	c.state.Vehicles = vehicles
	c.mu.Unlock()
	c.countTick("committed")
	c.notify()
	c.publish(routeID, vehicles)
}

// probe asks for the vehicle of every trip. Failed probes count as "no
// vehicle"; the number of failures is returned alongside the live positions.
func (c *Coordinator) probe(ctx context.Context, trips []transitapi.TripSummary, maxAge time.Duration) ([]transitapi.VehiclePosition, int) {
	results := make([]*transitapi.VehiclePosition, len(trips))
	errs := make([]error, len(trips))

	var g errgroup.Group
	g.SetLimit(c.opts.ProbeConcurrency)
	for i, t := range trips {
		g.Go(func() error {
			results[i], errs[i] = c.api.VehiclePosition(ctx, t.TripID, maxAge)
			return nil
		})
	}
	_ = g.Wait()

	live := []transitapi.VehiclePosition{}
	failed := 0
	for i := range trips {
		if errs[i] != nil {
			failed++
			c.logger.Debug("vehicle probe failed", "trip", trips[i].TripID, "error", errs[i])
			continue
		}
		if results[i].Live() {
			live = append(live, *results[i])
		}
	}
	return live, failed
}

func (c *Coordinator) discarded(op, id string) {
	c.logger.Debug("discarding superseded result", "op", op, "id", id)
	if c.opts.Metrics != nil {
		c.opts.Metrics.StaleDiscarded(op)
	}
}

func (c *Coordinator) countTick(outcome string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.RefreshTick(outcome)
	}
}

func (c *Coordinator) publish(routeID string, vehicles []transitapi.VehiclePosition) {
	if c.opts.Sink != nil {
		c.opts.Sink.PublishVehicles(routeID, vehicles)
	}
}
