package transitapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"transitmap/internal/apperr"
)

// Observer is told about every backend call.
type Observer interface {
	ObserveRequest(op string, d time.Duration, err error)
}

// RequestError is returned for any failed backend call.
type RequestError struct {
	Op     string
	URL    string
	Status int // 0 when no response was received
	Kind   apperr.Kind
	Err    error
}

func (e *RequestError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: HTTP %d from %s", e.Op, e.Status, e.URL)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": request failed"
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// ErrorKind implements apperr.Kinded.
func (e *RequestError) ErrorKind() apperr.Kind { return e.Kind }

// Client is an HTTP client for the transit backend. It does not retry or
// cache; every call is exactly one GET.
type Client struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	observer Observer
}

// NewClient creates a backend client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// WithObserver attaches a request observer.
func (c *Client) WithObserver(o Observer) *Client {
	c.observer = o
	return c
}

// StopsInRect returns the stops inside r. The backend owns the filtering;
// results are passed through as received.
func (c *Client) StopsInRect(ctx context.Context, r Rect) ([]Stop, error) {
	q := url.Values{
		"topLeftLat":     {formatCoord(r.TopLeftLat)},
		"topLeftLon":     {formatCoord(r.TopLeftLon)},
		"bottomRightLat": {formatCoord(r.BottomRightLat)},
		"bottomRightLon": {formatCoord(r.BottomRightLon)},
	}
	var out []Stop
	if err := c.getJSON(ctx, "stops_in_rect", "/stops/in-rect", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RoutesThroughStop returns the routes serving a stop.
func (c *Client) RoutesThroughStop(ctx context.Context, stopID string) ([]RouteSummary, error) {
	var out []RouteSummary
	p := "/stops/" + url.PathEscape(stopID) + "/routes"
	if err := c.getJSON(ctx, "routes_through_stop", p, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RouteScheduleAtStop returns the times a route serves a stop on date.
func (c *Client) RouteScheduleAtStop(ctx context.Context, stopID, routeID string, date time.Time) (*RouteSchedule, error) {
	var out RouteSchedule
	p := "/stops/" + url.PathEscape(stopID) + "/routes/" + url.PathEscape(routeID) + "/times"
	q := url.Values{"date": {date.Format(time.DateOnly)}}
	if err := c.getJSON(ctx, "route_schedule_at_stop", p, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RouteGeometry returns the stops and shapes of a route.
func (c *Client) RouteGeometry(ctx context.Context, routeID string) (*RouteGeometry, error) {
	var out RouteGeometry
	p := "/routes/" + url.PathEscape(routeID) + "/geometry"
	if err := c.getJSON(ctx, "route_geometry", p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TripsByRoute returns the trips of a route.
func (c *Client) TripsByRoute(ctx context.Context, routeID string) ([]TripSummary, error) {
	var out []TripSummary
	p := "/routes/" + url.PathEscape(routeID) + "/trips"
	if err := c.getJSON(ctx, "trips_by_route", p, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TripShape returns the shape points of a trip, in backend order.
func (c *Client) TripShape(ctx context.Context, tripID string) (*TripShape, error) {
	var out TripShape
	p := "/trips/" + url.PathEscape(tripID) + "/shape"
	if err := c.getJSON(ctx, "trip_shape", p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TripStops returns the stop visits of a trip, in backend order.
func (c *Client) TripStops(ctx context.Context, tripID string) (*TripStops, error) {
	var out TripStops
	p := "/trips/" + url.PathEscape(tripID) + "/stops"
	if err := c.getJSON(ctx, "trip_stops", p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VehiclePosition returns the position of the vehicle serving a trip.
// Positions older than maxAge come back without coordinates.
func (c *Client) VehiclePosition(ctx context.Context, tripID string, maxAge time.Duration) (*VehiclePosition, error) {
	var out VehiclePosition
	p := "/trips/" + url.PathEscape(tripID) + "/vehicle"
	q := url.Values{"maxAgeSeconds": {strconv.Itoa(int(maxAge / time.Second))}}
	if err := c.getJSON(ctx, "vehicle_position", p, q, &out); err != nil {
		return nil, err
	}
	if out.TripID == "" {
		out.TripID = tripID
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, dst any) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveRequest(op, time.Since(start), err)
		}
	}()

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	resp, err := c.doGet(ctx, op, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &RequestError{Op: op, URL: u, Kind: apperr.KindDecode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, op, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &RequestError{Op: op, URL: u, Kind: apperr.KindUnknown, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		kind := apperr.KindNetwork
		if errors.Is(err, context.Canceled) {
			kind = apperr.KindCanceled
		}
		return nil, &RequestError{Op: op, URL: u, Kind: kind, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		c.logger.Debug("backend returned non-success", "op", op, "status", resp.StatusCode)
		return nil, &RequestError{Op: op, URL: u, Status: resp.StatusCode, Kind: apperr.KindRequest}
	}
	return resp, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
