// Package publisher fans committed vehicle positions out to NATS so other
// services can follow the routes people are watching.
package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"transitmap/internal/transitapi"
)

// Metrics is told about every publish.
type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes vehicle positions as JSON.
type NATSPublisher struct {
	conn    Conn
	nc      *nats.Conn
	prefix  string
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Connect dials url and returns a publisher using subjects under prefix.
func Connect(url, prefix string, m Metrics, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transitmap"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := New(nc, prefix, m, logger)
	p.nc = nc
	return p, nil
}

// New wraps an existing connection.
func New(conn Conn, prefix string, m Metrics, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:    conn,
		prefix:  prefix,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Close drains and closes a connection opened by Connect.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("draining nats connection", "error", err)
		}
		p.nc.Close()
	}
}

// PositionMessage is the JSON payload of one vehicle.
type PositionMessage struct {
	RouteID     string    `json:"routeId"`
	TripID      string    `json:"tripId"`
	VehicleID   string    `json:"vehicleId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Bearing     *float64  `json:"bearing,omitempty"`
	Speed       *float64  `json:"speed,omitempty"`
	LastUpdated string    `json:"lastUpdated,omitempty"`
}

// PublishVehicles publishes every live vehicle on <prefix>.<route>.<trip>.
// Failures are logged and counted; callers never block on NATS errors.
func (p *NATSPublisher) PublishVehicles(routeID string, vehicles []transitapi.VehiclePosition) {
	now := p.now()
	for _, v := range vehicles {
		if !v.Live() {
			continue
		}
		msg := PositionMessage{
			RouteID:   routeID,
			TripID:    v.TripID,
			Timestamp: now,
			Lat:       *v.Lat,
			Lon:       *v.Lon,
			Bearing:   v.Bearing,
			Speed:     v.Speed,
		}
		if v.VehicleID != nil {
			msg.VehicleID = *v.VehicleID
		}
		if v.LastUpdated != nil {
			msg.LastUpdated = *v.LastUpdated
		}
		if err := p.publish(p.Subject(routeID, v.TripID), msg); err != nil {
			p.logger.Warn("publishing vehicle", "route", routeID, "trip", v.TripID, "error", err)
		}
	}
}

// Subject returns the subject a vehicle of the trip is published on.
func (p *NATSPublisher) Subject(routeID, tripID string) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(routeID), subjectToken(tripID))
}

func (p *NATSPublisher) publish(subject string, msg PositionMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
