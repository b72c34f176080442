// Package metrics exposes Prometheus metrics for the map server.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transitmap/internal/apperr"
)

// Collector owns a registry and every metric the server records. It
// satisfies the observer and metrics interfaces of the client, the
// coordinators, the session store and the publisher.
type Collector struct {
	reg *prometheus.Registry

	BackendRequests *prometheus.CounterVec   // op, outcome
	BackendLatency  *prometheus.HistogramVec // op

	RefreshTicks *prometheus.CounterVec // outcome: committed|failed|discarded|canceled
	StaleResults *prometheus.CounterVec // op: route|vehicles|trip

	Sessions   prometheus.Gauge
	SSEClients prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	RefreshInterval prometheus.Gauge // seconds
}

// NewCollector creates and registers all metrics.
func NewCollector(refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitmap_backend_requests_total",
			Help: "Transit backend requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		BackendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transitmap_backend_request_duration_seconds",
			Help:    "Transit backend request latency.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op"}),
		RefreshTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitmap_refresh_ticks_total",
			Help: "Vehicle refresh ticks by outcome.",
		}, []string{"outcome"}),
		StaleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitmap_stale_results_discarded_total",
			Help: "Responses dropped because a newer selection superseded them.",
		}, []string{"op"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitmap_sessions",
			Help: "Live browser sessions.",
		}),
		SSEClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitmap_sse_clients",
			Help: "Open map event streams.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitmap_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitmap_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitmap_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitmap_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitmap_refresh_interval_seconds",
			Help: "Vehicle refresh interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.BackendRequests, c.BackendLatency,
		c.RefreshTicks, c.StaleResults,
		c.Sessions, c.SSEClients,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.RefreshInterval,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c.RefreshInterval.Set(refreshInterval.Seconds())

	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// ObserveRequest records one backend call.
func (c *Collector) ObserveRequest(op string, d time.Duration, err error) {
	c.BackendLatency.WithLabelValues(op).Observe(d.Seconds())
	c.BackendRequests.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var k apperr.Kinded
	if errors.As(err, &k) {
		return k.ErrorKind().String()
	}
	return apperr.Classify(err, "").Kind.String()
}

// RefreshTick counts one vehicle refresh tick.
func (c *Collector) RefreshTick(outcome string) { c.RefreshTicks.WithLabelValues(outcome).Inc() }

// StaleDiscarded counts a superseded response.
func (c *Collector) StaleDiscarded(op string) { c.StaleResults.WithLabelValues(op).Inc() }

func (c *Collector) SessionOpened() { c.Sessions.Inc() }
func (c *Collector) SessionClosed() { c.Sessions.Dec() }

func (c *Collector) SSEOpened() { c.SSEClients.Inc() }
func (c *Collector) SSEClosed() { c.SSEClients.Dec() }

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
