// Package metrics holds the Prometheus collectors for cookie collection.
//
// Every Metrics value owns its registry, so several instances (one per test,
// for example) never collide on registration. All methods are safe to call on
// a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Event metrics
	EventsTotal  *prometheus.CounterVec
	Observations *prometheus.CounterVec
	Dropped      *prometheus.CounterVec

	// Store metrics
	StoreWrites   prometheus.Counter
	Evictions     prometheus.Counter
	QuotaFailures prometheus.Counter
	BytesInUse    prometheus.Gauge
	TabsStored    prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
}

// New creates a metrics collector with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookielens_events_total",
				Help: "Total number of browser events handled",
			},
			[]string{"method", "status"},
		),
		Observations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookielens_cookie_observations_total",
				Help: "Total number of cookie observations merged",
			},
			[]string{"header_type"},
		),
		Dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookielens_dropped_total",
				Help: "Total number of cookies or events dropped",
			},
			[]string{"reason"},
		),

		StoreWrites: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cookielens_store_writes_total",
				Help: "Total number of committed tab writes",
			},
		),
		Evictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cookielens_store_evictions_total",
				Help: "Total number of tabs evicted under quota pressure",
			},
		),
		QuotaFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cookielens_store_quota_failures_total",
				Help: "Total number of writes rejected because a single tab exceeds the quota",
			},
		),
		BytesInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cookielens_store_bytes_in_use",
				Help: "Bytes used in the tab store after the last write",
			},
		),
		TabsStored: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cookielens_store_tabs",
				Help: "Number of tabs in the store after the last write",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cookielens_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookielens_ws_messages_total",
				Help: "Total number of WebSocket messages sent",
			},
			[]string{"type"},
		),
	}
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent records a handled browser event
func (m *Metrics) RecordEvent(method, status string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(method, status).Inc()
}

// RecordObservations records merged cookie observations
func (m *Metrics) RecordObservations(headerType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Observations.WithLabelValues(headerType).Add(float64(n))
}

// RecordDropped records a dropped cookie or event
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

// StoreWrite records a committed write and the resulting store size.
func (m *Metrics) StoreWrite(bytesInUse int64, tabs, evicted int) {
	if m == nil {
		return
	}
	m.StoreWrites.Inc()
	m.Evictions.Add(float64(evicted))
	m.BytesInUse.Set(float64(bytesInUse))
	m.TabsStored.Set(float64(tabs))
}

// QuotaFailure records a write rejected for exceeding the quota.
func (m *Metrics) QuotaFailure() {
	if m == nil {
		return
	}
	m.QuotaFailures.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(msgType).Inc()
}
