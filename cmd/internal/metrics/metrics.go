// Package metrics provides Prometheus metrics for Courier.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"courier/cmd/internal/chat"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of a Courier process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Write path outcomes
	MessagesSentTotal *prometheus.CounterVec

	// Realtime metrics
	WSSessionsActive prometheus.Gauge
	PushesTotal      *prometheus.CounterVec
}

// New creates a private registry (with Go and process collectors) and registers
// every Courier collector on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newWithRegistry(reg)
}

func newWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.StoreOperationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	m.MessagesSentTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_messages_sent_total",
			Help: "Send attempts by outcome (ok, duplicate, partial, invalid, rate_limited, error)",
		},
		[]string{"outcome"},
	)

	m.WSSessionsActive = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_ws_sessions_active",
			Help: "Number of live websocket sessions on this instance",
		},
	)

	m.PushesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_ws_pushes_total",
			Help: "Envelopes offered to websocket sessions by result",
		},
		[]string{"result"},
	)

	return m
}

// Registry exposes the underlying registry (tests and custom collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveStoreOp records one store call (chat.Observer).
func (m *Metrics) ObserveStoreOp(op string, d time.Duration, err error) {
	m.StoreOperationsTotal.WithLabelValues(op, ErrorStatus(err)).Inc()
	m.StoreOperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveSend records a send outcome.
func (m *Metrics) ObserveSend(outcome string) {
	m.MessagesSentTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// SessionOpened implements realtime.Metrics.
func (m *Metrics) SessionOpened() { m.WSSessionsActive.Inc() }

// SessionClosed implements realtime.Metrics.
func (m *Metrics) SessionClosed() { m.WSSessionsActive.Dec() }

// PushDelivered implements realtime.Metrics.
func (m *Metrics) PushDelivered(n int) { m.PushesTotal.WithLabelValues("delivered").Add(float64(n)) }

// PushDropped implements realtime.Metrics.
func (m *Metrics) PushDropped() { m.PushesTotal.WithLabelValues("dropped").Inc() }

// ErrorStatus maps an operation error to a low-cardinality label value.
func ErrorStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case chat.IsInvalidArgument(err):
		return "invalid_argument"
	case chat.IsNotFound(err):
		return "not_found"
	case chat.IsStoreUnavailable(err):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
