// Package prometheus implements the metrics interfaces on a dedicated
// Prometheus registry, exposed by the status API's /metrics endpoint.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mirrorfs/mirrorfs/pkg/metrics"
)

// DFSMetrics is the Prometheus implementation of metrics.DFSMetrics.
type DFSMetrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	bytesTransferred *prometheus.CounterVec
	locksHeld        prometheus.Gauge
	callbacksPending prometheus.Gauge
}

var _ metrics.DFSMetrics = (*DFSMetrics)(nil)

// New creates the metric set on a fresh registry that also carries the
// standard Go and process collectors.
func New() *DFSMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &DFSMetrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mirrorfs",
			Name:      "requests_total",
			Help:      "Completed DFS requests by procedure and status.",
		}, []string{"procedure", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mirrorfs",
			Name:      "request_duration_seconds",
			Help:      "DFS request latency by procedure.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure"}),
		requestsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mirrorfs",
			Name:      "requests_in_flight",
			Help:      "DFS requests currently being served.",
		}, []string{"procedure"}),
		bytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mirrorfs",
			Name:      "bytes_transferred_total",
			Help:      "File content bytes streamed, by procedure and direction.",
		}, []string{"procedure", "direction"}),
		locksHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mirrorfs",
			Name:      "write_locks_held",
			Help:      "Entries currently in the write-lock table.",
		}),
		callbacksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mirrorfs",
			Name:      "callbacks_pending",
			Help:      "CallbackList requests waiting in the queue.",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.requestsInFlight,
		m.bytesTransferred,
		m.locksHeld,
		m.callbacksPending,
	)

	return m
}

// Registry returns the backing registry for the /metrics handler.
func (m *DFSMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *DFSMetrics) RecordRequest(procedure string, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(procedure, status).Inc()
	m.requestDuration.WithLabelValues(procedure).Observe(duration.Seconds())
}

func (m *DFSMetrics) RecordRequestStart(procedure string) {
	m.requestsInFlight.WithLabelValues(procedure).Inc()
}

func (m *DFSMetrics) RecordRequestEnd(procedure string) {
	m.requestsInFlight.WithLabelValues(procedure).Dec()
}

func (m *DFSMetrics) RecordBytesTransferred(procedure string, direction string, bytes uint64) {
	m.bytesTransferred.WithLabelValues(procedure, direction).Add(float64(bytes))
}

func (m *DFSMetrics) SetLocksHeld(n int) {
	m.locksHeld.Set(float64(n))
}

func (m *DFSMetrics) SetCallbacksPending(n int) {
	m.callbacksPending.Set(float64(n))
}
