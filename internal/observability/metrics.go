// Package observability registers the HTTP-layer Prometheus collectors.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce   sync.Once
	requestsTotal  *prometheus.CounterVec
	latencySeconds *prometheus.HistogramVec
)

// RegisterMetrics initializes the HTTP-layer collectors exactly once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bench",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of control API requests served",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bench",
			Subsystem: "http",
			Name:      "latency_seconds",
			Help:      "Latency distribution for control API requests",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"})

		prometheus.MustRegister(requestsTotal, latencySeconds)
	})
}

// Requests exposes the request counter.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}
