// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "continuwuity"

// Reload results.
const (
	ReloadSucceeded = "success"
	ReloadFailed    = "failure"
	ReloadRejected  = "rejected"
)

// Metrics is the set of collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	generationsCreated prometheus.Counter
	generationsLive    prometheus.Gauge
	activeGeneration   prometheus.Gauge
	teardowns          *prometheus.CounterVec
	reloads            *prometheus.CounterVec
	reloadDuration     prometheus.Histogram

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	panics           prometheus.Counter
}

// New registers the collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		generationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_created_total",
			Help:      "Service graph generations created",
		}),
		generationsLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generations_live",
			Help:      "Generations created and not yet torn down",
		}),
		activeGeneration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_active",
			Help:      "Id of the generation serving new requests",
		}),
		teardowns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_teardowns_total",
			Help:      "Generation teardowns by result",
		}, []string{"result"}),
		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Reload triggers by result",
		}, []string{"result"}),
		reloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reload_duration_seconds",
			Help:      "Time from trigger to publication for successful reloads",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		requestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),
		panics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "panics_total",
			Help:      "Handler panics recovered by the router",
		}),
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// GenerationCreated records a new generation.
func (m *Metrics) GenerationCreated() {
	if m == nil {
		return
	}
	m.generationsCreated.Inc()
	m.generationsLive.Inc()
}

// GenerationPublished records id as the active generation.
func (m *Metrics) GenerationPublished(id uint64) {
	if m == nil {
		return
	}
	m.activeGeneration.Set(float64(id))
}

// GenerationTornDown records a finished teardown.
func (m *Metrics) GenerationTornDown(failed bool) {
	if m == nil {
		return
	}
	m.generationsLive.Dec()
	result := "success"
	if failed {
		result = "failure"
	}
	m.teardowns.WithLabelValues(result).Inc()
}

// Reload records a trigger outcome. duration is observed for
// successful reloads only.
func (m *Metrics) Reload(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(result).Inc()
	if result == ReloadSucceeded {
		m.reloadDuration.Observe(duration.Seconds())
	}
}

// RequestStarted increments the in-flight gauge.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.requestsInFlight.Inc()
}

// RequestFinished records a completed request.
func (m *Metrics) RequestFinished(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsInFlight.Dec()
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Panic records a recovered handler panic.
func (m *Metrics) Panic() {
	if m == nil {
		return
	}
	m.panics.Inc()
}
