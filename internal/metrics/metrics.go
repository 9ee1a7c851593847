// Package metrics exposes service operation counters and the public phase
// as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pulse"

var phases = []string{"COLLECTION_OPEN", "PROCESSING_CLOSED", "PUBLICATION_LIVE"}

// Recorder implements services.MetricsRecorder and services.PhaseObserver.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	phase      *prometheus.GaugeVec

	mu        sync.Mutex
	lastPhase string
}

// New registers the Pulse collectors plus the Go and process collectors on a
// private registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "1 for the public phase last resolved, 0 for the others.",
		}, []string{"phase"}),
	}
	r.registry.MustRegister(
		r.operations,
		r.durations,
		r.phase,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, p := range phases {
		r.phase.WithLabelValues(p).Set(0)
	}
	return r
}

func (r *Recorder) Observe(_ context.Context, operation, outcome string, d time.Duration) {
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.durations.WithLabelValues(operation).Observe(d.Seconds())
}

func (r *Recorder) ObservePhase(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if phase == r.lastPhase {
		return
	}
	if r.lastPhase != "" {
		r.phase.WithLabelValues(r.lastPhase).Set(0)
	}
	r.phase.WithLabelValues(phase).Set(1)
	r.lastPhase = phase
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the registry for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }
