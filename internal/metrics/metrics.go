// Package metrics exposes analysis counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fca_cleaner/internal/fca"
)

// Namespace prefixes every metric name.
const Namespace = "fca"

var durationBuckets = []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1}

// Recorder owns a registry and the analysis metrics registered in it. A nil
// *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	analyses      *prometheus.CounterVec
	reconstructed *prometheus.CounterVec
	garbage       *prometheus.CounterVec
	fareStatus    *prometheus.CounterVec
	errorCodes    *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// New creates a Recorder with its own registry. withRuntime adds the Go and
// process collectors.
func New(withRuntime bool) *Recorder {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: Namespace}),
		)
	}

	r := &Recorder{
		registry: reg,
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "analyses_total",
			Help:      "Patterns analysed, by source and outcome.",
		}, []string{"source", "result"}),
		reconstructed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconstructions_total",
			Help:      "Patterns that only validated after reconstruction.",
		}, []string{"source"}),
		garbage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "garbage_tokens_total",
			Help:      "Garbage tokens removed from patterns.",
		}, []string{"source"}),
		fareStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fare_status_total",
			Help:      "Fare reconciliation outcomes.",
		}, []string{"source", "status"}),
		errorCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "structural_errors_total",
			Help:      "Invalid patterns by error code.",
		}, []string{"source", "code"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "store_errors_total",
			Help:      "Failed attempts to persist an analysis.",
		}, []string{"source"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent analysing one pattern.",
			Buckets:   durationBuckets,
		}, []string{"source"}),
	}

	reg.MustRegister(r.analyses, r.reconstructed, r.garbage, r.fareStatus, r.errorCodes, r.storeErrors, r.duration)
	return r
}

// Observe records one analysis.
func (r *Recorder) Observe(source string, res *fca.AnalysisResult, took time.Duration) {
	if r == nil || res == nil {
		return
	}

	result := "valid"
	if !res.IsValid {
		result = "invalid"
	}
	r.analyses.WithLabelValues(source, result).Inc()
	r.duration.WithLabelValues(source).Observe(took.Seconds())
	r.fareStatus.WithLabelValues(source, res.Fare.Status.String()).Inc()

	if res.Reconstructed {
		r.reconstructed.WithLabelValues(source).Inc()
	}
	if n := len(res.GarbageTokens); n > 0 {
		r.garbage.WithLabelValues(source).Add(float64(n))
	}
	if res.ErrorCode != "" {
		r.errorCodes.WithLabelValues(source, string(res.ErrorCode)).Inc()
	}
}

// StoreError counts a failed save.
func (r *Recorder) StoreError(source string) {
	if r == nil {
		return
	}
	r.storeErrors.WithLabelValues(source).Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
