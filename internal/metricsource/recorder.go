package metricsource

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder instruments Source reads as Prometheus metrics using the
// standard CounterVec/HistogramVec registration pattern.
type Recorder struct {
	reads    *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRecorder registers the metrics-source read counters/histogram against
// registry (internal/app passes prometheus.DefaultRegisterer).
func NewRecorder(registry prometheus.Registerer) *Recorder {
	r := &Recorder{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gitops_auditor",
			Subsystem: "metricsource",
			Name:      "reads_total",
			Help:      "Total number of Metrics Source reads, by method.",
		}, []string{"method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gitops_auditor",
			Subsystem: "metricsource",
			Name:      "read_errors_total",
			Help:      "Total number of Metrics Source read errors, by method.",
		}, []string{"method"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gitops_auditor",
			Subsystem: "metricsource",
			Name:      "read_duration_seconds",
			Help:      "Duration of Metrics Source reads, by method.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"method"}),
	}
	registry.MustRegister(r.reads, r.errors, r.duration)
	return r
}

// ObserveRead records one read's outcome and latency for method.
func (r *Recorder) ObserveRead(method string, elapsed time.Duration, err error) {
	r.reads.WithLabelValues(method).Inc()
	r.duration.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		r.errors.WithLabelValues(method).Inc()
	}
}
