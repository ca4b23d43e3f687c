/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dispatcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcome labels.
const (
	OutcomeSucceeded    = "succeeded"
	OutcomeFailed       = "failed"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeCancelled    = "cancelled"
	OutcomeHandedOff    = "handed_off"
)

// MetricsCollector is a collector of metrics about dispatched jobs.
type MetricsCollector interface {
	// IncJobs increments the number of jobs finishing with the given outcome.
	IncJobs(outcome string)

	// ObserveJobDuration observes how long a job held its admission lease.
	ObserveJobDuration(d time.Duration)

	// IncSubUnitsProcessed increments the number of executed sub-units.
	IncSubUnitsProcessed()

	// AddSubUnitsSkipped adds the number of sub-units satisfied from the result cache.
	AddSubUnitsSkipped(n int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the dispatcher.
type PrometheusMetrics struct {
	JobsTotal              *prometheus.CounterVec
	JobDurationSeconds     prometheus.Histogram
	SubUnitsProcessedTotal prometheus.Counter
	SubUnitsSkippedTotal   prometheus.Counter
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "dispatcher_jobs_total",
			Help:        "Number of jobs finishing in each outcome.",
			ConstLabels: opts.ConstLabels,
		},
		[]string{"outcome"},
	)

	jobDurationSeconds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "dispatcher_job_duration_seconds",
			Help:        "Time a job held its admission lease.",
			ConstLabels: opts.ConstLabels,
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
	)

	subUnitsProcessedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "dispatcher_sub_units_processed_total",
			Help:        "Number of sub-units executed directly.",
			ConstLabels: opts.ConstLabels,
		},
	)

	subUnitsSkippedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "dispatcher_sub_units_skipped_total",
			Help:        "Number of sub-units satisfied from the result cache.",
			ConstLabels: opts.ConstLabels,
		},
	)

	return &PrometheusMetrics{
		JobsTotal:              jobsTotal,
		JobDurationSeconds:     jobDurationSeconds,
		SubUnitsProcessedTotal: subUnitsProcessedTotal,
		SubUnitsSkippedTotal:   subUnitsSkippedTotal,
	}
}

// MustRegister registers metrics in Prometheus client and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.JobsTotal,
		pm.JobDurationSeconds,
		pm.SubUnitsProcessedTotal,
		pm.SubUnitsSkippedTotal,
	)
}

// Unregister unregisters metrics in Prometheus client.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.JobsTotal)
	prometheus.Unregister(pm.JobDurationSeconds)
	prometheus.Unregister(pm.SubUnitsProcessedTotal)
	prometheus.Unregister(pm.SubUnitsSkippedTotal)
}

// IncJobs implements MetricsCollector.
func (pm *PrometheusMetrics) IncJobs(outcome string) {
	pm.JobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveJobDuration implements MetricsCollector.
func (pm *PrometheusMetrics) ObserveJobDuration(d time.Duration) {
	pm.JobDurationSeconds.Observe(d.Seconds())
}

// IncSubUnitsProcessed implements MetricsCollector.
func (pm *PrometheusMetrics) IncSubUnitsProcessed() {
	pm.SubUnitsProcessedTotal.Inc()
}

// AddSubUnitsSkipped implements MetricsCollector.
func (pm *PrometheusMetrics) AddSubUnitsSkipped(n int) {
	pm.SubUnitsSkippedTotal.Add(float64(n))
}

// disabledMetrics is a no-op MetricsCollector.
type disabledMetrics struct{}

func (disabledMetrics) IncJobs(outcome string)             {}
func (disabledMetrics) ObserveJobDuration(d time.Duration) {}
func (disabledMetrics) IncSubUnitsProcessed()              {}
func (disabledMetrics) AddSubUnitsSkipped(n int)           {}
