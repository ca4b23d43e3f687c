/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Admission denial reasons.
const (
	DenyReasonCap        = "cap"
	DenyReasonStoreError = "store_error"
)

// MetricsCollector is a collector of admission metrics.
type MetricsCollector interface {
	// IncAdmitted increments the number of granted admissions.
	IncAdmitted()

	// IncDenied increments the number of denied admissions with the given reason.
	IncDenied(reason string)

	// IncReleaseFailures increments the number of lease releases that failed and were queued for retry.
	IncReleaseFailures()
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the concurrency counter.
type PrometheusMetrics struct {
	AdmittedTotal        prometheus.Counter
	DeniedTotal          *prometheus.CounterVec
	ReleaseFailuresTotal prometheus.Counter
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	admittedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_admitted_total",
			Help:        "Number of jobs admitted by the concurrency counter.",
			ConstLabels: opts.ConstLabels,
		},
	)

	deniedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_denied_total",
			Help:        "Number of admissions denied, by reason.",
			ConstLabels: opts.ConstLabels,
		},
		[]string{"reason"},
	)

	releaseFailuresTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_release_failures_total",
			Help:        "Number of lease releases that failed and were queued for asynchronous retry.",
			ConstLabels: opts.ConstLabels,
		},
	)

	return &PrometheusMetrics{
		AdmittedTotal:        admittedTotal,
		DeniedTotal:          deniedTotal,
		ReleaseFailuresTotal: releaseFailuresTotal,
	}
}

// MustRegister registers metrics in Prometheus client and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.AdmittedTotal,
		pm.DeniedTotal,
		pm.ReleaseFailuresTotal,
	)
}

// Unregister unregisters metrics in Prometheus client.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.AdmittedTotal)
	prometheus.Unregister(pm.DeniedTotal)
	prometheus.Unregister(pm.ReleaseFailuresTotal)
}

// IncAdmitted implements MetricsCollector.
func (pm *PrometheusMetrics) IncAdmitted() {
	pm.AdmittedTotal.Inc()
}

// IncDenied implements MetricsCollector.
func (pm *PrometheusMetrics) IncDenied(reason string) {
	pm.DeniedTotal.WithLabelValues(reason).Inc()
}

// IncReleaseFailures implements MetricsCollector.
func (pm *PrometheusMetrics) IncReleaseFailures() {
	pm.ReleaseFailuresTotal.Inc()
}

// disabledMetrics is a no-op MetricsCollector.
type disabledMetrics struct{}

func (disabledMetrics) IncAdmitted()            {}
func (disabledMetrics) IncDenied(reason string) {}
func (disabledMetrics) IncReleaseFailures()     {}
