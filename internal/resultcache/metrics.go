/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package resultcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector is a collector of result cache metrics.
type MetricsCollector interface {
	// AddHits increments the number of sub-results served from the cache.
	AddHits(n int)

	// IncSaves increments the number of sub-results written to the cache.
	IncSaves()

	// IncErrors increments the number of degraded cache operations.
	IncErrors(op string)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the result cache.
type PrometheusMetrics struct {
	HitsTotal   prometheus.Counter
	SavesTotal  prometheus.Counter
	ErrorsTotal *prometheus.CounterVec
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	hitsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "result_cache_hits_total",
			Help:        "Number of sub-results served from the cache instead of being recomputed.",
			ConstLabels: opts.ConstLabels,
		},
	)

	savesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "result_cache_saves_total",
			Help:        "Number of successful sub-results written to the cache.",
			ConstLabels: opts.ConstLabels,
		},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "result_cache_errors_total",
			Help:        "Number of cache operations degraded by store errors.",
			ConstLabels: opts.ConstLabels,
		},
		[]string{"op"},
	)

	return &PrometheusMetrics{
		HitsTotal:   hitsTotal,
		SavesTotal:  savesTotal,
		ErrorsTotal: errorsTotal,
	}
}

// MustRegister registers metrics in Prometheus client and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.HitsTotal,
		pm.SavesTotal,
		pm.ErrorsTotal,
	)
}

// Unregister unregisters metrics in Prometheus client.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.HitsTotal)
	prometheus.Unregister(pm.SavesTotal)
	prometheus.Unregister(pm.ErrorsTotal)
}

// AddHits implements MetricsCollector.
func (pm *PrometheusMetrics) AddHits(n int) {
	pm.HitsTotal.Add(float64(n))
}

// IncSaves implements MetricsCollector.
func (pm *PrometheusMetrics) IncSaves() {
	pm.SavesTotal.Inc()
}

// IncErrors implements MetricsCollector.
func (pm *PrometheusMetrics) IncErrors(op string) {
	pm.ErrorsTotal.WithLabelValues(op).Inc()
}

// disabledMetrics is a no-op MetricsCollector.
type disabledMetrics struct{}

func (disabledMetrics) AddHits(n int)       {}
func (disabledMetrics) IncSaves()           {}
func (disabledMetrics) IncErrors(op string) {}
