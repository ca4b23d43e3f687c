/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package invoke

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Attempt outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomeFatal     = "fatal"
	OutcomeExhausted = "exhausted"
)

// MetricsCollector is a collector of metrics about invocation attempts.
type MetricsCollector interface {
	// IncAttempts increments the number of attempts against a target with the given outcome.
	IncAttempts(target, outcome string)

	// ObserveRetryDelay observes the backoff delay chosen before a retry.
	ObserveRetryDelay(target string, delay time.Duration)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the invocation wrapper.
type PrometheusMetrics struct {
	AttemptsTotal     *prometheus.CounterVec
	RetryDelaySeconds *prometheus.HistogramVec
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	attemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "invoker_attempts_total",
			Help:        "Number of invocation attempts by target and outcome.",
			ConstLabels: opts.ConstLabels,
		},
		[]string{"target", "outcome"},
	)

	retryDelaySeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "invoker_retry_delay_seconds",
			Help:        "Backoff delay chosen before invocation retries.",
			ConstLabels: opts.ConstLabels,
			Buckets:     []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"target"},
	)

	return &PrometheusMetrics{
		AttemptsTotal:     attemptsTotal,
		RetryDelaySeconds: retryDelaySeconds,
	}
}

// MustRegister registers metrics in Prometheus client and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.AttemptsTotal,
		pm.RetryDelaySeconds,
	)
}

// Unregister unregisters metrics in Prometheus client.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.AttemptsTotal)
	prometheus.Unregister(pm.RetryDelaySeconds)
}

// IncAttempts implements MetricsCollector.
func (pm *PrometheusMetrics) IncAttempts(target, outcome string) {
	pm.AttemptsTotal.WithLabelValues(target, outcome).Inc()
}

// ObserveRetryDelay implements MetricsCollector.
func (pm *PrometheusMetrics) ObserveRetryDelay(target string, delay time.Duration) {
	pm.RetryDelaySeconds.WithLabelValues(target).Observe(delay.Seconds())
}

// disabledMetrics is a no-op MetricsCollector.
type disabledMetrics struct{}

func (disabledMetrics) IncAttempts(target, outcome string)                 {}
func (disabledMetrics) ObserveRetryDelay(target string, dur time.Duration) {}
