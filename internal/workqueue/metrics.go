/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package workqueue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector is a collector of work queue metrics.
type MetricsCollector interface {
	// IncEnqueued increments the number of enqueued messages.
	IncEnqueued()

	// AddDelivered increments the number of delivered messages.
	AddDelivered(n int)

	// IncAcked increments the number of acknowledged messages.
	IncAcked()

	// IncReturned increments the number of messages returned to the queue without an attempt.
	IncReturned()

	// IncDeadLettered increments the number of dead-lettered messages.
	IncDeadLettered()

	// ObserveBatchSize observes the size of a received batch.
	ObserveBatchSize(n int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the work queue.
type PrometheusMetrics struct {
	EnqueuedTotal     prometheus.Counter
	DeliveredTotal    prometheus.Counter
	AckedTotal        prometheus.Counter
	ReturnedTotal     prometheus.Counter
	DeadLetteredTotal prometheus.Counter
	BatchSize         prometheus.Histogram
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	newCounter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		})
	}
	return &PrometheusMetrics{
		EnqueuedTotal:     newCounter("queue_enqueued_total", "Number of messages enqueued."),
		DeliveredTotal:    newCounter("queue_delivered_total", "Number of messages delivered to consumers."),
		AckedTotal:        newCounter("queue_acked_total", "Number of messages acknowledged."),
		ReturnedTotal:     newCounter("queue_returned_total", "Number of messages returned without consuming an attempt."),
		DeadLetteredTotal: newCounter("queue_dead_lettered_total", "Number of messages moved to the dead-letter destination."),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "queue_receive_batch_size",
			Help:        "Size of received message batches.",
			ConstLabels: opts.ConstLabels,
			Buckets:     []float64{1, 2, 5, 10, 20, 50},
		}),
	}
}

// MustRegister registers metrics in Prometheus client and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.EnqueuedTotal,
		pm.DeliveredTotal,
		pm.AckedTotal,
		pm.ReturnedTotal,
		pm.DeadLetteredTotal,
		pm.BatchSize,
	)
}

// Unregister unregisters metrics in Prometheus client.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.EnqueuedTotal)
	prometheus.Unregister(pm.DeliveredTotal)
	prometheus.Unregister(pm.AckedTotal)
	prometheus.Unregister(pm.ReturnedTotal)
	prometheus.Unregister(pm.DeadLetteredTotal)
	prometheus.Unregister(pm.BatchSize)
}

// IncEnqueued implements MetricsCollector.
func (pm *PrometheusMetrics) IncEnqueued() { pm.EnqueuedTotal.Inc() }

// AddDelivered implements MetricsCollector.
func (pm *PrometheusMetrics) AddDelivered(n int) { pm.DeliveredTotal.Add(float64(n)) }

// IncAcked implements MetricsCollector.
func (pm *PrometheusMetrics) IncAcked() { pm.AckedTotal.Inc() }

// IncReturned implements MetricsCollector.
func (pm *PrometheusMetrics) IncReturned() { pm.ReturnedTotal.Inc() }

// IncDeadLettered implements MetricsCollector.
func (pm *PrometheusMetrics) IncDeadLettered() { pm.DeadLetteredTotal.Inc() }

// ObserveBatchSize implements MetricsCollector.
func (pm *PrometheusMetrics) ObserveBatchSize(n int) { pm.BatchSize.Observe(float64(n)) }

// disabledMetrics is a no-op MetricsCollector.
type disabledMetrics struct{}

func (disabledMetrics) IncEnqueued()         {}
func (disabledMetrics) AddDelivered(n int)   {}
func (disabledMetrics) IncAcked()            {}
func (disabledMetrics) IncReturned()         {}
func (disabledMetrics) IncDeadLettered()     {}
func (disabledMetrics) ObserveBatchSize(int) {}
