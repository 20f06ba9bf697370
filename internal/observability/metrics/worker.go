package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers the corpus-event invalidation worker.
type WorkerMetrics struct {
	registry *prometheus.Registry

	invalidationTotal    *prometheus.CounterVec
	invalidationDuration *prometheus.HistogramVec
	deletedKeys          *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	invalidationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "worker",
			Name:      "invalidation_total",
			Help:      "Total processed tenant invalidation events by status.",
		},
		[]string{"service", "status"},
	)
	invalidationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "worker",
			Name:      "invalidation_duration_seconds",
			Help:      "Tenant invalidation duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	deletedKeys := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "worker",
			Name:      "invalidation_deleted_keys",
			Help:      "Distribution of cache keys deleted per invalidation.",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"service"},
	)

	registry.MustRegister(invalidationTotal, invalidationDuration, deletedKeys)

	return &WorkerMetrics{
		registry:             registry,
		invalidationTotal:    invalidationTotal,
		invalidationDuration: invalidationDuration,
		deletedKeys:          deletedKeys,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) RecordInvalidation(service string, deleted int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.invalidationTotal.WithLabelValues(service, status).Inc()
	m.invalidationDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	if err == nil {
		m.deletedKeys.WithLabelValues(service).Observe(float64(deleted))
	}
}
