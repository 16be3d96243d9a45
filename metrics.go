package sietch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsLogger records repository events as prometheus metrics.
type MetricsLogger struct {
	operations *prometheus.HistogramVec
	queries    *prometheus.HistogramVec
	failures   *prometheus.CounterVec
}

// NewMetricsLogger creates the collectors and registers them with reg.
func NewMetricsLogger(reg prometheus.Registerer) (*MetricsLogger, error) {
	m := &MetricsLogger{
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sietch",
			Name:      "operation_duration_seconds",
			Help:      "Duration of repository operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "entity"}),
		queries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sietch",
			Name:      "query_duration_seconds",
			Help:      "Duration of native statements issued by repositories.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sietch",
			Name:      "operation_errors_total",
			Help:      "Failed repository operations by error kind.",
		}, []string{"operation", "entity", "kind"}),
	}
	for _, c := range []prometheus.Collector{m.operations, m.queries, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// LogQuery implements QueryLogger
func (m *MetricsLogger) LogQuery(_ context.Context, operation string, _ string, _ []any, duration time.Duration, _ error) {
	m.queries.WithLabelValues(operation).Observe(duration.Seconds())
}

// LogOperation implements QueryLogger
func (m *MetricsLogger) LogOperation(_ context.Context, operation string, entityType string, duration time.Duration, err error) {
	m.operations.WithLabelValues(operation, entityType).Observe(duration.Seconds())
	if err != nil {
		m.failures.WithLabelValues(operation, entityType, KindName(err)).Inc()
	}
}
