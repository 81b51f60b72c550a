// Package prometheus exports occupancy service metrics through
// client_golang collectors.
package prometheus

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"housingcore/pkg/domain"
)

const namespace = "housing"

// Recorder implements the service metrics hooks with Prometheus collectors.
type Recorder struct {
	durations  *prometheus.HistogramVec
	operations *prometheus.CounterVec
	entries    *prometheus.CounterVec
}

// NewRecorder builds the collectors and registers them with reg. A nil reg
// uses the default registerer.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of occupancy service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Occupancy service operations by outcome.",
		}, []string{"op", "status"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_entries_total",
			Help:      "Batch entries by outcome.",
		}, []string{"op", "status"}),
	}
	for _, c := range []prometheus.Collector{r.durations, r.operations, r.entries} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// Observe records one completed operation.
func (r *Recorder) Observe(_ context.Context, op string, success bool, d time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.durations.WithLabelValues(op).Observe(d.Seconds())
	r.operations.WithLabelValues(op, status).Inc()
}

// ObserveBatchEntry counts one batch entry outcome.
func (r *Recorder) ObserveBatchEntry(_ context.Context, op string, status domain.BatchStatus) {
	r.entries.WithLabelValues(op, string(status)).Inc()
}
