package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RestoreMetrics instruments restore job slices.
type RestoreMetrics struct {
	rows     prometheus.Counter
	slices   *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewRestoreMetrics registers the restore metrics on the provided registerer.
func NewRestoreMetrics(reg prometheus.Registerer) *RestoreMetrics {
	if reg == nil {
		return &RestoreMetrics{}
	}
	rows := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "restore_rows_processed_total",
		Help: "Backup rows replayed into the store.",
	})
	slices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "restore_slices_total",
		Help: "Restore run invocations by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "restore_slice_duration_seconds",
		Help:    "Duration of restore slices in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(rows, slices, duration)
	return &RestoreMetrics{rows: rows, slices: slices, duration: duration}
}

// AddRows counts replayed rows.
func (m *RestoreMetrics) AddRows(n int64) {
	if m == nil || m.rows == nil || n <= 0 {
		return
	}
	m.rows.Add(float64(n))
}

// IncSlice counts one run invocation with its outcome.
func (m *RestoreMetrics) IncSlice(outcome string) {
	if m == nil || m.slices == nil {
		return
	}
	m.slices.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveSlice records one slice's runtime.
func (m *RestoreMetrics) ObserveSlice(d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}
