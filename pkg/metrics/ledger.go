package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics instruments posting throughput and the guard/conflict paths
// that matter operationally: how often debits are rejected and how often
// idempotent replays short-circuit.
type LedgerMetrics struct {
	postings   *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
	duplicates prometheus.Counter
	duration   *prometheus.HistogramVec
}

// NewLedgerMetrics registers the posting metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_postings_total",
		Help: "Journal entries written, by transaction type.",
	}, []string{"type"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_posting_conflicts_total",
		Help: "Postings rejected by insufficiency or guard failures.",
	}, []string{"reason"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_posting_duplicates_total",
		Help: "Idempotent replays resolved to an existing journal entry.",
	})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_posting_duration_seconds",
		Help:    "Duration of posting batches in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	reg.MustRegister(postings, conflicts, duplicates, duration)
	return &LedgerMetrics{
		postings:   postings,
		conflicts:  conflicts,
		duplicates: duplicates,
		duration:   duration,
	}
}

// IncPosting counts one written journal entry.
func (m *LedgerMetrics) IncPosting(txType string) {
	if m == nil || m.postings == nil {
		return
	}
	m.postings.WithLabelValues(normalizeLabel(txType)).Inc()
}

// IncConflict counts one rejected posting.
func (m *LedgerMetrics) IncConflict(reason string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncDuplicate counts one idempotent replay.
func (m *LedgerMetrics) IncDuplicate() {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.Inc()
}

// ObserveDuration records the runtime of one posting operation.
func (m *LedgerMetrics) ObserveDuration(op string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(op)).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return v
}
