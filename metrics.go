package trustkit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the service.
type Metrics struct {
	// Gate metrics
	GuardDecisionsTotal   *prometheus.CounterVec
	ViolationsTotal       *prometheus.CounterVec
	ContainmentTransTotal *prometheus.CounterVec

	// Permission metrics
	PermissionChecksTotal *prometheus.CounterVec
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter

	// Write failures on the side logs
	LogWriteFailuresTotal *prometheus.CounterVec

	// Transaction metrics
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration prometheus.Histogram
}

// NewMetrics creates and registers all collectors on registry.
// A nil registry creates unregistered collectors.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustkit_guard_decisions_total",
				Help: "Total number of guard decisions by outcome",
			},
			[]string{"outcome"},
		),
		ViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustkit_violations_total",
				Help: "Total number of content violations by category",
			},
			[]string{"category"},
		),
		ContainmentTransTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustkit_containment_transitions_total",
				Help: "Total number of containment status escalations by new status",
			},
			[]string{"status"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustkit_permission_checks_total",
				Help: "Total number of permission checks by result",
			},
			[]string{"result"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trustkit_permission_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trustkit_permission_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
		),
		LogWriteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustkit_log_write_failures_total",
				Help: "Total number of failed audit or shadow log writes",
			},
			[]string{"log"},
		),
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustkit_transactions_total",
				Help: "Total number of store transactions by status",
			},
			[]string{"status"},
		),
		TransactionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trustkit_transaction_duration_seconds",
				Help:    "Store transaction duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.GuardDecisionsTotal,
			m.ViolationsTotal,
			m.ContainmentTransTotal,
			m.PermissionChecksTotal,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.LogWriteFailuresTotal,
			m.TransactionsTotal,
			m.TransactionDuration,
		)
	}
	return m
}

func (m *Metrics) guardDecision(outcome string) {
	if m == nil {
		return
	}
	m.GuardDecisionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) violation(category string) {
	if m == nil {
		return
	}
	m.ViolationsTotal.WithLabelValues(category).Inc()
}

func (m *Metrics) containment(from, to ContainmentStatus) {
	if m == nil || from == to {
		return
	}
	m.ContainmentTransTotal.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) permissionCheck(allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.PermissionChecksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

func (m *Metrics) logWriteFailure(log string) {
	if m == nil {
		return
	}
	m.LogWriteFailuresTotal.WithLabelValues(log).Inc()
}

// recordTransaction records a transaction completion with its duration and success status
func (m *Metrics) recordTransaction(duration time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "committed"
	if !success {
		status = "rolled_back"
	}
	m.TransactionsTotal.WithLabelValues(status).Inc()
	m.TransactionDuration.Observe(duration.Seconds())
}
