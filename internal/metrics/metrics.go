// Package metrics provides Prometheus collectors for the authentication gate
// and the audit ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricAuthAttemptsTotal        = "auth_attempts_total"
	MetricAccountLockoutsTotal     = "account_lockouts_total"
	MetricAuditAppendsTotal        = "audit_appends_total"
	MetricAuditAppendFailuresTotal = "audit_append_failures_total"
	MetricAuditAppendRetriesTotal  = "audit_append_retries_total"
	MetricAuditAppendDuration      = "audit_append_duration_seconds"
	MetricAuditVerificationsTotal  = "audit_verifications_total"
	MetricAuditChainLength         = "audit_chain_length"
)

// Authentication outcomes.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeLocked             = "locked"
	OutcomeDisabled           = "disabled"
	OutcomeError              = "error"
)

// Audit failure reasons.
const (
	ReasonValidation = "validation"
	ReasonStorage    = "storage"
	ReasonPanic      = "panic"
)

// Verification results.
const (
	ResultValid    = "valid"
	ResultTampered = "tampered"
	ResultError    = "error"
)

// Metrics contains the Prometheus collectors for the trust core.
// All methods are safe for concurrent use and tolerate a nil receiver, so
// components can run without metrics in tests.
type Metrics struct {
	authAttempts        *prometheus.CounterVec
	lockouts            prometheus.Counter
	auditAppends        *prometheus.CounterVec
	auditAppendFailures *prometheus.CounterVec
	auditAppendRetries  prometheus.Counter
	auditAppendDuration prometheus.Histogram
	auditVerifications  *prometheus.CounterVec
	auditChainLength    prometheus.Gauge
}

// NewMetrics creates the collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAuthAttemptsTotal,
				Help: "Total number of authentication attempts by outcome",
			},
			[]string{"outcome"},
		),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAccountLockoutsTotal,
			Help: "Total number of transitions into the locked state",
		}),
		auditAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAuditAppendsTotal,
				Help: "Total number of audit entries appended by event category",
			},
			[]string{"category"},
		),
		auditAppendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAuditAppendFailuresTotal,
				Help: "Total number of audit events that could not be appended, by reason",
			},
			[]string{"reason"},
		),
		auditAppendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditAppendRetriesTotal,
			Help: "Total number of appends retried after losing the ledger tail to another writer",
		}),
		auditAppendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricAuditAppendDuration,
			Help:    "Histogram of audit append latency in seconds",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		auditVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAuditVerificationsTotal,
				Help: "Total number of ledger verifications by result",
			},
			[]string{"result"},
		),
		auditChainLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricAuditChainLength,
			Help: "Number of entries checked by the most recent ledger verification",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.authAttempts,
		m.lockouts,
		m.auditAppends,
		m.auditAppendFailures,
		m.auditAppendRetries,
		m.auditAppendDuration,
		m.auditVerifications,
		m.auditChainLength,
	}
}

func (m *Metrics) IncAuthAttempt(outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncLockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) IncAuditAppend(category string) {
	if m == nil {
		return
	}
	m.auditAppends.WithLabelValues(category).Inc()
}

func (m *Metrics) IncAuditAppendFailure(reason string) {
	if m == nil {
		return
	}
	m.auditAppendFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncAuditAppendRetry() {
	if m == nil {
		return
	}
	m.auditAppendRetries.Inc()
}

func (m *Metrics) ObserveAuditAppend(seconds float64) {
	if m == nil {
		return
	}
	m.auditAppendDuration.Observe(seconds)
}

// RecordVerification counts a verification run and, unless it errored,
// publishes how many entries it checked.
func (m *Metrics) RecordVerification(result string, checked int64) {
	if m == nil {
		return
	}
	m.auditVerifications.WithLabelValues(result).Inc()
	if result != ResultError {
		m.auditChainLength.Set(float64(checked))
	}
}
