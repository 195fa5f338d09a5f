package governance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Hooks receive governance events for telemetry. All fields are optional;
// nil hooks are skipped, so the zero value is valid.
type Hooks struct {
	OnBudgetRemaining  func(resource string, remaining int)
	OnEscalation       func(reason Reason)
	OnApprovalRequest  func(actionType string)
	OnApprovalDecision func(actionType string, status ApprovalStatus, latency time.Duration)
	OnSecurityCheck    func(check string, passed bool)
	OnPIIDetected      func(piiType, direction string)
}

// Metrics holds Prometheus metrics for the governance components.
type Metrics struct {
	BudgetRemaining   *prometheus.GaugeVec
	EscalationsTotal  *prometheus.CounterVec
	ApprovalRequests  *prometheus.CounterVec
	ApprovalDecisions *prometheus.CounterVec
	ApprovalLatency   prometheus.Histogram
	SecurityChecks    *prometheus.CounterVec
	PIIDetections     *prometheus.CounterVec
}

// NewMetrics registers and returns governance metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BudgetRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_governance_budget_remaining",
			Help: "Remaining budget per resource after the most recent increment.",
		}, []string{"resource"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_governance_escalations_total",
			Help: "Total escalations to a human by reason.",
		}, []string{"reason"}),
		ApprovalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_governance_approval_requests_total",
			Help: "Total approval requests by action type.",
		}, []string{"action_type"}),
		ApprovalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_governance_approval_decisions_total",
			Help: "Total approval decisions by action type and decision.",
		}, []string{"action_type", "decision"}),
		ApprovalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_governance_approval_latency_seconds",
			Help:    "Wall-clock time from approval request to human decision.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1s .. ~73h
		}),
		SecurityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_governance_security_checks_total",
			Help: "Total security checks by check type and result.",
		}, []string{"check", "result"}),
		PIIDetections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_governance_pii_detections_total",
			Help: "Total PII pattern detections by type and direction.",
		}, []string{"pii_type", "direction"}),
	}

	reg.MustRegister(
		m.BudgetRemaining,
		m.EscalationsTotal,
		m.ApprovalRequests,
		m.ApprovalDecisions,
		m.ApprovalLatency,
		m.SecurityChecks,
		m.PIIDetections,
	)

	return m
}

// Hooks returns a Hooks that updates the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnBudgetRemaining: func(resource string, remaining int) {
			m.BudgetRemaining.WithLabelValues(resource).Set(float64(remaining))
		},
		OnEscalation: func(reason Reason) {
			m.EscalationsTotal.WithLabelValues(string(reason)).Inc()
		},
		OnApprovalRequest: func(actionType string) {
			m.ApprovalRequests.WithLabelValues(actionType).Inc()
		},
		OnApprovalDecision: func(actionType string, status ApprovalStatus, latency time.Duration) {
			m.ApprovalDecisions.WithLabelValues(actionType, string(status)).Inc()
			m.ApprovalLatency.Observe(latency.Seconds())
		},
		OnSecurityCheck: func(check string, passed bool) {
			result := "passed"
			if !passed {
				result = "failed"
			}
			m.SecurityChecks.WithLabelValues(check, result).Inc()
		},
		OnPIIDetected: func(piiType, direction string) {
			m.PIIDetections.WithLabelValues(piiType, direction).Inc()
		},
	}
}
