package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Detection: сколько алертов/конфликтов породил проход
	AlertsRaised      *prometheus.CounterVec
	ConflictsDetected *prometheus.CounterVec

	// Errors: упавшие правила и проверки (пропущены, батч продолжен)
	RuleErrors *prometheus.CounterVec

	// Approval: переходы state machine и эскалации по таймауту
	ApprovalTransitions *prometheus.CounterVec
	Escalations         *prometheus.CounterVec

	// Continuity: переходы замен в sweep-е
	ReplacementTransitions *prometheus.CounterVec

	// Health: распределение оценок
	HealthScore prometheus.Histogram

	SweepDuration *prometheus.HistogramVec

	// Remediation: исполнение команд и состояние предохранителя (0 - ок, 1 - выбило)
	RemediationCommands *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec

	// Journal: заполненность буфера (backpressure)
	JournalBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		AlertsRaised: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_alerts_raised_total",
			Help: "Alerts produced by rule evaluation.",
		}, []string{"rule_id", "severity"}),

		ConflictsDetected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_conflicts_detected_total",
			Help: "Conflicts produced by detection passes.",
		}, []string{"type", "severity"}),

		RuleErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_rule_errors_total",
			Help: "Rules or checks that failed and were skipped.",
		}, []string{"rule_id"}),

		ApprovalTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_approval_transitions_total",
			Help: "Approval request transitions by workflow.",
		}, []string{"workflow_id", "transition"}),

		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_escalations_total",
			Help: "Timeout escalations (escalated or exhausted).",
		}, []string{"workflow_id", "outcome"}),

		ReplacementTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_replacement_transitions_total",
			Help: "Replacement status changes applied by the scheduler sweep.",
		}, []string{"status"}),

		HealthScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "governance_health_score",
			Help:    "Histogram of delegation health scores.",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		SweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governance_sweep_duration_seconds",
			Help:    "Duration of periodic sweeps.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"sweep"}),

		RemediationCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_remediation_commands_total",
			Help: "Remediation commands dispatched to executors.",
		}, []string{"kind", "status"}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "governance_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"executor"}),

		JournalBufferFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "governance_journal_buffer_utilization",
			Help: "Current number of assessments in journal buffer.",
		}),
	}
}
