package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the discipline engine and its
// event intake.
type Metrics struct {
	ActionsCreated       *prometheus.CounterVec
	ActionsApplied       *prometheus.CounterVec
	ActionsPaused        prometheus.Counter
	ActionsResumed       *prometheus.CounterVec
	Evaluations          *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
	EventsConsumed       *prometheus.CounterVec
	ReconcileRuns        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil registerer
// falls back to the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ActionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_actions_created_total",
			Help: "Disciplinary actions recorded, by action type and paused flag",
		}, []string{"type", "paused"}),
		ActionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_actions_applied_total",
			Help: "Disciplinary actions that took effect, by action type",
		}, []string{"type"}),
		ActionsPaused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discipline_actions_paused_total",
			Help: "Scheduled actions paused after a ride started",
		}),
		ActionsResumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_actions_resumed_total",
			Help: "Paused actions handled on ride completion, by outcome (applied|expired)",
		}, []string{"outcome"}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_evaluations_total",
			Help: "Escalation evaluations, by result",
		}, []string{"result"}),
		NotificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_notification_failures_total",
			Help: "Notification deliveries that failed and were dropped, by type",
		}, []string{"type"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_events_consumed_total",
			Help: "Inbound events handled, by event type and result",
		}, []string{"event", "result"}),
		ReconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_reconcile_runs_total",
			Help: "Reconciliation sweeps, by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.ActionsCreated,
		m.ActionsApplied,
		m.ActionsPaused,
		m.ActionsResumed,
		m.Evaluations,
		m.NotificationFailures,
		m.EventsConsumed,
		m.ReconcileRuns,
	)
	return m
}

// NewNop returns collectors registered nowhere, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
