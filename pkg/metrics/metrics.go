package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_evaluations_total",
			Help: "Total number of rule evaluations (count)",
		},
		[]string{"kind", "result"},
	)

	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rule_evaluation_duration_ms",
			Help:    "Rule evaluation duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"kind"},
	)

	ActiveRules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_rules",
			Help: "Number of rules per lifecycle state (count)",
		},
		[]string{"state"},
	)

	ConflictScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conflict_scans_total",
			Help: "Total number of registry-wide conflict scans started (count)",
		},
	)

	ConflictsDetected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conflicts_detected",
			Help: "Conflicts found by the latest completed scan (count)",
		},
		[]string{"type"},
	)

	ConflictResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflict_resolutions_total",
			Help: "Total number of applied conflict resolutions (count)",
		},
		[]string{"strategy"},
	)

	ApprovalDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_decisions_total",
			Help: "Total number of approval workflow decisions (count)",
		},
		[]string{"decision"},
	)

	SchedulerTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of scheduler sweeps (count)",
		},
	)

	SchedulerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_transitions_total",
			Help: "Total number of state transitions applied by the scheduler (count)",
		},
		[]string{"state"},
	)

	TestBenchRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "test_bench_runs_total",
			Help: "Total number of full test bench runs (count)",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of lifecycle events published (count)",
		},
		[]string{"type", "outcome"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)
)

func RegisterServiceMetrics() {
	prometheus.MustRegister(EvaluationsTotal)
	prometheus.MustRegister(EvaluationDuration)
	prometheus.MustRegister(ActiveRules)
	prometheus.MustRegister(ConflictScansTotal)
	prometheus.MustRegister(ConflictsDetected)
	prometheus.MustRegister(ConflictResolutionsTotal)
	prometheus.MustRegister(ApprovalDecisionsTotal)
	prometheus.MustRegister(SchedulerTicksTotal)
	prometheus.MustRegister(SchedulerTransitionsTotal)
	prometheus.MustRegister(TestBenchRunsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func ObserveEvaluationDuration(kind string, duration time.Duration) {
	EvaluationDuration.WithLabelValues(kind).Observe(float64(duration.Milliseconds()))
}

func SetActiveRules(state string, count int) {
	ActiveRules.WithLabelValues(state).Set(float64(count))
}

func SetConflictsDetected(conflictType string, count int) {
	ConflictsDetected.WithLabelValues(conflictType).Set(float64(count))
}
