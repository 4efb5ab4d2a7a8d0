package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── API Gateway ─────────────────────────────────────────────────────────────

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total boundary operations served, labelled by operation and HTTP status code.",
	}, []string{"operation", "code"})

	APIRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by a rate limiter.",
	}, []string{"limiter"})

	AnnotationsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "api",
		Name:      "annotations_submitted_total",
		Help:      "Total annotations accepted.",
	})

	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "api",
		Name:      "assignments_total",
		Help:      "Assignment attempts, labelled by whether a task was claimed.",
	}, []string{"assigned"})

	AgentTraceStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "api",
		Name:      "agent_trace_steps_total",
		Help:      "Trajectory steps received in ingested agent traces.",
	})

	// ─── Worker ──────────────────────────────────────────────────────────────────

	WorkerEventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "worker",
		Name:      "events_processed_total",
		Help:      "Events handled, labelled by role and outcome (acked, failed, skipped, dead_lettered).",
	}, []string{"role", "outcome"})

	WorkerEventsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "humanos",
		Subsystem: "worker",
		Name:      "events_inflight",
		Help:      "Events currently being handled.",
	}, []string{"role"})

	WorkerHandlerDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "humanos",
		Subsystem: "worker",
		Name:      "handler_duration_seconds",
		Help:      "Handler execution time in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"role", "event_type"})

	WorkerDeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "worker",
		Name:      "dead_lettered_total",
		Help:      "Total events parked after exhausting their retries.",
	}, []string{"role"})

	WorkerLoopErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "worker",
		Name:      "loop_errors_total",
		Help:      "Poll, ack or fail calls that returned an error.",
	}, []string{"role"})

	// ─── Domain ──────────────────────────────────────────────────────────────────

	ConsensusComputedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "quality",
		Name:      "consensus_computed_total",
		Help:      "Consensus results recorded, labelled by deciding method.",
	}, []string{"method"})

	GoldEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "quality",
		Name:      "gold_evaluations_total",
		Help:      "Gold set evaluations, labelled by passed.",
	}, []string{"passed"})

	RoutingDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "routing",
		Name:      "decisions_total",
		Help:      "Routing decisions, labelled by route.",
	}, []string{"route"})

	WorkflowTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Workflow instance transitions, labelled by kind (advanced, completed).",
	}, []string{"kind"})

	// ─── Relay ───────────────────────────────────────────────────────────────────

	RelayPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "relay",
		Name:      "published_total",
		Help:      "Events forwarded to Kafka, labelled by event type.",
	}, []string{"event_type"})

	RelayWebhookTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "relay",
		Name:      "webhook_total",
		Help:      "Escalation webhook deliveries, labelled by status (ok, error).",
	}, []string{"status"})

	// ─── Scheduler ───────────────────────────────────────────────────────────────

	SchedulerJobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Scheduled job executions, labelled by job and status.",
	}, []string{"job", "status"})

	SchedulerAssignmentsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "humanos",
		Subsystem: "scheduler",
		Name:      "assignments_expired_total",
		Help:      "Assignments moved to expired by the expiry job.",
	})
)
