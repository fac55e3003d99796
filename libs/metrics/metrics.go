package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OutboxBacklog tracks undelivered rows in the outbox table.
	// This is the primary lag indicator; a non-draining backlog means a row
	// is stuck in permanent publish failure.
	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventbus_outbox_backlog",
		Help: "Current number of undelivered rows in the outbox table",
	})

	// PublishedEvents counts rows successfully published and marked delivered.
	PublishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_published_events_total",
		Help: "Total number of outbox rows published to the transport",
	}, []string{"topic"})

	// PublishErrors counts per-row publish failures. These rows stay
	// undelivered and are retried on the next tick.
	PublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_publish_errors_total",
		Help: "Total number of per-row publish failures",
	}, []string{"topic"})

	// UntransactionalAppends counts events recorded outside a caller
	// transaction, where the business write and the event write are not atomic.
	UntransactionalAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventbus_outbox_untx_appends_total",
		Help: "Total number of outbox appends performed outside a caller transaction",
	})

	// JobRetries counts job executions that failed and were rescheduled.
	JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_job_retries_total",
		Help: "Total number of job failures rescheduled with backoff",
	}, []string{"queue", "job_type"})

	// DeadLetteredJobs counts jobs moved to the dead-letter table after
	// exhausting their attempts.
	DeadLetteredJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_dead_lettered_jobs_total",
		Help: "Total number of jobs moved to the dead-letter table",
	}, []string{"queue", "job_type"})

	// ConnectedClients tracks open WebSocket connections on this gateway instance.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventbus_gateway_connected_clients",
		Help: "Current number of connected WebSocket clients",
	})

	// TypingThrottled counts typing_start frames dropped by the per-chat throttle.
	TypingThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventbus_gateway_typing_throttled_total",
		Help: "Total number of typing_start frames dropped by the throttle window",
	})

	// NotificationDedupHits counts redelivered events suppressed by the dedup guard.
	NotificationDedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventbus_notification_dedup_hits_total",
		Help: "Total number of notification fanouts suppressed as duplicates",
	})

	// WorkflowRuns counts workflow runs by terminal status.
	WorkflowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_workflow_runs_total",
		Help: "Total number of workflow runs by terminal status",
	}, []string{"status"})
)
