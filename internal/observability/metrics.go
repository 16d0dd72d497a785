// Package observability holds the process's Prometheus metrics registry
// and the /metrics HTTP handler.
//
// Grounded on escrow.Metrics's promauto-registered Vec fields plus
// Record* method shape, generalized from economic-barrier counters to the
// automation core's ingress/inbox/gate/scheduler counters.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the automation core emits.
type Metrics struct {
	WebhooksReceived        *prometheus.CounterVec
	InboxJobsProcessed      *prometheus.CounterVec
	InboxProcessingDuration *prometheus.HistogramVec
	TriggerEventsCreated    *prometheus.CounterVec
	GateDecisions           *prometheus.CounterVec
	ActionInvocations       *prometheus.CounterVec
	SchedulerFires          *prometheus.CounterVec
	InboxRowsDeleted        prometheus.Counter
}

// NewMetrics creates and registers every metric.
func NewMetrics() *Metrics {
	return &Metrics{
		WebhooksReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_core_webhooks_received_total",
				Help: "Total webhook requests accepted by the ingress.",
			},
			[]string{"provider"},
		),
		InboxJobsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_core_inbox_jobs_processed_total",
				Help: "Total inbox.process jobs handled, by outcome.",
			},
			[]string{"outcome"}, // completed, failed
		),
		InboxProcessingDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automation_core_inbox_processing_duration_seconds",
				Help:    "Duration of one inbox.process job.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		TriggerEventsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_core_trigger_events_created_total",
				Help: "Total TriggerEvents created, by status.",
			},
			[]string{"status"},
		),
		GateDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_core_gate_decisions_total",
				Help: "Session Gate admission decisions, by operation and outcome code.",
			},
			[]string{"operation", "code"},
		),
		ActionInvocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_core_action_invocations_total",
				Help: "Action invocations, by terminal status.",
			},
			[]string{"integration", "status"},
		),
		SchedulerFires: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_core_scheduler_fires_total",
				Help: "Scheduled/polling trigger fires, by outcome.",
			},
			[]string{"outcome"},
		),
		InboxRowsDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "automation_core_inbox_rows_deleted_total",
				Help: "Total InboxRows removed by the GC sweeper.",
			},
		),
	}
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
