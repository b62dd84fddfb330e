// Package metrics defines the Prometheus instruments exported by conductor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conductor"

// Metrics groups every instrument. A nil *Metrics is never handed out;
// components that were given none use New(nil), which registers into a
// private registry nobody scrapes.
type Metrics struct {
	// TasksCreated counts tasks accepted from callers.
	TasksCreated prometheus.Counter
	// TaskTransitions counts status changes by target status.
	TaskTransitions *prometheus.CounterVec
	// TaskRetries counts priority-gated retries.
	TaskRetries prometheus.Counter
	// TaskReassignments counts tasks pulled back from offline agents.
	TaskReassignments prometheus.Counter
	// TaskTimeouts counts tasks failed by the per-assignment timer.
	TaskTimeouts prometheus.Counter
	// Dispatches counts distribution attempts by result
	// (sent, send_error, no_agent, dependency_wait).
	Dispatches *prometheus.CounterVec
	// QueueDepth is the number of task IDs waiting in the pending queue.
	QueueDepth prometheus.Gauge
	// ActiveTasks is the number of tasks counted against the ceiling.
	ActiveTasks prometheus.Gauge
	// AssignmentLatency observes time from creation to first assignment.
	AssignmentLatency prometheus.Histogram
	// TaskDuration observes time from assignment to outcome.
	TaskDuration *prometheus.HistogramVec
	// Agents is the number of registered agents by status.
	Agents *prometheus.GaugeVec
	// WorkflowsFinished counts workflows reaching a terminal status.
	WorkflowsFinished *prometheus.CounterVec
	// CircuitBreakerState is 0 closed, 1 half-open, 2 open, per agent.
	CircuitBreakerState *prometheus.GaugeVec
	// EventsDropped counts events dropped because a subscriber lagged.
	EventsDropped prometheus.Counter
}

// New registers all instruments with reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		TasksCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Total number of tasks created.",
		}),
		TaskTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task status transitions by target status.",
		}, []string{"status"}),
		TaskRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Failed tasks sent back to the queue by the retry policy.",
		}),
		TaskReassignments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_reassignments_total",
			Help:      "Tasks requeued because their agent went offline.",
		}),
		TaskTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_timeouts_total",
			Help:      "Tasks failed by the assignment timeout.",
		}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Distribution attempts by result.",
		}, []string{"result"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Task IDs waiting in the pending queue.",
		}),
		ActiveTasks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Tasks counted against the concurrency ceiling.",
		}),
		AssignmentLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assignment_latency_seconds",
			Help:      "Time from task creation to first assignment.",
			Buckets:   []float64{.01, .1, .5, 1, 2, 5, 10, 30, 60, 300},
		}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from assignment to outcome.",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		Agents: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Registered agents by status.",
		}, []string{"status"}),
		WorkflowsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Workflows reaching a terminal status.",
		}, []string{"status"}),
		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_circuit_breaker_state",
			Help:      "Dispatch circuit breaker state per agent (0=closed, 1=half-open, 2=open).",
		}, []string{"channel", "agent"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber fell behind.",
		}),
	}
}

// OrNew returns m, or unregistered instruments when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m == nil {
		return New(nil)
	}
	return m
}
