// Package metrics exposes Prometheus instruments for the task pipeline and
// an event-sink adapter that feeds them from the pipeline's event stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"quorum/internal/events"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	TaskTransitions  *prometheus.CounterVec
	ProviderAttempts *prometheus.CounterVec
	ProviderFallback prometheus.Counter
	ReviewDecisions  *prometheus.CounterVec
	ToolLoopOutcomes *prometheus.CounterVec
	EventsDropped    prometheus.Counter
}

// New registers all collectors on reg and returns them. Pass
// prometheus.DefaultRegisterer outside tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TaskTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "queue",
			Name:      "task_transitions_total",
			Help:      "Task state transitions by task type, from, to, and reason code.",
		}, []string{"task_type", "from", "to", "reason"}),
		ProviderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "provider",
			Name:      "attempts_total",
			Help:      "Model call attempts by route and outcome.",
		}, []string{"route", "outcome"}),
		ProviderFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "provider",
			Name:      "fallbacks_total",
			Help:      "Times the secondary route was engaged after primary exhaustion.",
		}),
		ReviewDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "review",
			Name:      "decisions_total",
			Help:      "Review queue decisions by terminal state.",
		}, []string{"decision"}),
		ToolLoopOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "prompt",
			Name:      "tool_loop_outcomes_total",
			Help:      "Tool loop terminations by reason.",
		}, []string{"reason"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quorum",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Observability events dropped due to a full sink buffer.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TaskTransitions,
			m.ProviderAttempts,
			m.ProviderFallback,
			m.ReviewDecisions,
			m.ToolLoopOutcomes,
			m.EventsDropped,
		)
	}
	return m
}

// Sink adapts Metrics to the events.Sink contract so counters update from
// the same stream other sinks observe.
type Sink struct {
	metrics *Metrics
}

// NewSink wraps m as an event sink.
func NewSink(m *Metrics) *Sink {
	return &Sink{metrics: m}
}

func (s *Sink) Emit(event events.Event) {
	switch event.Kind {
	case events.KindTaskTransition:
		s.metrics.TaskTransitions.WithLabelValues(event.TaskType, event.From, event.To, event.ReasonCode).Inc()
	case events.KindProviderAttempt:
		s.metrics.ProviderAttempts.WithLabelValues(event.EntityID, event.ReasonCode).Inc()
	case events.KindProviderFallback:
		s.metrics.ProviderFallback.Inc()
	case events.KindReviewDecision:
		s.metrics.ReviewDecisions.WithLabelValues(event.To).Inc()
	case events.KindToolLoop:
		s.metrics.ToolLoopOutcomes.WithLabelValues(event.ReasonCode).Inc()
	}
}
