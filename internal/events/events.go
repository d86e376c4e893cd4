// Package events defines the observability event contract the pipeline
// emits into. Sinks are best-effort: a slow or broken sink must never stall
// or fail the operation that produced the event.
package events

import (
	"sync"
	"time"

	"quorum/internal/logging"
)

// Kinds of events the pipeline emits.
const (
	KindTaskTransition   = "task_transition"
	KindProviderAttempt  = "provider_attempt"
	KindProviderFallback = "provider_fallback"
	KindToolLoop         = "tool_loop"
	KindSafety           = "safety"
	KindReviewDecision   = "review_decision"
	KindDispatchDecision = "dispatch_decision"
)

// Event is a flat observability record.
type Event struct {
	Kind       string
	EntityID   string // task id, review id, intent id, or provider route
	PersonaID  string
	TaskType   string
	From       string // state before the transition, if any
	To         string // state after the transition, if any
	ReasonCode string
	WorkerID   string
	RetryCount int
	OccurredAt time.Time
	Fields     map[string]string // extra context, optional
}

// Sink receives events. Implementations must not block the caller.
type Sink interface {
	Emit(event Event)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// NopSink returns a sink that discards all events.
func NopSink() Sink {
	return nopSink{}
}

// OrNop returns sink when non-nil, otherwise a discarding sink.
func OrNop(sink Sink) Sink {
	if sink == nil {
		return nopSink{}
	}
	return sink
}

type multiSink struct {
	sinks []Sink
}

// Multi returns a sink fan-out that emits to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	switch len(kept) {
	case 0:
		return nopSink{}
	case 1:
		return kept[0]
	}
	return multiSink{sinks: kept}
}

func (m multiSink) Emit(event Event) {
	for _, s := range m.sinks {
		s.Emit(event)
	}
}

// ---------------------------------------------------------------------------
// Log sink
// ---------------------------------------------------------------------------

type logSink struct {
	logger logging.Logger
}

// NewLogSink emits every event as a structured log line.
func NewLogSink(logger logging.Logger) Sink {
	return &logSink{logger: logging.OrNop(logger)}
}

func (s *logSink) Emit(event Event) {
	s.logger.Info("event kind=%s entity=%s persona=%s task_type=%s from=%s to=%s reason=%s worker=%s retries=%d",
		event.Kind, event.EntityID, event.PersonaID, event.TaskType,
		event.From, event.To, event.ReasonCode, event.WorkerID, event.RetryCount)
}

// ---------------------------------------------------------------------------
// Memory sink (tests, inspection)
// ---------------------------------------------------------------------------

// MemorySink retains emitted events in order.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of everything emitted so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByKind returns the emitted events of one kind, in order.
func (s *MemorySink) ByKind(kind string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
