package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quorum/internal/events"
	"quorum/internal/logging"
	"quorum/internal/policy"
	"quorum/internal/queue"
)

// Precheck is a dry-run policy/safety evaluation performed before a task is
// committed to the queue. It runs at most once per intent.
type Precheck func(ctx context.Context, intent *Intent, persona Persona, pol policy.Snapshot, now time.Time) PrecheckResult

// PrecheckResult accumulates reason codes; the intent is allowed only when
// the list is empty.
type PrecheckResult struct {
	Reasons []string
}

// Allowed reports whether no check objected.
func (r PrecheckResult) Allowed() bool {
	return len(r.Reasons) == 0
}

// CreateTask persists a freshly built task together with the intent's
// terminal status. This callback is the seam for callers that can wrap both
// writes in one store transaction; the dispatcher itself stays pure.
type CreateTask func(ctx context.Context, task *queue.Task, intent *Intent) error

// Dispatcher assigns intents to eligible personas and enqueues tasks.
type Dispatcher struct {
	idGen  func() string
	sink   events.Sink
	logger logging.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithIDGenerator replaces the task id source (deterministic ids in tests).
func WithIDGenerator(gen func() string) Option {
	return func(d *Dispatcher) { d.idGen = gen }
}

// New creates a Dispatcher.
func New(sink events.Sink, logger logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		idGen:  uuid.NewString,
		sink:   events.OrNop(sink),
		logger: logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchIntents processes intents in input order against the given policy
// snapshot. precheck may be nil. Each intent ends terminal: dispatched with
// a created task, or skipped with its accumulated reason codes.
func (d *Dispatcher) DispatchIntents(
	ctx context.Context,
	intents []*Intent,
	personas []Persona,
	pol policy.Snapshot,
	now time.Time,
	precheck Precheck,
	createTask CreateTask,
) ([]Decision, error) {
	decisions := make([]Decision, 0, len(intents))

	for _, intent := range intents {
		decision, err := d.dispatchOne(ctx, intent, personas, pol, now, precheck, createTask)
		if err != nil {
			return decisions, fmt.Errorf("intent %s: %w", intent.ID, err)
		}
		decisions = append(decisions, decision)
		d.emit(intent, decision, now)
	}
	return decisions, nil
}

func (d *Dispatcher) dispatchOne(
	ctx context.Context,
	intent *Intent,
	personas []Persona,
	pol policy.Snapshot,
	now time.Time,
	precheck Precheck,
	createTask CreateTask,
) (Decision, error) {
	// Policy gate: replies disabled short-circuits every intent without
	// consulting personas.
	if !pol.ReplyEnabled {
		return d.skip(intent, Decision{Reasons: []string{ReasonPolicyDisabled}}), nil
	}

	taskType := queue.TaskType(intent.Type)
	if !taskType.IsValid() {
		return d.skip(intent, Decision{Reasons: []string{ReasonInvalidIntentType}}), nil
	}

	persona, found := selectPersona(personas)
	if !found {
		return d.skip(intent, Decision{Reasons: []string{ReasonNoEligiblePersona}}), nil
	}

	if precheck != nil {
		result := precheck(ctx, intent, persona, pol, now)
		if !result.Allowed() {
			return d.skip(intent, Decision{PersonaID: persona.ID, Reasons: result.Reasons}), nil
		}
	}

	task := d.buildTask(intent, persona, taskType, now)
	if err := createTask(ctx, task, intent); err != nil {
		return Decision{}, err
	}

	intent.Status = IntentDispatched
	decision := Decision{Dispatched: true, PersonaID: persona.ID, TaskID: task.ID}
	intent.DecisionReasonCodes = decision.Reasons
	return decision, nil
}

// selectPersona picks the first active persona in input order.
func selectPersona(personas []Persona) (Persona, bool) {
	for _, persona := range personas {
		if persona.IsActive() {
			return persona, true
		}
	}
	return Persona{}, false
}

func (d *Dispatcher) buildTask(intent *Intent, persona Persona, taskType queue.TaskType, now time.Time) *queue.Task {
	payload := make(map[string]any, len(intent.Payload)+3)
	for k, v := range intent.Payload {
		payload[k] = v
	}
	payload["intent_id"] = intent.ID
	payload["source_table"] = intent.SourceTable
	payload["source_id"] = intent.SourceID

	return &queue.Task{
		ID:          d.idGen(),
		PersonaID:   persona.ID,
		Type:        taskType,
		Payload:     payload,
		Status:      queue.StatusPending,
		ScheduledAt: now,
		CreatedAt:   now,
	}
}

func (d *Dispatcher) skip(intent *Intent, decision Decision) Decision {
	intent.Status = IntentSkipped
	intent.DecisionReasonCodes = decision.Reasons
	return decision
}

func (d *Dispatcher) emit(intent *Intent, decision Decision, now time.Time) {
	to := string(IntentSkipped)
	reason := ""
	if len(decision.Reasons) > 0 {
		reason = decision.Reasons[0]
	}
	if decision.Dispatched {
		to = string(IntentDispatched)
	}
	d.sink.Emit(events.Event{
		Kind:       events.KindDispatchDecision,
		EntityID:   intent.ID,
		PersonaID:  decision.PersonaID,
		TaskType:   intent.Type,
		From:       string(IntentNew),
		To:         to,
		ReasonCode: reason,
		OccurredAt: now,
	})
}
