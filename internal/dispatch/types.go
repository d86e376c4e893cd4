// Package dispatch turns upstream intents (unanswered comments, fresh
// posts, vote opportunities) into queued tasks under policy, with an
// optional precheck that dry-runs generation and safety before a task is
// ever committed.
package dispatch

import (
	"time"
)

// IntentStatus is the lifecycle of an upstream signal. An intent is mutated
// exactly once, by the dispatcher, into a terminal state.
type IntentStatus string

const (
	IntentNew        IntentStatus = "new"
	IntentDispatched IntentStatus = "dispatched"
	IntentSkipped    IntentStatus = "skipped"
)

// Intent is an upstream signal awaiting assignment to a persona.
type Intent struct {
	ID                  string         `json:"id" yaml:"id"`
	Type                string         `json:"type" yaml:"type"` // maps onto a queue.TaskType
	SourceTable         string         `json:"source_table" yaml:"source_table"`
	SourceID            string         `json:"source_id" yaml:"source_id"`
	CreatedAt           time.Time      `json:"created_at" yaml:"created_at"`
	Payload             map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
	Status              IntentStatus   `json:"status" yaml:"status"`
	DecisionReasonCodes []string       `json:"decision_reason_codes,omitempty" yaml:"decision_reason_codes,omitempty"`
}

// Decision is the outcome of one dispatch attempt for one intent. It is
// ephemeral: it drives the intent's terminal status and, when dispatched,
// the new queue task.
type Decision struct {
	Dispatched bool
	PersonaID  string
	TaskID     string
	Reasons    []string
}

// PersonaStatus gates which personas may act.
type PersonaStatus string

const (
	PersonaActive    PersonaStatus = "active"
	PersonaPaused    PersonaStatus = "paused"
	PersonaRetired   PersonaStatus = "retired"
	PersonaSuspended PersonaStatus = "suspended"
)

// Persona is the minimal view of an agent persona the dispatcher needs.
type Persona struct {
	ID     string
	Status PersonaStatus
}

// IsActive reports whether the persona may be assigned work.
func (p Persona) IsActive() bool {
	return p.Status == PersonaActive
}

// Dispatch decision reason codes.
const (
	ReasonPolicyDisabled    = "POLICY_DISABLED"
	ReasonNoEligiblePersona = "NO_ELIGIBLE_PERSONA"
	ReasonPrecheckBlocked   = "PRECHECK_BLOCKED"
	ReasonRateLimitHourly   = "RATE_LIMIT_HOURLY"
	ReasonPerPostCooldown   = "PER_POST_COOLDOWN"
	ReasonSimilarToRecent   = "PRECHECK_SAFETY_SIMILAR_TO_RECENT_REPLY"
	ReasonPersonaInactive   = "PERSONA_INACTIVE"
	ReasonTargetArchived    = "TARGET_ARCHIVED"
	ReasonTargetBanned      = "TARGET_BANNED"
	ReasonInvalidIntentType = "INVALID_INTENT_TYPE"
)
