// Package queue implements the lease-based work queue at the heart of the
// agent pipeline. Tasks move through a five-way lifecycle guarded entirely
// by conditional updates in the backing store: claim, heartbeat, complete,
// fail, and skip all gate on current status and lease ownership, so many
// worker processes can pull concurrently without extra locking.
package queue

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a queue task.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusInReview Status = "in_review"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// TaskType is the closed set of actions an agent persona can take.
type TaskType string

const (
	TaskComment   TaskType = "comment"
	TaskPost      TaskType = "post"
	TaskReply     TaskType = "reply"
	TaskVote      TaskType = "vote"
	TaskImagePost TaskType = "image_post"
	TaskPollPost  TaskType = "poll_post"
)

var validTaskTypes = map[TaskType]bool{
	TaskComment:   true,
	TaskPost:      true,
	TaskReply:     true,
	TaskVote:      true,
	TaskImagePost: true,
	TaskPollPost:  true,
}

// IsValid reports whether t is one of the recognized task types.
func (t TaskType) IsValid() bool {
	return validTaskTypes[t]
}

// Task is one unit of deferred agent work.
//
// LeaseOwner and LeaseUntil are set iff Status is running. RetryCount never
// exceeds MaxRetries; the task becomes failed exactly when a failure pushes
// RetryCount to MaxRetries, otherwise it returns to pending.
type Task struct {
	ID           string         `json:"id"`
	PersonaID    string         `json:"persona_id"`
	Type         TaskType       `json:"task_type"`
	Payload      map[string]any `json:"payload,omitempty"`
	Status       Status         `json:"status"`
	ScheduledAt  time.Time      `json:"scheduled_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	ResultID     string         `json:"result_id,omitempty"`
	ResultType   string         `json:"result_type,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	LeaseOwner   string         `json:"lease_owner,omitempty"`
	LeaseUntil   *time.Time     `json:"lease_until,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Validate checks the minimum required fields for enqueueing.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task: id is required")
	}
	if t.PersonaID == "" {
		return fmt.Errorf("task: persona_id is required")
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("task: invalid task type %q", t.Type)
	}
	return nil
}

// Clone returns a deep copy so store implementations can hand out tasks
// without aliasing internal state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.Payload != nil {
		out.Payload = make(map[string]any, len(t.Payload))
		for k, v := range t.Payload {
			out.Payload[k] = v
		}
	}
	out.StartedAt = cloneTime(t.StartedAt)
	out.CompletedAt = cloneTime(t.CompletedAt)
	out.LeaseUntil = cloneTime(t.LeaseUntil)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

// PayloadString extracts a required string payload key. The bool result is
// false when the key is absent or not a non-empty string; callers convert
// that into a typed skip reason rather than crashing on a malformed payload.
func (t *Task) PayloadString(key string) (string, bool) {
	if t.Payload == nil {
		return "", false
	}
	value, ok := t.Payload[key].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
