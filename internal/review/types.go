// Package review implements the human-escalation queue. Borderline-risk
// generated artifacts land here instead of auto-publishing; a reviewer
// claims the item and approves or rejects it, and unattended items expire
// on a sweep. Every decision resolves the linked queue task.
package review

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a review item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInReview Status = "in_review"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// IsTerminal reports whether the item has been decided.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Decision values recorded on decided items.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionExpire  = "expire"
)

// ReasonTimeoutExpired is recorded when the expiry sweep decides an item.
const ReasonTimeoutExpired = "review_timeout_expired"

// DefaultTTL applies when the caller enqueues without an explicit expiry.
const DefaultTTL = 72 * time.Hour

// Item is one escalation record awaiting a human decision.
//
// ReviewerID and ClaimedAt are set iff the item is in_review or was decided
// by a reviewer (approved/rejected); the expiry sweep decides without a
// reviewer.
type Item struct {
	ID                 string            `json:"id"`
	TaskID             string            `json:"task_id"`
	PersonaID          string            `json:"persona_id"`
	RiskLevel          string            `json:"risk_level"`
	Status             Status            `json:"status"`
	EnqueueReasonCode  string            `json:"enqueue_reason_code"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	ExpiresAt          time.Time         `json:"expires_at"`
	ReviewerID         string            `json:"reviewer_id,omitempty"`
	ClaimedAt          *time.Time        `json:"claimed_at,omitempty"`
	Decision           string            `json:"decision,omitempty"`
	DecisionReasonCode string            `json:"decision_reason_code,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Validate checks the minimum required fields for enqueueing.
func (i *Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("review item: id is required")
	}
	if i.TaskID == "" {
		return fmt.Errorf("review item: task_id is required")
	}
	return nil
}

// Clone returns a deep copy.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	out := *i
	if i.Metadata != nil {
		out.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			out.Metadata[k] = v
		}
	}
	if i.ClaimedAt != nil {
		claimed := *i.ClaimedAt
		out.ClaimedAt = &claimed
	}
	return &out
}
