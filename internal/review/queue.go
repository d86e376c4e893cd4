package review

import (
	"context"
	"fmt"
	"time"

	"quorum/internal/events"
	"quorum/internal/logging"
)

// TaskResolver is how review decisions reach the task queue: approval
// returns the linked task to the pending pool, rejection and expiry skip it
// with the decision reason as its error message.
type TaskResolver interface {
	ResumeFromReview(ctx context.Context, taskID string, now time.Time) error
	SkipFromReview(ctx context.Context, taskID, reason string, now time.Time) error
}

// Outcome is the result of one review operation. Degraded is set when the
// store's atomic path was unavailable and the non-atomic fallback ran; the
// caller must treat the operation as best-effort.
type Outcome struct {
	Item     *Item
	Degraded bool
	Warning  string
}

// Queue drives the review workflow over a Store.
type Queue struct {
	store  Store
	tasks  TaskResolver
	sink   events.Sink
	logger logging.Logger
}

// NewQueue creates a review queue. tasks may be nil in read-only tooling,
// in which case decisions do not touch the task queue.
func NewQueue(store Store, tasks TaskResolver, sink events.Sink, logger logging.Logger) *Queue {
	return &Queue{
		store:  store,
		tasks:  tasks,
		sink:   events.OrNop(sink),
		logger: logging.OrNop(logger),
	}
}

// Enqueue creates a pending review item. A zero ExpiresAt gets the default
// TTL from now.
func (q *Queue) Enqueue(ctx context.Context, item *Item, now time.Time) error {
	item.Status = StatusPending
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.ExpiresAt.IsZero() {
		item.ExpiresAt = now.Add(DefaultTTL)
	}
	if err := item.Validate(); err != nil {
		return err
	}
	return q.store.Create(ctx, item)
}

// Claim moves a pending item to in_review for the given reviewer.
func (q *Queue) Claim(ctx context.Context, reviewID, reviewerID string, now time.Time) (*Outcome, error) {
	return q.transition(ctx, reviewID, []Status{StatusPending}, func(item *Item) {
		item.Status = StatusInReview
		item.ReviewerID = reviewerID
		claimed := now
		item.ClaimedAt = &claimed
		item.UpdatedAt = now
	})
}

// Approve decides an item in the reviewer's favor and returns the linked
// task to the pending pool. Deciding straight from pending is an implicit
// claim.
func (q *Queue) Approve(ctx context.Context, reviewID, reviewerID, reasonCode string, now time.Time) (*Outcome, error) {
	outcome, err := q.transition(ctx, reviewID, []Status{StatusPending, StatusInReview}, func(item *Item) {
		if item.Status == StatusPending {
			claimed := now
			item.ClaimedAt = &claimed
		}
		item.Status = StatusApproved
		item.ReviewerID = reviewerID
		item.Decision = DecisionApprove
		item.DecisionReasonCode = reasonCode
		item.UpdatedAt = now
	})
	if err != nil || outcome == nil || outcome.Item == nil {
		return outcome, err
	}

	if q.tasks != nil {
		if resumeErr := q.tasks.ResumeFromReview(ctx, outcome.Item.TaskID, now); resumeErr != nil {
			return outcome, fmt.Errorf("review approved but task %s not resumed: %w", outcome.Item.TaskID, resumeErr)
		}
	}
	q.emitDecision(outcome.Item, now)
	return outcome, nil
}

// Reject decides against publishing and skips the linked task with the
// reason code as its error message.
func (q *Queue) Reject(ctx context.Context, reviewID, reviewerID, reasonCode string, now time.Time) (*Outcome, error) {
	outcome, err := q.transition(ctx, reviewID, []Status{StatusPending, StatusInReview}, func(item *Item) {
		if item.Status == StatusPending {
			claimed := now
			item.ClaimedAt = &claimed
		}
		item.Status = StatusRejected
		item.ReviewerID = reviewerID
		item.Decision = DecisionReject
		item.DecisionReasonCode = reasonCode
		item.UpdatedAt = now
	})
	if err != nil || outcome == nil || outcome.Item == nil {
		return outcome, err
	}

	if q.tasks != nil {
		if skipErr := q.tasks.SkipFromReview(ctx, outcome.Item.TaskID, reasonCode, now); skipErr != nil {
			return outcome, fmt.Errorf("review rejected but task %s not skipped: %w", outcome.Item.TaskID, skipErr)
		}
	}
	q.emitDecision(outcome.Item, now)
	return outcome, nil
}

// ExpireDue sweeps every non-terminal item past its expiry and performs the
// reject-equivalent transition. Returns how many items expired.
func (q *Queue) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := q.store.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range due {
		outcome, err := q.transition(ctx, candidate.ID, []Status{StatusPending, StatusInReview}, func(item *Item) {
			item.Status = StatusExpired
			item.Decision = DecisionExpire
			item.DecisionReasonCode = ReasonTimeoutExpired
			item.UpdatedAt = now
		})
		if err != nil {
			q.logger.Warn("expiry sweep: item %s: %v", candidate.ID, err)
			continue
		}
		if outcome == nil || outcome.Item == nil {
			continue // decided by someone else between list and update
		}
		if q.tasks != nil {
			if skipErr := q.tasks.SkipFromReview(ctx, outcome.Item.TaskID, ReasonTimeoutExpired, now); skipErr != nil {
				q.logger.Warn("expiry sweep: task %s not skipped: %v", outcome.Item.TaskID, skipErr)
			}
		}
		q.emitDecision(outcome.Item, now)
		expired++
	}
	return expired, nil
}

// GetByID fetches an item for inspection.
func (q *Queue) GetByID(ctx context.Context, id string) (*Item, error) {
	return q.store.GetByID(ctx, id)
}

// transition attempts the atomic store path first and degrades to a
// read-then-write sequence when the capability is unavailable. The degraded
// leg sacrifices atomicity for availability and says so in the outcome.
func (q *Queue) transition(ctx context.Context, id string, allowedFrom []Status, mutate func(*Item)) (*Outcome, error) {
	item, ok, err := q.store.TryAtomicUpdate(ctx, id, allowedFrom, mutate)
	if err != nil {
		return nil, err
	}
	if ok {
		if item == nil {
			return &Outcome{}, nil // precondition not met
		}
		return &Outcome{Item: item}, nil
	}

	// Non-atomic fallback.
	current, err := q.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statusAllowed(current.Status, allowedFrom) {
		return &Outcome{Degraded: true, Warning: "atomic store path unavailable"}, nil
	}
	mutate(current)
	if err := q.store.Put(ctx, current); err != nil {
		return nil, err
	}
	warning := "atomic store path unavailable, applied non-atomic fallback"
	q.logger.Warn("review %s: %s", id, warning)
	return &Outcome{Item: current, Degraded: true, Warning: warning}, nil
}

func statusAllowed(status Status, allowed []Status) bool {
	for _, s := range allowed {
		if status == s {
			return true
		}
	}
	return false
}

func (q *Queue) emitDecision(item *Item, now time.Time) {
	q.sink.Emit(events.Event{
		Kind:       events.KindReviewDecision,
		EntityID:   item.ID,
		PersonaID:  item.PersonaID,
		From:       string(StatusInReview),
		To:         string(item.Status),
		ReasonCode: item.DecisionReasonCode,
		WorkerID:   item.ReviewerID,
		OccurredAt: now,
		Fields:     map[string]string{"task_id": item.TaskID, "decision": item.Decision},
	})
}
