package queue

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound is returned when a task lookup fails because the requested
// id does not exist in the store.
var ErrTaskNotFound = errors.New("task not found")

// Store is the persistence contract the queue runs on. Every mutating call
// is a conditional update: it must verify the precondition (status, lease
// owner) and apply the transition atomically with respect to other callers.
// A nil task with a nil error means the precondition did not hold: the
// caller lost the race or never owned the lease.
//
// Any engine implementing these semantics plugs in; MemoryStore is the
// in-tree reference implementation.
type Store interface {
	// CreateTask inserts a new pending task.
	CreateTask(ctx context.Context, task *Task) error

	// ClaimOldestPending atomically selects the oldest pending task whose
	// ScheduledAt <= now (ties broken by earliest CreatedAt), marks it
	// running, and assigns the lease.
	ClaimOldestPending(ctx context.Context, workerID string, now, leaseUntil time.Time) (*Task, error)

	// UpdateHeartbeat extends the lease iff the task is running and owned
	// by workerID.
	UpdateHeartbeat(ctx context.Context, taskID, workerID string, leaseUntil time.Time) (*Task, error)

	// CompleteTask marks the task done iff running and owned by workerID.
	CompleteTask(ctx context.Context, taskID, workerID, resultID, resultType string, now time.Time) (*Task, error)

	// FailTask increments the retry count iff running and owned; the task
	// becomes failed when RetryCount reaches MaxRetries, otherwise returns
	// to pending with the lease and start time cleared.
	FailTask(ctx context.Context, taskID, workerID, errorMessage string, now time.Time) (*Task, error)

	// SkipTask marks the task skipped (terminal) iff running and owned.
	SkipTask(ctx context.Context, taskID, workerID, reason string, now time.Time) (*Task, error)

	// MarkInReview parks the task for human review iff running and owned,
	// clearing the lease.
	MarkInReview(ctx context.Context, taskID, workerID, reason string, now time.Time) (*Task, error)

	// ResumeFromReview returns an in_review task to pending.
	ResumeFromReview(ctx context.Context, taskID string, now time.Time) (*Task, error)

	// SkipFromReview marks an in_review task skipped with the given reason.
	SkipFromReview(ctx context.Context, taskID, reason string, now time.Time) (*Task, error)

	// RecoverTimedOut returns every running task whose lease expired before
	// now to pending, clearing lease and start time.
	RecoverTimedOut(ctx context.Context, now time.Time) ([]*Task, error)

	// GetByID fetches a task. Returns an error wrapping ErrTaskNotFound
	// when absent.
	GetByID(ctx context.Context, taskID string) (*Task, error)
}
