package queue

import (
	"context"
	"time"

	"quorum/internal/events"
	"quorum/internal/logging"
)

// Transition reason codes recorded on queue events.
const (
	ReasonEnqueued       = "enqueued"
	ReasonClaimed        = "claimed"
	ReasonHeartbeat      = "heartbeat"
	ReasonCompleted      = "completed"
	ReasonRetryScheduled = "retry_scheduled"
	ReasonRetriesSpent   = "retries_exhausted"
	ReasonLeaseExpired   = "lease_expired"
	ReasonReviewApproved = "review_approved"
)

// Config tunes queue behavior.
type Config struct {
	// Lease is how long a claim remains exclusive without a heartbeat.
	Lease time.Duration
	// DefaultMaxRetries applies when an enqueued task does not set its own.
	DefaultMaxRetries int
}

func (c *Config) defaults() {
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
}

// Queue layers lease arithmetic, validation, and transition events on top of
// a Store. It holds no task state of its own: correctness under concurrent
// workers rests on the store's conditional updates.
type Queue struct {
	store  Store
	config Config
	sink   events.Sink
	logger logging.Logger
}

// New creates a Queue over store.
func New(store Store, config Config, sink events.Sink, logger logging.Logger) *Queue {
	config.defaults()
	return &Queue{
		store:  store,
		config: config,
		sink:   events.OrNop(sink),
		logger: logging.OrNop(logger),
	}
}

// Enqueue validates and inserts a new pending task.
func (q *Queue) Enqueue(ctx context.Context, task *Task, now time.Time) error {
	if task.MaxRetries <= 0 {
		task.MaxRetries = q.config.DefaultMaxRetries
	}
	task.Status = StatusPending
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if err := task.Validate(); err != nil {
		return err
	}
	if err := q.store.CreateTask(ctx, task); err != nil {
		return err
	}
	q.emit(task, "", StatusPending, ReasonEnqueued, "", now)
	return nil
}

// ClaimNextPending claims the oldest eligible pending task for workerID.
// Returns nil when nothing is claimable.
func (q *Queue) ClaimNextPending(ctx context.Context, workerID string, now time.Time) (*Task, error) {
	task, err := q.store.ClaimOldestPending(ctx, workerID, now, now.Add(q.config.Lease))
	if err != nil || task == nil {
		return nil, err
	}
	q.emit(task, StatusPending, StatusRunning, ReasonClaimed, workerID, now)
	return task, nil
}

// Heartbeat extends the lease for a task workerID still owns. Returns nil
// without error when the worker has been dispossessed; a dispossessed worker
// must stop processing.
func (q *Queue) Heartbeat(ctx context.Context, taskID, workerID string, now time.Time) (*Task, error) {
	return q.store.UpdateHeartbeat(ctx, taskID, workerID, now.Add(q.config.Lease))
}

// Complete marks an owned running task done and records its result.
func (q *Queue) Complete(ctx context.Context, taskID, workerID, resultID, resultType string, now time.Time) (*Task, error) {
	task, err := q.store.CompleteTask(ctx, taskID, workerID, resultID, resultType, now)
	if err != nil || task == nil {
		return nil, err
	}
	q.emit(task, StatusRunning, StatusDone, ReasonCompleted, workerID, now)
	return task, nil
}

// Fail records a transient failure on an owned running task. The task
// returns to pending until retries are exhausted, at which point it is
// failed terminally.
func (q *Queue) Fail(ctx context.Context, taskID, workerID, errorMessage string, now time.Time) (*Task, error) {
	task, err := q.store.FailTask(ctx, taskID, workerID, errorMessage, now)
	if err != nil || task == nil {
		return nil, err
	}
	reason := ReasonRetryScheduled
	if task.Status == StatusFailed {
		reason = ReasonRetriesSpent
	}
	q.emit(task, StatusRunning, task.Status, reason, workerID, now)
	return task, nil
}

// Skip terminally skips an owned running task with a reason code.
func (q *Queue) Skip(ctx context.Context, taskID, workerID, reason string, now time.Time) (*Task, error) {
	task, err := q.store.SkipTask(ctx, taskID, workerID, reason, now)
	if err != nil || task == nil {
		return nil, err
	}
	q.emit(task, StatusRunning, StatusSkipped, reason, workerID, now)
	return task, nil
}

// ReviewRequired parks an owned running task for human review.
func (q *Queue) ReviewRequired(ctx context.Context, taskID, workerID, reason string, now time.Time) (*Task, error) {
	task, err := q.store.MarkInReview(ctx, taskID, workerID, reason, now)
	if err != nil || task == nil {
		return nil, err
	}
	q.emit(task, StatusRunning, StatusInReview, reason, workerID, now)
	return task, nil
}

// ResumeFromReview returns an in_review task to the pending pool after a
// human approval.
func (q *Queue) ResumeFromReview(ctx context.Context, taskID string, now time.Time) error {
	task, err := q.store.ResumeFromReview(ctx, taskID, now)
	if err != nil || task == nil {
		return err
	}
	q.emit(task, StatusInReview, StatusPending, ReasonReviewApproved, "", now)
	return nil
}

// SkipFromReview terminally skips an in_review task after a human rejection
// or review expiry; reason becomes the task's error message.
func (q *Queue) SkipFromReview(ctx context.Context, taskID, reason string, now time.Time) error {
	task, err := q.store.SkipFromReview(ctx, taskID, reason, now)
	if err != nil || task == nil {
		return err
	}
	q.emit(task, StatusInReview, StatusSkipped, reason, "", now)
	return nil
}

// RecoverTimedOut sweeps expired leases back to pending. Safe to run from
// any process concurrently with claims: it only touches leases that have
// already elapsed.
func (q *Queue) RecoverTimedOut(ctx context.Context, now time.Time) (int, error) {
	recovered, err := q.store.RecoverTimedOut(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, task := range recovered {
		q.logger.Warn("recovered timed-out task %s (worker lease expired)", task.ID)
		q.emit(task, StatusRunning, StatusPending, ReasonLeaseExpired, "", now)
	}
	return len(recovered), nil
}

// GetByID fetches a task for inspection.
func (q *Queue) GetByID(ctx context.Context, taskID string) (*Task, error) {
	return q.store.GetByID(ctx, taskID)
}

func (q *Queue) emit(task *Task, from, to Status, reason, workerID string, now time.Time) {
	q.sink.Emit(events.Event{
		Kind:       events.KindTaskTransition,
		EntityID:   task.ID,
		PersonaID:  task.PersonaID,
		TaskType:   string(task.Type),
		From:       string(from),
		To:         string(to),
		ReasonCode: reason,
		WorkerID:   workerID,
		RetryCount: task.RetryCount,
		OccurredAt: now,
	})
}
