// Package agent is the execution side of the pipeline: it claims tasks from
// the queue, runs the generator, applies the safety gate, persists results
// idempotently, and escalates borderline output to the review queue.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quorum/internal/generate"
	"quorum/internal/logging"
	"quorum/internal/queue"
	"quorum/internal/review"
	"quorum/internal/safety"
)

// Task payload key carrying an explicit idempotency key; absent, the key is
// derived from the task id.
const payloadIdempotencyKey = "idempotency_key"

// Skip reason recorded when the safety gate blocks without review.
const skipReasonSafetyBlocked = "safety_blocked"

// Enqueue reason recorded on review items this agent creates.
const reviewReasonSafetyEscalation = "safety_review_required"

// Agent executes one claimed task at a time. It owns no concurrency: run
// many Agents (or Workers) against the same queue and let the store's
// conditional updates arbitrate.
type Agent struct {
	queue     *queue.Queue
	reviews   *review.Queue
	generator generate.Generator
	gate      safety.Gate
	results   ResultStore
	reviewTTL time.Duration
	idGen     func() string
	logger    logging.Logger
}

// Config wires an Agent.
type Config struct {
	Queue     *queue.Queue
	Reviews   *review.Queue
	Generator generate.Generator
	Gate      safety.Gate
	Results   ResultStore
	// ReviewTTL is how long an escalated item waits for a human before
	// expiring. Zero applies the review queue's default.
	ReviewTTL time.Duration
	IDGen     func() string
	Logger    logging.Logger
}

// New creates an Agent.
func New(cfg Config) *Agent {
	idGen := cfg.IDGen
	if idGen == nil {
		idGen = uuid.NewString
	}
	gate := cfg.Gate
	if gate == nil {
		gate = safety.AllowAll()
	}
	return &Agent{
		queue:     cfg.Queue,
		reviews:   cfg.Reviews,
		generator: cfg.Generator,
		gate:      gate,
		results:   cfg.Results,
		reviewTTL: cfg.ReviewTTL,
		idGen:     idGen,
		logger:    logging.OrNop(cfg.Logger),
	}
}

// ProcessOne claims and fully resolves at most one task. It returns false
// when nothing was claimable. Errors from the queue store itself are
// returned; everything that happens while holding a claim resolves to a
// task transition instead, including panics, which the catch-all converts
// into a fail.
func (a *Agent) ProcessOne(ctx context.Context, workerID string, now time.Time) (processed bool, err error) {
	task, err := a.queue.ClaimNextPending(ctx, workerID, now)
	if err != nil || task == nil {
		return false, err
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("task %s: execution panicked: %v", task.ID, r)
			if _, failErr := a.queue.Fail(ctx, task.ID, workerID, panicMessage(r), now); failErr != nil {
				err = failErr
			}
			processed = true
		}
	}()

	a.execute(ctx, task, workerID, now)
	return true, nil
}

// execute resolves a claimed task. Every path ends in exactly one queue
// transition.
func (a *Agent) execute(ctx context.Context, task *queue.Task, workerID string, now time.Time) {
	key := idempotencyKey(task)

	// Idempotency hit: complete with the stored result, no regeneration.
	cached, ok, err := a.results.Lookup(ctx, key)
	if err != nil {
		a.fail(ctx, task, workerID, fmt.Errorf("idempotency lookup: %w", err), now)
		return
	}
	if ok {
		a.finish(ctx, task, workerID, cached, now)
		return
	}

	output, err := a.generator.Generate(ctx, task)
	if err != nil {
		a.fail(ctx, task, workerID, fmt.Errorf("generate: %w", err), now)
		return
	}
	if output.SkipReason != "" || output.Text == "" {
		reason := output.SkipReason
		if reason == "" {
			reason = generate.SkipEmptyGeneration
		}
		a.skip(ctx, task, workerID, reason, now)
		return
	}

	verdict, err := a.gate.Check(ctx, safety.Input{Text: output.Text, Context: output.SafetyContext})
	if err != nil {
		a.fail(ctx, task, workerID, fmt.Errorf("safety check: %w", err), now)
		return
	}

	switch {
	case verdict.ReviewRequired:
		a.escalate(ctx, task, workerID, output, verdict, now)
	case !verdict.Allowed:
		reason := verdict.ReasonCode
		if reason == "" {
			reason = skipReasonSafetyBlocked
		}
		a.skip(ctx, task, workerID, reason, now)
	default:
		persisted, err := a.results.Persist(ctx, key, string(task.Type), output.Text)
		if err != nil {
			a.fail(ctx, task, workerID, fmt.Errorf("persist result: %w", err), now)
			return
		}
		a.finish(ctx, task, workerID, persisted, now)
	}
}

// escalate parks the task and creates the linked review item.
func (a *Agent) escalate(ctx context.Context, task *queue.Task, workerID string, output *generate.Output, verdict safety.Result, now time.Time) {
	reason := verdict.ReasonCode
	if reason == "" {
		reason = reviewReasonSafetyEscalation
	}

	if _, err := a.queue.ReviewRequired(ctx, task.ID, workerID, reason, now); err != nil {
		a.logger.Error("task %s: mark in review: %v", task.ID, err)
		return
	}
	if a.reviews == nil {
		a.logger.Warn("task %s parked for review but no review queue is wired", task.ID)
		return
	}

	item := &review.Item{
		ID:                a.idGen(),
		TaskID:            task.ID,
		PersonaID:         task.PersonaID,
		RiskLevel:         verdict.RiskLevel,
		EnqueueReasonCode: reason,
		Metadata: map[string]string{
			"draft_text": output.Text,
			"task_type":  string(task.Type),
		},
	}
	if a.reviewTTL > 0 {
		item.ExpiresAt = now.Add(a.reviewTTL)
	}
	if err := a.reviews.Enqueue(ctx, item, now); err != nil {
		a.logger.Error("task %s: review enqueue failed: %v", task.ID, err)
	}
}

func (a *Agent) finish(ctx context.Context, task *queue.Task, workerID string, result PersistedResult, now time.Time) {
	if _, err := a.queue.Complete(ctx, task.ID, workerID, result.ResultID, result.ResultType, now); err != nil {
		a.logger.Error("task %s: complete: %v", task.ID, err)
	}
}

func (a *Agent) skip(ctx context.Context, task *queue.Task, workerID, reason string, now time.Time) {
	if _, err := a.queue.Skip(ctx, task.ID, workerID, reason, now); err != nil {
		a.logger.Error("task %s: skip: %v", task.ID, err)
	}
}

func (a *Agent) fail(ctx context.Context, task *queue.Task, workerID string, cause error, now time.Time) {
	a.logger.Warn("task %s failed: %v", task.ID, cause)
	if _, err := a.queue.Fail(ctx, task.ID, workerID, cause.Error(), now); err != nil {
		a.logger.Error("task %s: fail transition: %v", task.ID, err)
	}
}

func panicMessage(r any) string {
	return fmt.Sprintf("panic: %v", r)
}

// idempotencyKey prefers an explicit payload key and derives one from the
// task id otherwise.
func idempotencyKey(task *queue.Task) string {
	if key, ok := task.PayloadString(payloadIdempotencyKey); ok {
		return key
	}
	return "task:" + task.ID
}
