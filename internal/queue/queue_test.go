package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quorum/internal/events"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T, lease time.Duration) (*Queue, *events.MemorySink) {
	t.Helper()
	sink := events.NewMemorySink()
	q := New(NewMemoryStore(), Config{Lease: lease, DefaultMaxRetries: 3}, sink, nil)
	return q, sink
}

func enqueue(t *testing.T, q *Queue, id, persona string, taskType TaskType, at time.Time) *Task {
	t.Helper()
	task := &Task{
		ID:          id,
		PersonaID:   persona,
		Type:        taskType,
		ScheduledAt: at,
		CreatedAt:   at,
	}
	require.NoError(t, q.Enqueue(context.Background(), task, at))
	return task
}

func TestClaimSetsLease(t *testing.T) {
	q, _ := newTestQueue(t, 30*time.Second)
	enqueue(t, q, "task-1", "persona-a", TaskReply, t0)

	claimed, err := q.ClaimNextPending(context.Background(), "w1", t0)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, StatusRunning, claimed.Status)
	require.Equal(t, "w1", claimed.LeaseOwner)
	require.Equal(t, t0.Add(30*time.Second), *claimed.LeaseUntil)
	require.Equal(t, t0, *claimed.StartedAt)

	// Same instant, second worker: nothing left to claim.
	second, err := q.ClaimNextPending(context.Background(), "w2", t0)
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestClaimOrderOldestFirst(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	enqueue(t, q, "late", "p", TaskReply, t0.Add(10*time.Second))
	enqueue(t, q, "early", "p", TaskReply, t0)
	enqueue(t, q, "future", "p", TaskReply, t0.Add(time.Hour))

	now := t0.Add(20 * time.Second)
	first, err := q.ClaimNextPending(context.Background(), "w1", now)
	require.NoError(t, err)
	require.Equal(t, "early", first.ID)

	next, err := q.ClaimNextPending(context.Background(), "w1", now)
	require.NoError(t, err)
	require.Equal(t, "late", next.ID)

	// "future" is not yet eligible.
	none, err := q.ClaimNextPending(context.Background(), "w1", now)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestConcurrentClaimsNeverShareATask(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	const tasks = 20
	for i := 0; i < tasks; i++ {
		enqueue(t, q, string(rune('a'+i)), "p", TaskComment, t0)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				task, err := q.ClaimNextPending(context.Background(), worker, t0)
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}(string(rune('A' + w)))
	}
	wg.Wait()

	require.Len(t, seen, tasks)
	for id, count := range seen {
		require.Equalf(t, 1, count, "task %s claimed %d times", id, count)
	}
}

func TestHeartbeatOwnershipGuard(t *testing.T) {
	q, _ := newTestQueue(t, 30*time.Second)
	enqueue(t, q, "task-1", "p", TaskReply, t0)

	claimed, err := q.ClaimNextPending(context.Background(), "w1", t0)
	require.NoError(t, err)

	later := t0.Add(10 * time.Second)
	extended, err := q.Heartbeat(context.Background(), claimed.ID, "w1", later)
	require.NoError(t, err)
	require.NotNil(t, extended)
	require.Equal(t, later.Add(30*time.Second), *extended.LeaseUntil)

	// A dispossessed worker cannot extend a lease it does not hold.
	stolen, err := q.Heartbeat(context.Background(), claimed.ID, "w2", later)
	require.NoError(t, err)
	require.Nil(t, stolen)
}

func TestFailRetrySemantics(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	enqueue(t, q, "task-1", "p", TaskReply, t0) // DefaultMaxRetries = 3

	now := t0
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := q.ClaimNextPending(context.Background(), "w1", now)
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d should be claimable", attempt)

		failed, err := q.Fail(context.Background(), claimed.ID, "w1", "provider exploded", now)
		require.NoError(t, err)
		require.Equal(t, attempt, failed.RetryCount)

		if attempt < 3 {
			require.Equal(t, StatusPending, failed.Status)
			require.Nil(t, failed.StartedAt)
			require.Nil(t, failed.LeaseUntil)
			require.Empty(t, failed.LeaseOwner)
		} else {
			require.Equal(t, StatusFailed, failed.Status)
			require.NotNil(t, failed.CompletedAt)
		}
		require.Equal(t, "provider exploded", failed.ErrorMessage)
		now = now.Add(time.Second)
	}

	// Terminal: nothing left to claim.
	none, err := q.ClaimNextPending(context.Background(), "w1", now)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestCompleteClearsErrorAndLease(t *testing.T) {
	q, sink := newTestQueue(t, time.Minute)
	enqueue(t, q, "task-1", "p", TaskPost, t0)

	claimed, err := q.ClaimNextPending(context.Background(), "w1", t0)
	require.NoError(t, err)

	done, err := q.Complete(context.Background(), claimed.ID, "w1", "post-99", "post", t0.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, StatusDone, done.Status)
	require.Equal(t, "post-99", done.ResultID)
	require.Empty(t, done.LeaseOwner)
	require.Nil(t, done.LeaseUntil)
	require.NotNil(t, done.CompletedAt)

	// Wrong owner cannot complete.
	again, err := q.Complete(context.Background(), claimed.ID, "w2", "x", "y", t0)
	require.NoError(t, err)
	require.Nil(t, again)

	transitions := sink.ByKind(events.KindTaskTransition)
	last := transitions[len(transitions)-1]
	require.Equal(t, string(StatusDone), last.To)
	require.Equal(t, ReasonCompleted, last.ReasonCode)
}

func TestRecoverTimedOut(t *testing.T) {
	q, _ := newTestQueue(t, 30*time.Second)
	enqueue(t, q, "expired", "p", TaskReply, t0)
	enqueue(t, q, "healthy", "p", TaskReply, t0)

	expired, err := q.ClaimNextPending(context.Background(), "w1", t0)
	require.NoError(t, err)
	healthy, err := q.ClaimNextPending(context.Background(), "w2", t0.Add(20*time.Second))
	require.NoError(t, err)

	// Only the first lease has elapsed.
	sweepAt := t0.Add(40 * time.Second)
	recovered, err := q.RecoverTimedOut(context.Background(), sweepAt)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	got, err := q.GetByID(context.Background(), expired.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Nil(t, got.StartedAt)
	require.Nil(t, got.LeaseUntil)

	still, err := q.GetByID(context.Background(), healthy.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, still.Status)
	require.Equal(t, "w2", still.LeaseOwner)
}

func TestReviewRoundTrip(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	enqueue(t, q, "task-1", "p", TaskReply, t0)

	claimed, err := q.ClaimNextPending(context.Background(), "w1", t0)
	require.NoError(t, err)

	parked, err := q.ReviewRequired(context.Background(), claimed.ID, "w1", "needs_human_review", t0)
	require.NoError(t, err)
	require.Equal(t, StatusInReview, parked.Status)
	require.Empty(t, parked.LeaseOwner)
	require.Equal(t, "needs_human_review", parked.ErrorMessage)

	// Approval path: back to the pool.
	require.NoError(t, q.ResumeFromReview(context.Background(), claimed.ID, t0.Add(time.Hour)))
	resumed, err := q.GetByID(context.Background(), claimed.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, resumed.Status)
	require.Empty(t, resumed.ErrorMessage)

	// Rejection path after a fresh claim and park.
	claimed2, err := q.ClaimNextPending(context.Background(), "w1", t0.Add(2*time.Hour))
	require.NoError(t, err)
	_, err = q.ReviewRequired(context.Background(), claimed2.ID, "w1", "needs_human_review", t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, q.SkipFromReview(context.Background(), claimed2.ID, "review_timeout_expired", t0.Add(3*time.Hour)))

	skipped, err := q.GetByID(context.Background(), claimed2.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, skipped.Status)
	require.Equal(t, "review_timeout_expired", skipped.ErrorMessage)
}

func TestSkipIsTerminal(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	enqueue(t, q, "task-1", "p", TaskVote, t0)

	claimed, err := q.ClaimNextPending(context.Background(), "w1", t0)
	require.NoError(t, err)

	skipped, err := q.Skip(context.Background(), claimed.ID, "w1", "empty_generation", t0)
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, skipped.Status)
	require.True(t, skipped.Status.IsTerminal())

	// No further transitions from a terminal state.
	res, err := q.Fail(context.Background(), claimed.ID, "w1", "late failure", t0)
	require.NoError(t, err)
	require.Nil(t, res)
}
