package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quorum/internal/queue"
	"quorum/internal/review"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newQueues(t *testing.T) (*queue.Queue, *review.Queue, *review.MemoryStore) {
	t.Helper()
	q := queue.New(queue.NewMemoryStore(), queue.Config{}, nil, nil)
	reviewStore := review.NewMemoryStore()
	return q, review.NewQueue(reviewStore, q, nil, nil), reviewStore
}

func TestRecoverTimedOutNow(t *testing.T) {
	q, reviews, _ := newQueues(t)
	s := New(Config{Enabled: true}, q, reviews, nil)

	ctx := context.Background()
	task := &queue.Task{ID: "t1", PersonaID: "p1", Type: queue.TaskReply}
	require.NoError(t, q.Enqueue(ctx, task, t0))

	claimed, err := q.ClaimNextPending(ctx, "w1", t0)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// The lease was taken far in the past relative to wall clock, so a
	// recovery pass returns the task to pending.
	recovered, err := s.RecoverTimedOutNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	got, err := q.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, queue.StatusPending, got.Status)
}

func TestExpireDueReviewsNow(t *testing.T) {
	q, reviews, _ := newQueues(t)
	s := New(Config{Enabled: true}, q, reviews, nil)

	ctx := context.Background()
	task := &queue.Task{ID: "t1", PersonaID: "p1", Type: queue.TaskReply}
	require.NoError(t, q.Enqueue(ctx, task, t0))
	claimed, err := q.ClaimNextPending(ctx, "w1", t0)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	_, err = q.ReviewRequired(ctx, "t1", "w1", "borderline", t0)
	require.NoError(t, err)

	item := &review.Item{
		ID:                "r1",
		TaskID:            "t1",
		PersonaID:         "p1",
		EnqueueReasonCode: "borderline",
		ExpiresAt:         t0.Add(time.Hour),
	}
	require.NoError(t, reviews.Enqueue(ctx, item, t0))

	expired, err := s.ExpireDueReviewsNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	got, err := q.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, queue.StatusSkipped, got.Status)
	require.Equal(t, review.ReasonTimeoutExpired, got.ErrorMessage)
}

func TestStartDisabledIsNoop(t *testing.T) {
	q, reviews, _ := newQueues(t)
	s := New(Config{Enabled: false}, q, reviews, nil)
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestStartStopLifecycle(t *testing.T) {
	q, reviews, _ := newQueues(t)
	s := New(Config{Enabled: true}, q, reviews, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}

func TestDefaultSchedulesAreValid(t *testing.T) {
	q, reviews, _ := newQueues(t)
	s := New(Config{Enabled: true}, q, reviews, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	s.Stop()
}
