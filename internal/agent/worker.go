package agent

import (
	"context"
	"sync"
	"time"

	"quorum/internal/logging"
	"quorum/internal/queue"
)

// WorkerConfig tunes the polling loop. Zero values get defaults.
type WorkerConfig struct {
	// PollInterval is how long the worker sleeps when the queue is empty.
	PollInterval time.Duration
	// HeartbeatInterval is how often the lease is extended while a task
	// is executing. It should be well under the queue's lease duration.
	HeartbeatInterval time.Duration
}

func (c *WorkerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
}

// Worker drives an Agent in a loop: claim, heartbeat while executing,
// resolve, repeat. One Worker per goroutine; workers share the queue.
type Worker struct {
	id     string
	agent  *Agent
	queue  *queue.Queue
	config WorkerConfig
	logger logging.Logger
}

// NewWorker creates a Worker around an Agent.
func NewWorker(id string, ag *Agent, q *queue.Queue, cfg WorkerConfig, logger logging.Logger) *Worker {
	cfg.applyDefaults()
	return &Worker{
		id:     id,
		agent:  ag,
		queue:  q,
		config: cfg,
		logger: logging.OrNop(logger),
	}
}

// Run polls until ctx is cancelled. It returns ctx.Err() so it slots
// directly into an errgroup.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker %s started", w.id)
	defer w.logger.Info("worker %s stopped", w.id)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		processed, err := w.processWithHeartbeat(ctx)
		if err != nil {
			w.logger.Error("worker %s: %v", w.id, err)
		}
		if processed {
			// Drain the queue before sleeping again.
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// taskTracker publishes the id of the task a worker currently holds so the
// heartbeat goroutine knows what to extend.
type taskTracker struct {
	mu sync.Mutex
	id string
}

func (t *taskTracker) set(id string) {
	t.mu.Lock()
	t.id = id
	t.mu.Unlock()
}

func (t *taskTracker) get() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// processWithHeartbeat runs one ProcessOne call with a background goroutine
// extending the lease of whatever task this worker currently owns.
func (w *Worker) processWithHeartbeat(ctx context.Context) (bool, error) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	tracker := &taskTracker{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				id := tracker.get()
				if id == "" {
					continue
				}
				if _, err := w.queue.Heartbeat(hbCtx, id, w.id, time.Now()); err != nil {
					w.logger.Warn("worker %s: heartbeat for %s: %v", w.id, id, err)
				}
			}
		}
	}()

	processed, err := w.agent.processOneTracked(ctx, w.id, time.Now(), tracker)
	stopHeartbeat()
	<-done
	return processed, err
}

// processOneTracked is ProcessOne with the claimed task id published through
// the tracker for the duration of execution.
func (a *Agent) processOneTracked(ctx context.Context, workerID string, now time.Time, tracker *taskTracker) (processed bool, err error) {
	task, err := a.queue.ClaimNextPending(ctx, workerID, now)
	if err != nil || task == nil {
		return false, err
	}
	tracker.set(task.ID)
	defer func() {
		tracker.set("")
		if r := recover(); r != nil {
			a.logger.Error("task %s: execution panicked: %v", task.ID, r)
			if _, failErr := a.queue.Fail(ctx, task.ID, workerID, panicMessage(r), time.Now()); failErr != nil {
				err = failErr
			}
			processed = true
		}
	}()

	a.execute(ctx, task, workerID, now)
	return true, nil
}
