package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process reference implementation of Store. All
// transitions happen under one mutex, which gives the same atomicity a
// database conditional update would.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

func (s *MemoryStore) CreateTask(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task already exists: %s", task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) ClaimOldestPending(_ context.Context, workerID string, now, leaseUntil time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Task
	for _, task := range s.tasks {
		if task.Status == StatusPending && !task.ScheduledAt.After(now) {
			candidates = append(candidates, task)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ScheduledAt.Equal(candidates[j].ScheduledAt) {
			return candidates[i].ScheduledAt.Before(candidates[j].ScheduledAt)
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	task := candidates[0]
	task.Status = StatusRunning
	task.LeaseOwner = workerID
	task.LeaseUntil = &leaseUntil
	started := now
	task.StartedAt = &started
	task.CompletedAt = nil
	return task.Clone(), nil
}

func (s *MemoryStore) UpdateHeartbeat(_ context.Context, taskID, workerID string, leaseUntil time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.owned(taskID, workerID)
	if task == nil {
		return nil, nil
	}
	task.LeaseUntil = &leaseUntil
	return task.Clone(), nil
}

func (s *MemoryStore) CompleteTask(_ context.Context, taskID, workerID, resultID, resultType string, now time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.owned(taskID, workerID)
	if task == nil {
		return nil, nil
	}
	task.Status = StatusDone
	completed := now
	task.CompletedAt = &completed
	task.ResultID = resultID
	task.ResultType = resultType
	task.ErrorMessage = ""
	clearLease(task)
	return task.Clone(), nil
}

func (s *MemoryStore) FailTask(_ context.Context, taskID, workerID, errorMessage string, now time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.owned(taskID, workerID)
	if task == nil {
		return nil, nil
	}
	task.RetryCount++
	task.ErrorMessage = errorMessage
	clearLease(task)
	if task.RetryCount >= task.MaxRetries {
		task.Status = StatusFailed
		completed := now
		task.CompletedAt = &completed
	} else {
		task.Status = StatusPending
		task.StartedAt = nil
		task.CompletedAt = nil
	}
	return task.Clone(), nil
}

func (s *MemoryStore) SkipTask(_ context.Context, taskID, workerID, reason string, now time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.owned(taskID, workerID)
	if task == nil {
		return nil, nil
	}
	task.Status = StatusSkipped
	completed := now
	task.CompletedAt = &completed
	task.ErrorMessage = reason
	clearLease(task)
	return task.Clone(), nil
}

func (s *MemoryStore) MarkInReview(_ context.Context, taskID, workerID, reason string, _ time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.owned(taskID, workerID)
	if task == nil {
		return nil, nil
	}
	task.Status = StatusInReview
	task.ErrorMessage = reason
	clearLease(task)
	return task.Clone(), nil
}

func (s *MemoryStore) ResumeFromReview(_ context.Context, taskID string, _ time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.Status != StatusInReview {
		return nil, nil
	}
	task.Status = StatusPending
	task.StartedAt = nil
	task.CompletedAt = nil
	task.ErrorMessage = ""
	return task.Clone(), nil
}

func (s *MemoryStore) SkipFromReview(_ context.Context, taskID, reason string, now time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.Status != StatusInReview {
		return nil, nil
	}
	task.Status = StatusSkipped
	completed := now
	task.CompletedAt = &completed
	task.ErrorMessage = reason
	return task.Clone(), nil
}

func (s *MemoryStore) RecoverTimedOut(_ context.Context, now time.Time) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recovered []*Task
	for _, task := range s.tasks {
		if task.Status != StatusRunning || task.LeaseUntil == nil || !task.LeaseUntil.Before(now) {
			continue
		}
		task.Status = StatusPending
		task.StartedAt = nil
		clearLease(task)
		recovered = append(recovered, task.Clone())
	}
	sort.Slice(recovered, func(i, j int) bool { return recovered[i].ID < recovered[j].ID })
	return recovered, nil
}

func (s *MemoryStore) GetByID(_ context.Context, taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task.Clone(), nil
}

// owned returns the stored task iff it is running and leased to workerID.
func (s *MemoryStore) owned(taskID, workerID string) *Task {
	task, ok := s.tasks[taskID]
	if !ok || task.Status != StatusRunning || task.LeaseOwner != workerID {
		return nil
	}
	return task
}

func clearLease(task *Task) {
	task.LeaseOwner = ""
	task.LeaseUntil = nil
}
