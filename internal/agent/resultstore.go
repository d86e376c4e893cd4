package agent

import (
	"context"
	"sync"
)

// PersistedResult is what idempotent persistence returns: the durable id of
// the published artifact and its kind (comment, post, vote...).
type PersistedResult struct {
	ResultID   string
	ResultType string
}

// ResultStore is the idempotent persistence boundary between the execution
// agent and permanent storage. Lookup must be checked before generation:
// on a hit the task completes with the previously stored result and the
// generator is never re-invoked. This is what makes at-least-once delivery
// from lease-timeout retries safe.
type ResultStore interface {
	// Lookup returns the result previously persisted under key, if any.
	Lookup(ctx context.Context, key string) (PersistedResult, bool, error)
	// Persist durably stores text under key and returns the result
	// reference. Persisting the same key twice must return the original
	// result rather than writing a duplicate.
	Persist(ctx context.Context, key, resultType, text string) (PersistedResult, error)
}

// MemoryResultStore is the in-process reference implementation.
type MemoryResultStore struct {
	mu      sync.Mutex
	results map[string]PersistedResult
	nextID  func() string
	// persistCalls counts writes that actually stored something new.
	persistCalls int
}

var _ ResultStore = (*MemoryResultStore)(nil)

// NewMemoryResultStore creates an empty store; nextID mints result ids.
func NewMemoryResultStore(nextID func() string) *MemoryResultStore {
	return &MemoryResultStore{
		results: make(map[string]PersistedResult),
		nextID:  nextID,
	}
}

func (s *MemoryResultStore) Lookup(_ context.Context, key string) (PersistedResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[key]
	return result, ok, nil
}

func (s *MemoryResultStore) Persist(_ context.Context, key, resultType, _ string) (PersistedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.results[key]; ok {
		return existing, nil
	}
	result := PersistedResult{ResultID: s.nextID(), ResultType: resultType}
	s.results[key] = result
	s.persistCalls++
	return result, nil
}

// PersistCalls reports how many distinct results were stored.
func (s *MemoryResultStore) PersistCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistCalls
}
