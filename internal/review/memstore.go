package review

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process reference implementation of Store. The
// atomic path can be disabled to exercise callers' fallback handling.
type MemoryStore struct {
	mu             sync.Mutex
	items          map[string]*Item
	atomicDisabled bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Item)}
}

// DisableAtomic makes TryAtomicUpdate report the capability as unavailable,
// simulating a backend that cannot take conditional writes.
func (s *MemoryStore) DisableAtomic(disabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.atomicDisabled = disabled
}

func (s *MemoryStore) Create(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("review item already exists: %s", item.ID)
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return item.Clone(), nil
}

func (s *MemoryStore) ListExpired(_ context.Context, now time.Time) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Item
	for _, item := range s.items {
		if !item.Status.IsTerminal() && !item.ExpiresAt.After(now) {
			out = append(out, item.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) TryAtomicUpdate(_ context.Context, id string, allowedFrom []Status, mutate func(*Item)) (*Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.atomicDisabled {
		return nil, false, nil
	}

	item, exists := s.items[id]
	if !exists {
		return nil, true, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if !statusAllowed(item.Status, allowedFrom) {
		return nil, true, nil
	}
	mutate(item)
	return item.Clone(), true, nil
}

func (s *MemoryStore) Put(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrItemNotFound, item.ID)
	}
	s.items[item.ID] = item.Clone()
	return nil
}
