package review

import (
	"context"
	"errors"
	"time"
)

// ErrItemNotFound is returned when a review item lookup fails.
var ErrItemNotFound = errors.New("review item not found")

// Store is the persistence contract for review items. It is capability
// tagged: TryAtomicUpdate is the preferred path, a single conditional
// update guarding the precondition state. When the atomic path is
// structurally unavailable (the backing connection cannot take a
// conditional write) it reports ok=false and the caller degrades to the
// non-atomic Get-then-Put sequence.
type Store interface {
	// Create inserts a new pending item.
	Create(ctx context.Context, item *Item) error

	// GetByID fetches an item. Returns an error wrapping ErrItemNotFound
	// when absent.
	GetByID(ctx context.Context, id string) (*Item, error)

	// ListExpired returns every non-terminal item whose ExpiresAt <= now.
	ListExpired(ctx context.Context, now time.Time) ([]*Item, error)

	// TryAtomicUpdate applies mutate to the item iff its current status is
	// in allowedFrom, all in one conditional step. It returns the updated
	// item, or nil when the precondition did not hold. ok=false means the
	// atomic capability is unavailable and the caller must fall back.
	TryAtomicUpdate(ctx context.Context, id string, allowedFrom []Status, mutate func(*Item)) (item *Item, ok bool, err error)

	// Put overwrites an item. This is the non-atomic fallback leg; callers
	// accept the lost-update window it opens.
	Put(ctx context.Context, item *Item) error
}
