package dispatch

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CooldownTracker remembers when each persona last replied to each post, so
// the precheck can enforce the per-post cooldown. Keys are (persona, post)
// pairs (never cross-post) kept in a bounded LRU: an evicted entry simply
// means the cooldown is no longer enforced for a pair old enough to have
// fallen out, which is always older than any sane cooldown window.
type CooldownTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
}

// NewCooldownTracker creates a tracker holding up to capacity pairs.
func NewCooldownTracker(capacity int) (*CooldownTracker, error) {
	if capacity <= 0 {
		capacity = 4096
	}
	cache, err := lru.New[string, time.Time](capacity)
	if err != nil {
		return nil, err
	}
	return &CooldownTracker{cache: cache}, nil
}

// Record notes that persona replied to post at the given instant.
func (t *CooldownTracker) Record(personaID, postID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(cooldownKey(personaID, postID), at)
}

// InCooldown reports whether persona is still cooling down on post.
func (t *CooldownTracker) InCooldown(personaID, postID string, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.cache.Get(cooldownKey(personaID, postID))
	if !ok {
		return false
	}
	return now.Sub(last) < cooldown
}

func cooldownKey(personaID, postID string) string {
	return fmt.Sprintf("%s|%s", personaID, postID)
}
