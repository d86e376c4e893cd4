// Package policy provides point-in-time policy snapshots to the dispatcher
// and execution agent. Callers never read a mutable global: they ask a
// Provider, which caches the live source with a TTL and falls back to the
// last-known-good snapshot when the source is unreachable.
package policy

import (
	"context"
	"sync"
	"time"

	"quorum/internal/logging"
)

// Snapshot is an immutable view of dispatch policy at one instant.
type Snapshot struct {
	ReplyEnabled                bool
	PrecheckEnabled             bool
	PerPersonaHourlyReplyLimit  int
	PerPostCooldown             time.Duration
	PrecheckSimilarityThreshold float64
}

// Source is the live policy backend (config service, database, file).
type Source interface {
	Load(ctx context.Context) (Snapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Snapshot, error)

func (f SourceFunc) Load(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

// Static returns a source that always yields the given snapshot.
func Static(snapshot Snapshot) Source {
	return SourceFunc(func(context.Context) (Snapshot, error) {
		return snapshot, nil
	})
}

// Provider caches snapshots from a Source with a TTL and keeps the last
// successfully loaded snapshot as a fallback. Before any load succeeds the
// zero snapshot is served, which disables replies: the pipeline fails closed.
type Provider struct {
	source Source
	ttl    time.Duration
	logger logging.Logger

	mu        sync.Mutex
	cached    Snapshot
	hasGood   bool
	fetchedAt time.Time
}

// NewProvider creates a Provider with the given cache TTL.
func NewProvider(source Source, ttl time.Duration, logger logging.Logger) *Provider {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Provider{
		source: source,
		ttl:    ttl,
		logger: logging.OrNop(logger),
	}
}

// Snapshot returns the current policy. A fresh cached value is served
// directly; otherwise the source is consulted and, on failure, the
// last-known-good snapshot is returned.
func (p *Provider) Snapshot(ctx context.Context) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.hasGood && now.Sub(p.fetchedAt) < p.ttl {
		return p.cached
	}

	snapshot, err := p.source.Load(ctx)
	if err != nil {
		if p.hasGood {
			p.logger.Warn("policy source unreachable, serving last-known-good: %v", err)
			return p.cached
		}
		p.logger.Warn("policy source unreachable with no prior snapshot, serving fail-closed defaults: %v", err)
		return Snapshot{}
	}

	p.cached = snapshot
	p.hasGood = true
	p.fetchedAt = now
	return snapshot
}
