package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type flakySource struct {
	mu       sync.Mutex
	snapshot Snapshot
	err      error
	loads    int
}

func (f *flakySource) Load(context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return Snapshot{}, f.err
	}
	return f.snapshot, nil
}

func (f *flakySource) set(s Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = s
	f.err = err
}

func (f *flakySource) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func TestProviderCachesWithinTTL(t *testing.T) {
	src := &flakySource{snapshot: Snapshot{ReplyEnabled: true}}
	p := NewProvider(src, time.Minute, nil)

	first := p.Snapshot(context.Background())
	second := p.Snapshot(context.Background())

	require.True(t, first.ReplyEnabled)
	require.True(t, second.ReplyEnabled)
	require.Equal(t, 1, src.loadCount())
}

func TestProviderLastKnownGoodFallback(t *testing.T) {
	src := &flakySource{snapshot: Snapshot{ReplyEnabled: true, PerPersonaHourlyReplyLimit: 4}}
	p := NewProvider(src, time.Nanosecond, nil)

	good := p.Snapshot(context.Background())
	require.True(t, good.ReplyEnabled)

	src.set(Snapshot{}, errors.New("connection refused"))
	time.Sleep(time.Millisecond)

	fallback := p.Snapshot(context.Background())
	require.True(t, fallback.ReplyEnabled)
	require.Equal(t, 4, fallback.PerPersonaHourlyReplyLimit)
}

func TestProviderFailsClosedWithoutPrior(t *testing.T) {
	src := &flakySource{err: errors.New("unreachable")}
	p := NewProvider(src, time.Minute, nil)

	snapshot := p.Snapshot(context.Background())
	require.False(t, snapshot.ReplyEnabled)
	require.False(t, snapshot.PrecheckEnabled)
}

func TestProviderPicksUpHotChanges(t *testing.T) {
	src := &flakySource{snapshot: Snapshot{ReplyEnabled: true}}
	p := NewProvider(src, time.Nanosecond, nil)

	require.True(t, p.Snapshot(context.Background()).ReplyEnabled)

	src.set(Snapshot{ReplyEnabled: false, PrecheckEnabled: true}, nil)
	time.Sleep(time.Millisecond)

	updated := p.Snapshot(context.Background())
	require.False(t, updated.ReplyEnabled)
	require.True(t, updated.PrecheckEnabled)
}
