package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAsyncSinkDelivers(t *testing.T) {
	mem := NewMemorySink()
	async := NewAsyncSink(mem, 8, nil)

	for i := 0; i < 5; i++ {
		async.Emit(Event{Kind: KindTaskTransition, EntityID: "t1", OccurredAt: time.Now()})
	}
	async.Close()

	require.Len(t, mem.Events(), 5)
	require.Equal(t, int64(0), async.Dropped())
}

type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) Emit(Event) {
	<-b.release
}

func TestAsyncSinkNeverBlocksProducer(t *testing.T) {
	blocker := &blockingSink{release: make(chan struct{})}
	async := NewAsyncSink(blocker, 2, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			async.Emit(Event{Kind: KindSafety})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow sink")
	}

	require.Greater(t, async.Dropped(), int64(0))
	close(blocker.release)
	async.Close()
}
