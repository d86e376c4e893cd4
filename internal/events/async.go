package events

import (
	"sync"
	"sync/atomic"

	"quorum/internal/logging"
)

// AsyncSink decouples event producers from a possibly slow downstream sink
// with a bounded buffer. Emit never blocks: when the buffer is full the
// event is dropped and counted.
type AsyncSink struct {
	ch      chan Event
	inner   Sink
	logger  logging.Logger
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncSink starts a drain goroutine feeding inner from a buffer of the
// given size. Close must be called to flush and stop it.
func NewAsyncSink(inner Sink, bufferSize int, logger logging.Logger) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &AsyncSink{
		ch:     make(chan Event, bufferSize),
		inner:  OrNop(inner),
		logger: logging.OrNop(logger),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *AsyncSink) Emit(event Event) {
	select {
	case s.ch <- event:
	default:
		// Buffer full. Dropping is the contract: observability never
		// stalls the producer.
		if s.dropped.Add(1)%100 == 1 {
			s.logger.Warn("event sink buffer full, dropping (total dropped: %d)", s.dropped.Load())
		}
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes buffered events and stops the drain goroutine.
func (s *AsyncSink) Close() {
	s.closeOnce.Do(func() {
		close(s.ch)
		<-s.done
	})
}

func (s *AsyncSink) drain() {
	defer close(s.done)
	for event := range s.ch {
		s.emitSafe(event)
	}
}

// emitSafe shields the drain loop from a panicking downstream sink.
func (s *AsyncSink) emitSafe(event Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("event sink panicked: %v", r)
		}
	}()
	s.inner.Emit(event)
}
