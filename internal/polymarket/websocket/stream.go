package websocket

import (
	"sync"
	"sync/atomic"
)

// Stream delivers the events of one subscription. C is closed when the
// stream ends; Err then reports why.
type Stream struct {
	ID string
	C  <-chan Event

	sub     Subscription
	match   func(Event) bool
	ch      chan Event
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
	err    error

	once    sync.Once
	release func()
	// stopCtx is guarded by mu.
	stopCtx func() bool
}

func newStream(id string, sub Subscription, queueSize int) *Stream {
	ch := make(chan Event, queueSize)
	return &Stream{
		ID:    id,
		C:     ch,
		sub:   sub,
		match: sub.matcher(),
		ch:    ch,
	}
}

// Err returns nil after Close, the context error after cancellation, and an
// error wrapping ErrConnectionFailed when the connection gave up.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns how many events were discarded because the consumer fell behind.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// Close ends the stream and releases its subscription.
func (s *Stream) Close() {
	s.cancel(nil)
}

func (s *Stream) cancel(err error) {
	s.once.Do(func() {
		s.stopWatching()
		s.release()
	})
	s.finish(err)
}

// terminate ends the stream after its connection is gone.
func (s *Stream) terminate(err error) {
	s.once.Do(s.stopWatching)
	s.finish(err)
}

func (s *Stream) stopWatching() {
	s.mu.Lock()
	stop := s.stopCtx
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// push never blocks: when the queue is full the oldest event is dropped.
func (s *Stream) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}
