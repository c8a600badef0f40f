package inference

import (
	"context"
	"sync"
)

// Stream is the event stream of one suggestion request.
type Stream struct {
	events chan Event
	done   chan struct{}
	stop   chan struct{}
	cancel context.CancelFunc

	stopOnce  sync.Once
	sendMu    sync.Mutex
	cancelled bool
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		events: make(chan Event),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		cancel: cancel,
	}
}

// Events returns the event channel. It is closed when the request ends.
// Callers must consume it or call Discard.
func (s *Stream) Events() <-chan Event { return s.events }

// Done is closed once the request has released the local engine.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Cancel stops the request. No event is delivered after Cancel returns.
func (s *Stream) Cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.sendMu.Lock()
	s.cancelled = true
	s.sendMu.Unlock()
	s.cancel()
}

// emit delivers ev unless the stream was cancelled.
func (s *Stream) emit(ev Event) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.cancelled {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.stop:
		return false
	}
}

func (s *Stream) finish() {
	close(s.events)
	close(s.done)
}

// Discard consumes the remaining events for callers that only observe the
// suggestion state.
func (s *Stream) Discard() {
	go func() {
		for range s.events {
		}
	}()
}
