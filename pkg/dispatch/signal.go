package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// Receiver handles one event sent through a Signal.
type Receiver[E any] func(ctx context.Context, event E) error

type receiver[E any] struct {
	id     uint64
	sender any
	fn     Receiver[E]
}

// Signal is a typed, synchronous callback list. Receivers run in connection
// order on the sender's goroutine; the first error stops delivery.
type Signal[E any] struct {
	name string

	mu        sync.RWMutex
	nextID    uint64
	receivers []receiver[E]
}

// New creates a named signal.
func New[E any](name string) *Signal[E] {
	return &Signal[E]{name: name}
}

// Name returns the signal name used in error messages.
func (s *Signal[E]) Name() string {
	return s.name
}

// Connect registers fn for events sent by sender. A nil sender receives
// events from every sender. The returned function disconnects fn.
func (s *Signal[E]) Connect(sender any, fn Receiver[E]) (disconnect func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.receivers = append(s.receivers, receiver[E]{id: id, sender: sender, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, r := range s.receivers {
			if r.id == id {
				s.receivers = append(s.receivers[:i:i], s.receivers[i+1:]...)
				return
			}
		}
	}
}

// HasListeners reports whether any receiver would get an event from sender.
func (s *Signal[E]) HasListeners(sender any) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.receivers {
		if r.sender == nil || r.sender == sender {
			return true
		}
	}
	return false
}

// Send delivers event to every receiver connected for sender.
func (s *Signal[E]) Send(ctx context.Context, sender any, event E) error {
	s.mu.RLock()
	receivers := make([]receiver[E], len(s.receivers))
	copy(receivers, s.receivers)
	s.mu.RUnlock()

	for _, r := range receivers {
		if r.sender != nil && r.sender != sender {
			continue
		}
		if err := r.fn(ctx, event); err != nil {
			return fmt.Errorf("signal %s receiver failed: %w", s.name, err)
		}
	}
	return nil
}

// Reset removes every receiver.
func (s *Signal[E]) Reset() {
	s.mu.Lock()
	s.receivers = nil
	s.mu.Unlock()
}
