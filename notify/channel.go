package notify

import (
	"context"
	"sync"
)

// Event is one item read from a ChannelSink: either a notification or the
// termination of a subscription.
type Event struct {
	Notification   *Notification
	SubscriptionID string
	Err            error
}

// ChannelSink buffers events for a single client connection.
type ChannelSink struct {
	mu     sync.RWMutex
	events chan Event
	closed bool
}

// NewChannelSink creates a sink holding at most capacity undelivered events.
func NewChannelSink(capacity int) *ChannelSink {
	if capacity < 1 {
		capacity = 1
	}
	return &ChannelSink{events: make(chan Event, capacity)}
}

// Deliver enqueues n or returns ErrSinkFull when the buffer is exhausted.
func (s *ChannelSink) Deliver(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.events <- Event{Notification: &n, SubscriptionID: n.SubscriptionID}:
		return nil
	default:
		return ErrSinkFull
	}
}

// Fail enqueues a termination event. It is dropped if the buffer is full.
func (s *ChannelSink) Fail(subscriptionID string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	select {
	case s.events <- Event{SubscriptionID: subscriptionID, Err: err}:
	default:
	}
}

// Close closes the events channel. Buffered events can still be drained.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Events returns the channel the connection writer drains.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// Len returns the number of buffered events.
func (s *ChannelSink) Len() int {
	return len(s.events)
}
