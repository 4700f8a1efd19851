package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/c360/semsub/notify"
)

// RecordingSink is a notify.Sink that keeps everything it receives.
type RecordingSink struct {
	mu            sync.Mutex
	notifications []notify.Notification
	failures      map[string]error
	deliverErr    error
	closed        bool
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{failures: make(map[string]error)}
}

// Deliver records n.
func (s *RecordingSink) Deliver(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return notify.ErrSinkClosed
	}
	if s.deliverErr != nil {
		return s.deliverErr
	}
	s.notifications = append(s.notifications, n)
	return nil
}

// Fail records the termination of subscriptionID.
func (s *RecordingSink) Fail(subscriptionID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[subscriptionID] = err
}

// Close makes later deliveries fail with notify.ErrSinkClosed.
func (s *RecordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetDeliverError makes Deliver return err until cleared with nil.
func (s *RecordingSink) SetDeliverError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverErr = err
}

// Notifications returns the recorded notifications in delivery order.
func (s *RecordingSink) Notifications() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Notification(nil), s.notifications...)
}

// Failures returns the recorded failures by subscription id.
func (s *RecordingSink) Failures() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]error, len(s.failures))
	for id, err := range s.failures {
		out[id] = err
	}
	return out
}

// WaitForNotifications fails the test unless at least count notifications
// arrive within timeout.
func (s *RecordingSink) WaitForNotifications(t *testing.T, count int, timeout time.Duration) []notify.Notification {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := s.Notifications(); len(got) >= count {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d notifications (got %d)", count, len(s.Notifications()))
	return nil
}
