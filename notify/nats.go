package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/c360/semsub/errors"
)

// DefaultSubjectPrefix is the NATS subject prefix for notifications.
const DefaultSubjectPrefix = "semsub.notifications"

// Publisher publishes raw payloads on a NATS subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, subject string, data []byte) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, subject string, data []byte) error {
	return f(ctx, subject, data)
}

// failureMessage is published when a subscription is terminated.
type failureMessage struct {
	SubscriptionID string `json:"spuid"`
	Error          string `json:"error"`
}

// NATSSink publishes notifications as JSON on <prefix>.<subscription id>.
type NATSSink struct {
	publisher Publisher
	prefix    string
	logger    *slog.Logger
	closed    atomic.Bool
}

// NewNATSSink creates a sink publishing through publisher. An empty prefix
// uses DefaultSubjectPrefix.
func NewNATSSink(publisher Publisher, prefix string, logger *slog.Logger) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{
		publisher: publisher,
		prefix:    prefix,
		logger:    logger.With("sink", "nats"),
	}
}

// Subject returns the subject notifications for subscriptionID are published on.
func (s *NATSSink) Subject(subscriptionID string) string {
	return s.prefix + "." + subscriptionID
}

// Deliver publishes n. Publish failures are returned classified as transient.
func (s *NATSSink) Deliver(ctx context.Context, n Notification) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}

	data, err := json.Marshal(n)
	if err != nil {
		return errors.WrapInvalid(err, "NATSSink", "Deliver", "marshal notification")
	}

	if err := s.publisher.Publish(ctx, s.Subject(n.SubscriptionID), data); err != nil {
		return errors.WrapTransient(err, "NATSSink", "Deliver", "publish notification")
	}
	return nil
}

// Fail publishes a termination message for subscriptionID.
func (s *NATSSink) Fail(subscriptionID string, cause error) {
	if s.closed.Load() {
		return
	}

	msg := failureMessage{SubscriptionID: subscriptionID}
	if cause != nil {
		msg.Error = cause.Error()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	if err := s.publisher.Publish(context.Background(), s.Subject(subscriptionID), data); err != nil {
		s.logger.Warn("Failed to publish subscription failure",
			"subscription_id", subscriptionID, "error", err)
	}
}

// Close stops further deliveries.
func (s *NATSSink) Close() error {
	s.closed.Store(true)
	return nil
}
