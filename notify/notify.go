// Package notify defines where subscription notifications go.
//
// A Sink receives the deltas computed by one or more SPUs. Deliver never
// blocks on a slow consumer: a bounded sink that cannot accept a notification
// returns ErrSinkFull, and a sink whose consumer went away returns
// ErrSinkClosed. Either outcome terminates the delivering subscription.
package notify

import (
	"context"

	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/sparql"
)

// Delivery errors
var (
	ErrSinkClosed = errors.New("notification sink closed")
	ErrSinkFull   = errors.New("notification sink full")
)

// Notification is one delta pushed to a subscriber.
type Notification struct {
	SubscriptionID string `json:"spuid"`
	Alias          string `json:"alias,omitempty"`
	// Sequence counts notifications per subscription; the initial snapshot is 0.
	Sequence uint64 `json:"sequence"`
	// CommitSequence is the scheduler sequence of the update that caused it.
	CommitSequence uint64                   `json:"commitSequence"`
	Results        sparql.ARBindingsResults `json:"results"`
}

// Sink receives notifications for the subscriptions registered against it.
type Sink interface {
	// Deliver hands over a notification without waiting for the consumer.
	Deliver(ctx context.Context, n Notification) error
	// Fail reports that a subscription was terminated by the broker.
	Fail(subscriptionID string, err error)
	// Close releases the sink. Later deliveries return ErrSinkClosed.
	Close() error
}
