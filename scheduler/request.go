package scheduler

import (
	"fmt"
	"strings"

	"github.com/c360/semsub/dependability"
	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/notify"
	"github.com/c360/semsub/sparql"
)

// Kind selects how a request is handled
type Kind int

// Request kinds
const (
	KindQuery Kind = iota
	KindUpdate
	KindSubscribe
	KindUnsubscribe
)

// String returns the kind name used in logs and metrics
func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindUpdate:
		return "update"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	default:
		return "unknown"
	}
}

// Request is one authorized client request.
type Request struct {
	Kind   Kind
	SPARQL string

	// Protocol dataset for queries and subscriptions
	DefaultGraphURIs []string
	NamedGraphURIs   []string

	// Protocol dataset for updates
	UsingGraphURIs      []string
	UsingNamedGraphURIs []string

	Credentials *dependability.ClientCredentials

	// Session identifies the client connection owning new subscriptions
	Session string
	Alias   string
	Sink    notify.Sink

	SubscriptionID string
}

// Outcome is the result of a handled request.
type Outcome struct {
	Sequence uint64

	// Query results, or the initial snapshot of a new subscription
	Results sparql.BindingsResults

	// Graphs written by an update, or read by a new subscription
	Scope sparql.GraphScope

	SubscriptionID string
	Alias          string
}

// Validate rejects malformed requests before admission
func (r Request) Validate() error {
	var problem string
	switch {
	case r.Kind < KindQuery || r.Kind > KindUnsubscribe:
		problem = fmt.Sprintf("unknown request kind %d", int(r.Kind))
	case r.Credentials == nil:
		problem = "missing credentials"
	case r.Kind != KindUnsubscribe && strings.TrimSpace(r.SPARQL) == "":
		problem = "empty SPARQL text"
	case r.Kind == KindSubscribe && r.Sink == nil:
		problem = "subscribe without notification sink"
	case r.Kind == KindUnsubscribe && r.SubscriptionID == "":
		problem = "unsubscribe without subscription id"
	default:
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidRequest, problem),
		"Scheduler", "Submit", "validate request")
}
