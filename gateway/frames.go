package gateway

import (
	"github.com/c360/semsub/notify"
	"github.com/c360/semsub/sparql"
)

// Delivery modes a subscribe frame may request
const (
	DeliveryWebSocket = "websocket"
	DeliveryNATS      = "nats"
)

// clientFrame is a message received on a subscription connection. Exactly
// one field is set.
type clientFrame struct {
	Subscribe   *subscribeFrame   `json:"subscribe,omitempty"`
	Unsubscribe *unsubscribeFrame `json:"unsubscribe,omitempty"`
}

type subscribeFrame struct {
	SPARQL           string   `json:"sparql"`
	Alias            string   `json:"alias,omitempty"`
	DefaultGraphURIs []string `json:"default-graph-uri,omitempty"`
	NamedGraphURIs   []string `json:"named-graph-uri,omitempty"`
	Authorization    string   `json:"authorization,omitempty"`
	// Delivery selects where notifications go; empty means the connection
	Delivery string `json:"delivery,omitempty"`
}

type unsubscribeFrame struct {
	SubscriptionID string `json:"spuid"`
	Authorization  string `json:"authorization,omitempty"`
}

// serverFrame is a message sent on a subscription connection. Exactly one
// field is set.
type serverFrame struct {
	Notification *notify.Notification `json:"notification,omitempty"`
	Subscribed   *subscribedFrame     `json:"subscribed,omitempty"`
	Unsubscribed *unsubscribedFrame   `json:"unsubscribed,omitempty"`
	Error        *errorBody           `json:"error,omitempty"`
}

type subscribedFrame struct {
	SubscriptionID string                 `json:"spuid"`
	Alias          string                 `json:"alias,omitempty"`
	FirstResults   sparql.BindingsResults `json:"firstResults"`
	// Subject is the NATS subject notifications are published on
	Subject string `json:"subject,omitempty"`
}

type unsubscribedFrame struct {
	SubscriptionID string `json:"spuid"`
	Alias          string `json:"alias,omitempty"`
}
