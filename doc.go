// Package semsub is a SPARQL 1.1 publish and subscribe broker.
//
// The broker sits in front of a SPARQL endpoint. Clients query and update
// through the SPARQL protocol and register subscriptions, which are SPARQL
// queries whose results the broker watches. After each committed update
// the broker re-evaluates the subscriptions whose graphs the update
// touched and notifies each client of the rows that were added and
// removed.
//
// # Layout
//
//	sparql         bindings, results, added/removed deltas, graph scopes
//	endpoint       SPARQL 1.1 protocol client for the underlying store
//	dependability  bearer token authorization (JWT)
//	scheduler      serializes updates and orders reads around them
//	spu            subscription processing units and their registry
//	notify         notification sinks (connection channel, NATS)
//	gateway        HTTP protocol routes and the WebSocket subscription session
//	broker         assembly and lifecycle
//	config         YAML configuration
//	natsclient     NATS connection with circuit breaker and JetStream
//	metric         Prometheus metrics
//	health         dependency health aggregation
//	errors         classified errors (transient, invalid, fatal)
//
// # Ordering
//
// Every update gets a sequence number. Updates apply one at a time, and a
// new update waits until every subscription affected by the previous one
// has been re-evaluated, so notifications for one subscription follow
// update order. Queries and subscription registrations never observe a
// half-applied update.
//
// The semsub command in cmd/semsub runs the broker.
package semsub
