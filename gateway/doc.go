// Package gateway exposes the broker to clients over HTTP.
//
// Routes:
//
//	GET/POST /query    SPARQL 1.1 protocol query, JSON results
//	POST     /update   SPARQL 1.1 protocol update
//	GET      /subscribe  WebSocket subscription connection
//	GET      /health   dependency health
//	GET      /metrics  Prometheus scrape endpoint
//
// Every request is authorized by the dependability gate before it reaches
// the scheduler. Authorization failures are answered with the OAuth error
// body {"error": code, "error_description": text} and status 400 or 401.
//
// # Subscription protocol
//
// A subscription connection exchanges JSON frames. Clients send
//
//	{"subscribe": {"sparql": "...", "alias": "a", "default-graph-uri": [...],
//	               "named-graph-uri": [...], "authorization": "Bearer ...",
//	               "delivery": "websocket" | "nats"}}
//	{"unsubscribe": {"spuid": "spu-...", "authorization": "Bearer ..."}}
//
// and receive
//
//	{"subscribed": {"spuid", "alias", "firstResults", "subject"}}
//	{"unsubscribed": {"spuid", "alias"}}
//	{"notification": {"spuid", "alias", "sequence", "commitSequence", "results"}}
//	{"error": {"error", "error_description", "status", "spuid"}}
//
// A frame without an authorization value falls back to the Authorization
// header of the upgrade request. With "delivery": "nats" notifications are
// published on <subject_prefix>.<spuid> instead of the connection; the
// subscription still belongs to the connection and ends with it.
//
// Connections are kept alive with ping/pong. Requests and frames are rate
// limited per client address.
package gateway
