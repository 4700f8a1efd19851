// Package testutil provides in-memory stand-ins used by the broker tests.
//
// Endpoint is a SPARQL endpoint backed by a map of named graphs. Queries
// return the rows of every graph in the query's scope; updates run effects
// scripted by the test and report the graphs they wrote. Hooks let a test
// block an update mid-apply or make the endpoint fail.
//
// RecordingSink is a notify.Sink that keeps every notification and failure
// it receives, with helpers to wait for them.
//
// MockNATSClient records publishes so NATS notification delivery can be
// verified without a server.
package testutil
