// Package endpoint is a SPARQL 1.1 Protocol client for the triple store that
// backs the broker.
//
// Queries are sent with GET, POST (application/sparql-query) or
// URL_ENCODED_POST and always request SPARQL 1.1 Query Results JSON.
// Updates are sent with POST (application/sparql-update) or
// URL_ENCODED_POST. Dataset parameters (default-graph-uri, named-graph-uri,
// using-graph-uri, using-named-graph-uri) come from the request, falling back
// to the configured defaults when the request names none.
//
// Transient query failures are retried with exponential backoff; updates are
// never retried because a timed-out update may still have been applied.
package endpoint
