// Package sparql holds the value model shared by the broker: RDF terms,
// solution rows (Bindings), result snapshots (BindingsResults) and the
// added/removed delta between two snapshots (ARBindingsResults).
//
// Rows are compared structurally. Diff treats a snapshot as a set of rows
// keyed by a content hash of each row's canonical form, so computing a
// delta is linear in the size of both snapshots. Rows that share a hash are
// still compared term by term before being considered equal.
//
// The package also extracts the set of graphs a query reads or an update
// writes (QueryScope, UpdateScope) from a token stream, resolving prefixed
// names against PREFIX and BASE. Whenever a graph cannot be named statically
// as an absolute IRI the scope covers every graph.
package sparql
