package sparql

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Bindings is one solution row: a mapping from variable name to RDF term.
// A Bindings value is immutable; With returns a modified copy.
type Bindings struct {
	terms map[string]RDFTerm
	key   uint64
}

// NewBindings builds a row from the given mapping. The map is copied.
func NewBindings(terms map[string]RDFTerm) Bindings {
	copied := make(map[string]RDFTerm, len(terms))
	for name, term := range terms {
		copied[name] = term
	}
	b := Bindings{terms: copied}
	b.key = xxhash.Sum64String(b.canonical())
	return b
}

// With returns a copy of the row with variable bound to term
func (b Bindings) With(variable string, term RDFTerm) Bindings {
	next := make(map[string]RDFTerm, len(b.terms)+1)
	for name, t := range b.terms {
		next[name] = t
	}
	next[variable] = term
	return NewBindings(next)
}

// Get returns the term bound to variable
func (b Bindings) Get(variable string) (RDFTerm, bool) {
	t, ok := b.terms[variable]
	return t, ok
}

// Value returns the lexical value bound to variable, or "" when unbound
func (b Bindings) Value(variable string) string {
	return b.terms[variable].Value
}

// Variables returns the bound variable names in sorted order
func (b Bindings) Variables() []string {
	names := make([]string, 0, len(b.terms))
	for name := range b.terms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of bound variables
func (b Bindings) Len() int { return len(b.terms) }

// Key returns the content hash of the row's canonical form.
// Equal rows always have equal keys; equal keys do not imply equal rows.
func (b Bindings) Key() uint64 {
	if b.terms == nil {
		return xxhash.Sum64String("")
	}
	return b.key
}

// Equal reports whether both rows bind the same variables to equal terms
func (b Bindings) Equal(other Bindings) bool {
	if len(b.terms) != len(other.terms) {
		return false
	}
	if b.terms != nil && other.terms != nil && b.key != other.key {
		return false
	}
	for name, term := range b.terms {
		o, ok := other.terms[name]
		if !ok || !term.Equal(o) {
			return false
		}
	}
	return true
}

// String renders the row for logs
func (b Bindings) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, name := range b.Variables() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('?')
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(b.terms[name].String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// canonical serializes the row with sorted variables and length-prefixed fields
// so that no two distinct rows share a serialization.
func (b Bindings) canonical() string {
	var sb strings.Builder
	for _, name := range b.Variables() {
		t := b.terms[name]
		writeField(&sb, name)
		sb.WriteByte(byte(t.Kind))
		writeField(&sb, t.Value)
		writeField(&sb, t.Datatype)
		writeField(&sb, t.Language)
	}
	return sb.String()
}

func writeField(sb *strings.Builder, s string) {
	sb.WriteString(strconv.Itoa(len(s)))
	sb.WriteByte(':')
	sb.WriteString(s)
}

// BindingsResults is one snapshot of a query's result set
type BindingsResults struct {
	Variables []string
	Rows      []Bindings
}

// NewBindingsResults builds a snapshot; variables is the query projection
func NewBindingsResults(variables []string, rows ...Bindings) BindingsResults {
	return BindingsResults{Variables: append([]string(nil), variables...), Rows: rows}
}

// Len returns the number of rows
func (r BindingsResults) Len() int { return len(r.Rows) }

// IsEmpty reports whether the snapshot has no rows
func (r BindingsResults) IsEmpty() bool { return len(r.Rows) == 0 }

// Contains reports whether an equal row is present
func (r BindingsResults) Contains(row Bindings) bool {
	for _, candidate := range r.Rows {
		if candidate.Equal(row) {
			return true
		}
	}
	return false
}

// ARBindingsResults is the delta between two snapshots of one subscription
type ARBindingsResults struct {
	Added   BindingsResults
	Removed BindingsResults
}

// IsEmpty reports whether nothing was added or removed
func (ar ARBindingsResults) IsEmpty() bool {
	return ar.Added.IsEmpty() && ar.Removed.IsEmpty()
}
