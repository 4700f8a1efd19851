package sparql

// rowSet holds distinct rows bucketed by content hash
type rowSet struct {
	buckets map[uint64][]Bindings
}

func newRowSet(rows []Bindings) *rowSet {
	rs := &rowSet{buckets: make(map[uint64][]Bindings, len(rows))}
	for _, row := range rows {
		rs.add(row)
	}
	return rs
}

// add inserts row and reports whether it was not already present
func (rs *rowSet) add(row Bindings) bool {
	if rs.contains(row) {
		return false
	}
	key := row.Key()
	rs.buckets[key] = append(rs.buckets[key], row)
	return true
}

func (rs *rowSet) contains(row Bindings) bool {
	for _, other := range rs.buckets[row.Key()] {
		if other.Equal(row) {
			return true
		}
	}
	return false
}

// Diff computes the delta that turns previous into current.
//
// Results are compared as sets under Bindings equality. Added holds the
// distinct rows of current absent from previous, in current's order.
// Removed holds the distinct rows of previous absent from current, in
// previous's order. A row repeated on either side is reported at most once,
// and a change in multiplicity alone is no change. Both sides carry
// current's projection.
func Diff(previous, current BindingsResults) ARBindingsResults {
	variables := current.Variables
	if len(variables) == 0 {
		variables = previous.Variables
	}

	return ARBindingsResults{
		Added:   BindingsResults{Variables: variables, Rows: missingFrom(current.Rows, newRowSet(previous.Rows))},
		Removed: BindingsResults{Variables: variables, Rows: missingFrom(previous.Rows, newRowSet(current.Rows))},
	}
}

// missingFrom returns the distinct rows of rows that other lacks
func missingFrom(rows []Bindings, other *rowSet) []Bindings {
	out := make([]Bindings, 0)
	seen := newRowSet(nil)
	for _, row := range rows {
		if other.contains(row) || !seen.add(row) {
			continue
		}
		out = append(out, row)
	}
	return out
}
