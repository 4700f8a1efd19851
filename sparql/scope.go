package sparql

import (
	"sort"
	"strings"
)

// GraphScope is the set of graphs a request reads or writes.
// All means the request may touch any graph, including the default graph.
type GraphScope struct {
	All  bool
	URIs map[string]struct{}
}

// AllGraphs returns the scope that covers every graph
func AllGraphs() GraphScope {
	return GraphScope{All: true}
}

// Graphs returns a scope limited to the given graph IRIs.
// An empty list yields AllGraphs: an unscoped request touches everything.
func Graphs(uris ...string) GraphScope {
	set := make(map[string]struct{}, len(uris))
	for _, u := range uris {
		if u = strings.TrimSpace(u); u != "" {
			set[u] = struct{}{}
		}
	}
	if len(set) == 0 {
		return AllGraphs()
	}
	return GraphScope{URIs: set}
}

// Intersects reports whether two scopes may share a graph
func (s GraphScope) Intersects(other GraphScope) bool {
	if s.All || other.All {
		return true
	}
	small, large := s.URIs, other.URIs
	if len(small) > len(large) {
		small, large = large, small
	}
	for u := range small {
		if _, ok := large[u]; ok {
			return true
		}
	}
	return false
}

// Contains reports whether the scope covers graph
func (s GraphScope) Contains(graph string) bool {
	if s.All {
		return true
	}
	_, ok := s.URIs[graph]
	return ok
}

// Union merges two scopes
func (s GraphScope) Union(other GraphScope) GraphScope {
	if s.All || other.All {
		return AllGraphs()
	}
	return Graphs(append(s.List(), other.List()...)...)
}

// List returns the graph IRIs in sorted order; nil for AllGraphs
func (s GraphScope) List() []string {
	if s.All {
		return nil
	}
	out := make([]string, 0, len(s.URIs))
	for u := range s.URIs {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// String renders the scope for logs
func (s GraphScope) String() string {
	if s.All {
		return "*"
	}
	return strings.Join(s.List(), ",")
}


// QueryScope returns the graphs a query reads. A protocol-level dataset
// (default-graph-uri / named-graph-uri) replaces any dataset in the query
// text. A GRAPH clause over a variable, a graph name that does not resolve
// to an absolute IRI, or a query that names no graph at all reads every
// graph.
func QueryScope(query string, defaultGraphs, namedGraphs []string) GraphScope {
	if len(defaultGraphs)+len(namedGraphs) > 0 {
		return Graphs(append(append([]string(nil), defaultGraphs...), namedGraphs...)...)
	}

	toks, err := tokenize(query)
	if err != nil {
		return AllGraphs()
	}

	pro := newPrologue()
	var (
		dataset, graphs []string
		depth, parens   int
		graphDepths     []int
		pendingGraph    bool
		patternGroup    bool
		trailingValues  bool
		readsDefault    bool
	)
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case depth == 0 && (t.isWord("PREFIX") || t.isWord("BASE")):
			end, ok := pro.declare(toks, i)
			if !ok {
				return AllGraphs()
			}
			i = end
		case depth == 0 && t.isWord("FROM"):
			j := i + 1
			if j < len(toks) && toks[j].isWord("NAMED") {
				j++
			}
			if j >= len(toks) {
				return AllGraphs()
			}
			iri, ok := pro.graphIRI(toks[j])
			if !ok {
				return AllGraphs()
			}
			dataset = append(dataset, iri)
			i = j
		case depth == 0 && t.isWord("VALUES"):
			trailingValues = true
		case t.isWord("GRAPH"):
			if i+1 >= len(toks) {
				return AllGraphs()
			}
			iri, ok := pro.graphIRI(toks[i+1])
			if !ok {
				return AllGraphs()
			}
			graphs = append(graphs, iri)
			pendingGraph = true
			i++
		case t.isPunct("{"):
			depth++
			if depth == 1 {
				// a CONSTRUCT template or a trailing VALUES block is not a pattern
				patternGroup = !trailingValues && !(i > 0 && toks[i-1].isWord("CONSTRUCT"))
			}
			if pendingGraph {
				graphDepths = append(graphDepths, depth)
				pendingGraph = false
			}
		case t.isPunct("}"):
			if n := len(graphDepths); n > 0 && graphDepths[n-1] == depth {
				graphDepths = graphDepths[:n-1]
			}
			depth--
		case t.isPunct("("):
			parens++
		case t.isPunct(")"):
			parens--
		case depth > 0 && patternGroup && parens == 0 && len(graphDepths) == 0 && t.isTerm():
			readsDefault = true
		}
	}

	if len(dataset) > 0 {
		return Graphs(append(dataset, graphs...)...)
	}
	// GRAPH <g> patterns without a FROM clause still read the default graph
	// for the rest of the pattern.
	if len(graphs) == 0 || readsDefault {
		return AllGraphs()
	}
	return Graphs(graphs...)
}

// UpdateScope returns the graphs an update may modify. Updates that write
// the default graph, or whose target cannot be named statically, modify every
// graph as far as subscribers are concerned. USING clauses only change the
// WHERE dataset and never narrow the written scope.
func UpdateScope(update string) GraphScope {
	toks, err := tokenize(update)
	if err != nil {
		return AllGraphs()
	}

	pro := newPrologue()
	var uris []string
	for _, op := range splitOperations(toks) {
		start := 0
		for start < len(op) && (op[start].isWord("PREFIX") || op[start].isWord("BASE")) {
			end, ok := pro.declare(op, start)
			if !ok {
				return AllGraphs()
			}
			start = end + 1
		}
		if start == len(op) {
			continue
		}
		targets, ok := operationTargets(pro, op[start:])
		if !ok {
			return AllGraphs()
		}
		uris = append(uris, targets...)
	}
	return Graphs(uris...)
}

// splitOperations splits an update request on top-level ';' separators
func splitOperations(toks []token) [][]token {
	var ops [][]token
	depth, start := 0, 0
	for i, t := range toks {
		switch {
		case t.isPunct("{"):
			depth++
		case t.isPunct("}"):
			depth--
		case t.isPunct(";") && depth == 0:
			ops = append(ops, toks[start:i])
			start = i + 1
		}
	}
	return append(ops, toks[start:])
}

// operationTargets returns the graphs written by one update operation;
// ok is false when the operation writes the default graph or has a form
// whose targets cannot be read statically.
func operationTargets(pro *prologue, op []token) ([]string, bool) {
	if op[0].kind != tokWord {
		return nil, false
	}
	kw := strings.ToUpper(op[0].text)
	rest := op[1:]
	if len(rest) > 0 && rest[0].isWord("SILENT") {
		rest = rest[1:]
	}

	switch kw {
	case "LOAD":
		// without INTO GRAPH the default graph is written
		if len(rest) == 4 && rest[1].isWord("INTO") && rest[2].isWord("GRAPH") {
			return namedGraph(pro, rest[3])
		}
		return nil, false
	case "CLEAR", "DROP", "CREATE":
		if len(rest) == 2 && rest[0].isWord("GRAPH") {
			return namedGraph(pro, rest[1])
		}
		return nil, false
	case "ADD", "COPY", "MOVE":
		to := -1
		for j, t := range rest {
			if t.isWord("TO") {
				to = j
				break
			}
		}
		if to < 0 {
			return nil, false
		}
		targets, ok := graphOrDefault(pro, rest[to+1:])
		if !ok {
			return nil, false
		}
		// MOVE also empties its source
		if kw == "MOVE" {
			src, ok := graphOrDefault(pro, rest[:to])
			if !ok {
				return nil, false
			}
			targets = append(targets, src...)
		}
		return targets, true
	case "INSERT", "DELETE", "WITH":
		return modifyTargets(pro, op)
	}
	return nil, false
}

func namedGraph(pro *prologue, t token) ([]string, bool) {
	iri, ok := pro.graphIRI(t)
	if !ok {
		return nil, false
	}
	return []string{iri}, true
}

// graphOrDefault reads a GraphOrDefault production; DEFAULT is not ok
func graphOrDefault(pro *prologue, toks []token) ([]string, bool) {
	switch {
	case len(toks) == 1 && !toks[0].isWord("DEFAULT"):
		return namedGraph(pro, toks[0])
	case len(toks) == 2 && toks[0].isWord("GRAPH"):
		return namedGraph(pro, toks[1])
	}
	return nil, false
}

// modifyTargets handles INSERT DATA, DELETE DATA, DELETE WHERE and the
// [WITH g] DELETE {…} INSERT {…} WHERE {…} form. Triples outside a GRAPH
// block are written to the WITH graph, or to the default graph without one.
func modifyTargets(pro *prologue, op []token) ([]string, bool) {
	var with string
	i := 0
	if op[0].isWord("WITH") {
		if len(op) < 2 {
			return nil, false
		}
		iri, ok := pro.graphIRI(op[1])
		if !ok {
			return nil, false
		}
		with = iri
		i = 2
	}

	var targets []string
	templates := 0
	for i < len(op) && (op[i].isWord("INSERT") || op[i].isWord("DELETE")) {
		i++
		if i < len(op) && (op[i].isWord("DATA") || op[i].isWord("WHERE")) {
			i++
		}
		graphs, writesDefault, end, ok := quadTemplate(pro, op, i)
		if !ok {
			return nil, false
		}
		if writesDefault {
			if with == "" {
				return nil, false
			}
			graphs = append(graphs, with)
		}
		targets = append(targets, graphs...)
		templates++
		i = end
	}
	if templates == 0 {
		return nil, false
	}
	return targets, true
}

// quadTemplate reads the braced quad block starting at toks[i] and returns
// the index just past it. ok is false for GRAPH over a variable, an
// unresolvable graph name or an unbalanced block.
func quadTemplate(pro *prologue, toks []token, i int) (graphs []string, writesDefault bool, end int, ok bool) {
	if i >= len(toks) || !toks[i].isPunct("{") {
		return nil, false, 0, false
	}
	depth := 0
	graphDepth := 0
	pending := false
	for j := i; j < len(toks); j++ {
		t := toks[j]
		switch {
		case t.isPunct("{"):
			depth++
			if pending {
				graphDepth = depth
				pending = false
			}
		case t.isPunct("}"):
			if depth == graphDepth {
				graphDepth = 0
			}
			depth--
			if depth == 0 {
				return graphs, writesDefault, j + 1, true
			}
		case t.isWord("GRAPH") && graphDepth == 0:
			if j+1 >= len(toks) {
				return nil, false, 0, false
			}
			iri, resolved := pro.graphIRI(toks[j+1])
			if !resolved {
				return nil, false, 0, false
			}
			graphs = append(graphs, iri)
			pending = true
			j++
		case graphDepth == 0 && t.isTerm():
			writesDefault = true
		}
	}
	return nil, false, 0, false
}
