package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/semsub/endpoint"
	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/sparql"
)

// Store is the graph content of an Endpoint.
type Store struct {
	graphs map[string][]sparql.Bindings
}

// Insert appends rows to graph.
func (s *Store) Insert(graph string, rows ...sparql.Bindings) {
	s.graphs[graph] = append(s.graphs[graph], rows...)
}

// Delete removes one equal row from graph for each row given.
func (s *Store) Delete(graph string, rows ...sparql.Bindings) {
	current := s.graphs[graph]
	for _, row := range rows {
		for i, candidate := range current {
			if candidate.Equal(row) {
				current = append(current[:i:i], current[i+1:]...)
				break
			}
		}
	}
	s.graphs[graph] = current
}

// Rows returns the rows of graph.
func (s *Store) Rows(graph string) []sparql.Bindings {
	return append([]sparql.Bindings(nil), s.graphs[graph]...)
}

// Effect is the scripted outcome of one update text.
type Effect func(*Store)

// Endpoint is an in-memory SPARQL endpoint. Updates must be scripted with
// OnUpdate; unknown update texts are rejected as invalid requests.
type Endpoint struct {
	mu      sync.Mutex
	store   *Store
	effects map[string]Effect

	queryErr  error
	updateErr error

	gate    chan struct{}
	started chan string

	queries       int
	updates       int
	activeUpdates int
	maxActive     int
	log           []string
}

// NewEndpoint creates an endpoint with no graphs.
func NewEndpoint() *Endpoint {
	return &Endpoint{
		store:   &Store{graphs: make(map[string][]sparql.Bindings)},
		effects: make(map[string]Effect),
	}
}

// Seed modifies the store directly, outside any update.
func (e *Endpoint) Seed(fn func(*Store)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.store)
}

// OnUpdate scripts the effect of the update text.
func (e *Endpoint) OnUpdate(text string, effect Effect) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.effects[text] = effect
}

// FailQueries makes queries fail with an endpoint failure until cleared with nil.
func (e *Endpoint) FailQueries(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryErr = err
}

// FailUpdates makes updates fail with an endpoint failure until cleared with nil.
func (e *Endpoint) FailUpdates(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updateErr = err
}

// BlockUpdates holds every update before it applies. Each blocked update
// sends its text on the returned channel; release lets all of them proceed.
func (e *Endpoint) BlockUpdates() (<-chan string, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	gate := make(chan struct{})
	e.gate = gate
	e.started = make(chan string, 64)

	var once sync.Once
	return e.started, func() {
		once.Do(func() {
			e.mu.Lock()
			e.gate = nil
			e.mu.Unlock()
			close(gate)
		})
	}
}

// Query returns the rows of every graph the query reads.
func (e *Endpoint) Query(ctx context.Context, req endpoint.QueryRequest) (sparql.BindingsResults, error) {
	if err := ctx.Err(); err != nil {
		return sparql.BindingsResults{}, errors.WrapTransient(err, "Endpoint", "Query", "check context")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.queries++
	if e.queryErr != nil {
		return sparql.BindingsResults{}, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrEndpointFailure, e.queryErr), "Endpoint", "Query", "send request")
	}

	scope := e.QueryScope(req)
	var graphs []string
	if scope.All {
		for g := range e.store.graphs {
			graphs = append(graphs, g)
		}
		sort.Strings(graphs)
	} else {
		graphs = scope.List()
	}

	var rows []sparql.Bindings
	vars := make(map[string]struct{})
	for _, g := range graphs {
		for _, row := range e.store.graphs[g] {
			rows = append(rows, row)
			for _, v := range row.Variables() {
				vars[v] = struct{}{}
			}
		}
	}
	variables := make([]string, 0, len(vars))
	for v := range vars {
		variables = append(variables, v)
	}
	sort.Strings(variables)

	e.log = append(e.log, "query")
	return sparql.NewBindingsResults(variables, rows...), nil
}

// Update applies the scripted effect for the update text.
func (e *Endpoint) Update(ctx context.Context, req endpoint.UpdateRequest) (sparql.GraphScope, error) {
	e.mu.Lock()
	e.activeUpdates++
	if e.activeUpdates > e.maxActive {
		e.maxActive = e.activeUpdates
	}
	gate, started := e.gate, e.started
	e.mu.Unlock()

	if gate != nil {
		started <- req.SPARQL
		select {
		case <-gate:
		case <-ctx.Done():
			e.mu.Lock()
			e.activeUpdates--
			e.mu.Unlock()
			return sparql.GraphScope{}, errors.WrapTransient(ctx.Err(), "Endpoint", "Update", "wait for release")
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeUpdates--

	if e.updateErr != nil {
		return sparql.GraphScope{}, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrEndpointFailure, e.updateErr), "Endpoint", "Update", "send request")
	}
	effect, ok := e.effects[req.SPARQL]
	if !ok {
		return sparql.GraphScope{}, errors.WrapInvalid(
			fmt.Errorf("%w: unscripted update", errors.ErrInvalidRequest), "Endpoint", "Update", "find effect")
	}

	effect(e.store)
	e.updates++
	e.log = append(e.log, "update:"+req.SPARQL)
	return sparql.UpdateScope(req.SPARQL), nil
}

// QueryScope returns the graphs req reads.
func (e *Endpoint) QueryScope(req endpoint.QueryRequest) sparql.GraphScope {
	return sparql.QueryScope(req.SPARQL, req.DefaultGraphURIs, req.NamedGraphURIs)
}

// QueryCount returns the number of queries answered.
func (e *Endpoint) QueryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queries
}

// UpdateCount returns the number of updates applied.
func (e *Endpoint) UpdateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updates
}

// MaxConcurrentUpdates returns the highest number of updates seen in flight at once.
func (e *Endpoint) MaxConcurrentUpdates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxActive
}

// Log returns completed operations in order: "query" or "update:<text>".
func (e *Endpoint) Log() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}
