// Package scheduler admits and orders client requests against the SPARQL
// endpoint.
//
// Every admitted request receives a sequence number. Updates apply one at a
// time and block query admission while they run. After each successful update
// the scheduler hands a commit event to the subscription registry and keeps
// the returned barrier: the next update does not apply until every
// subscription scheduled for the previous commit has read the store.
// Subscriptions are registered under the same update lock as their initial
// query so no update falls between baseline and registration.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/semsub/endpoint"
	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/metric"
	"github.com/c360/semsub/notify"
	"github.com/c360/semsub/sparql"
	"github.com/c360/semsub/spu"
)

// Endpoint is the SPARQL store the scheduler drives
type Endpoint interface {
	Query(ctx context.Context, req endpoint.QueryRequest) (sparql.BindingsResults, error)
	Update(ctx context.Context, req endpoint.UpdateRequest) (sparql.GraphScope, error)
	QueryScope(req endpoint.QueryRequest) sparql.GraphScope
}

// SubscriptionRegistry receives commit events and owns live subscriptions.
// spu.Registry implements it.
type SubscriptionRegistry interface {
	OnUpdateCommitted(ctx context.Context, ev spu.CommitEvent) <-chan struct{}
	Register(sub spu.Subscription, sink notify.Sink) (*spu.SPU, error)
	Unregister(id, owner string) error
	Get(id string) (*spu.SPU, bool)
}

// Deps holds the scheduler's collaborators
type Deps struct {
	Config   Config
	Endpoint Endpoint
	// Registry may be set later with SetRegistry; the registry reads
	// through the scheduler so the two are built in sequence.
	Registry SubscriptionRegistry
	Metrics  *metric.Metrics
	Logger   *slog.Logger
	// IDGenerator defaults to "spu-" followed by a random UUID
	IDGenerator func() string
}

type handler func(ctx context.Context, req Request) (Outcome, error)

// Scheduler serializes updates and admits queries between them
type Scheduler struct {
	config   Config
	endpoint Endpoint
	metrics  *metric.Metrics
	logger   *slog.Logger
	newID    func() string

	registryMu sync.RWMutex
	registry   SubscriptionRegistry

	handlers map[Kind]handler
	sequence atomic.Uint64
	closed   atomic.Bool

	// applySem is held by the update being applied, and by a subscribe
	// between its initial query and registration.
	applySem chan struct{}
	// barrier closes once the previous commit has been read by every SPU
	// it was dispatched to. Guarded by applySem.
	barrier <-chan struct{}

	// gate is non-nil while an update is applying; it closes when the
	// apply ends and admission resumes.
	gateMu sync.Mutex
	gate   chan struct{}
}

// New creates a scheduler
func New(deps Deps) (*Scheduler, error) {
	if deps.Endpoint == nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: endpoint", errors.ErrMissingConfig),
			"Scheduler", "New", "check dependencies")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		config:   deps.Config,
		endpoint: deps.Endpoint,
		registry: deps.Registry,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		newID:    deps.IDGenerator,
		applySem: make(chan struct{}, 1),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "scheduler")
	if s.newID == nil {
		s.newID = func() string { return "spu-" + uuid.NewString() }
	}

	s.handlers = map[Kind]handler{
		KindQuery:       s.query,
		KindUpdate:      s.update,
		KindSubscribe:   s.subscribe,
		KindUnsubscribe: s.unsubscribe,
	}
	return s, nil
}

// SetRegistry attaches the subscription registry
func (s *Scheduler) SetRegistry(reg SubscriptionRegistry) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	s.registry = reg
}

func (s *Scheduler) currentRegistry() SubscriptionRegistry {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()
	return s.registry
}

// Close rejects further requests. Requests already admitted complete.
func (s *Scheduler) Close() {
	s.closed.Store(true)
}

// Sequence returns the last assigned sequence number
func (s *Scheduler) Sequence() uint64 {
	return s.sequence.Load()
}

// Submit validates, admits and runs req
func (s *Scheduler) Submit(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()

	if s.closed.Load() {
		err := errors.WrapFatal(errors.ErrShuttingDown, "Scheduler", "Submit", "admit request")
		s.recordRequest(req.Kind, err, start)
		return Outcome{}, err
	}
	if err := req.Validate(); err != nil {
		s.recordRequest(req.Kind, err, start)
		return Outcome{}, err
	}

	if timeout := s.config.timeout(req.Kind); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := s.handlers[req.Kind](ctx, req)
	s.recordRequest(req.Kind, err, start)
	if err != nil {
		s.logger.Debug("Request failed",
			"kind", req.Kind.String(), "subject", req.Credentials.Subject, "error", err)
		return Outcome{}, err
	}
	return out, nil
}

// Read runs a query through admission. SPU evaluations use it.
func (s *Scheduler) Read(ctx context.Context, req endpoint.QueryRequest) (sparql.BindingsResults, error) {
	if _, err := s.admit(ctx); err != nil {
		return sparql.BindingsResults{}, err
	}
	return s.endpoint.Query(ctx, req)
}

func (s *Scheduler) query(ctx context.Context, req Request) (Outcome, error) {
	seq, err := s.admit(ctx)
	if err != nil {
		return Outcome{}, err
	}
	results, err := s.endpoint.Query(ctx, queryRequest(req))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Sequence: seq, Results: results}, nil
}

func (s *Scheduler) update(ctx context.Context, req Request) (Outcome, error) {
	if err := s.acquire(ctx); err != nil {
		return Outcome{}, err
	}
	defer s.release()

	if s.barrier != nil {
		select {
		case <-s.barrier:
			s.barrier = nil
		case <-ctx.Done():
			return Outcome{}, errors.WrapTransient(ctx.Err(), "Scheduler", "update", "wait for previous commit")
		}
	}

	seq := s.sequence.Add(1)
	s.closeAdmission()

	applyStart := time.Now()
	scope, err := s.endpoint.Update(ctx, endpoint.UpdateRequest{
		SPARQL:              req.SPARQL,
		UsingGraphURIs:      req.UsingGraphURIs,
		UsingNamedGraphURIs: req.UsingNamedGraphURIs,
	})
	s.openAdmission()
	if err != nil {
		return Outcome{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordUpdateApplied(time.Since(applyStart))
	}

	if reg := s.currentRegistry(); reg != nil {
		s.barrier = reg.OnUpdateCommitted(ctx, spu.CommitEvent{Sequence: seq, Scope: scope})
	}

	s.logger.Debug("Update committed",
		"sequence", seq, "subject", req.Credentials.Subject, "scope", scope.String())
	return Outcome{Sequence: seq, Scope: scope}, nil
}

func (s *Scheduler) subscribe(ctx context.Context, req Request) (Outcome, error) {
	reg := s.currentRegistry()
	if reg == nil {
		return Outcome{}, errors.WrapFatal(fmt.Errorf("%w: no subscription registry", errors.ErrNotStarted),
			"Scheduler", "subscribe", "find registry")
	}

	if err := s.acquire(ctx); err != nil {
		return Outcome{}, err
	}
	defer s.release()

	qreq := queryRequest(req)
	seq, err := s.admit(ctx)
	if err != nil {
		return Outcome{}, err
	}
	snapshot, err := s.endpoint.Query(ctx, qreq)
	if err != nil {
		return Outcome{}, err
	}
	scope := s.endpoint.QueryScope(qreq)

	id := s.newID()
	if _, err := reg.Register(spu.Subscription{
		ID:       id,
		Owner:    req.Credentials.Subject,
		Session:  req.Session,
		Alias:    req.Alias,
		Query:    qreq,
		Scope:    scope,
		Snapshot: snapshot,
	}, req.Sink); err != nil {
		return Outcome{}, err
	}

	s.logger.Info("Subscription registered",
		"subscription_id", id, "subject", req.Credentials.Subject, "session", req.Session,
		"alias", req.Alias, "scope", scope.String(), "sequence", seq)
	return Outcome{
		Sequence:       seq,
		Results:        snapshot,
		Scope:          scope,
		SubscriptionID: id,
		Alias:          req.Alias,
	}, nil
}

func (s *Scheduler) unsubscribe(_ context.Context, req Request) (Outcome, error) {
	reg := s.currentRegistry()
	if reg == nil {
		return Outcome{}, errors.WrapFatal(fmt.Errorf("%w: no subscription registry", errors.ErrNotStarted),
			"Scheduler", "unsubscribe", "find registry")
	}

	var alias string
	if sub, ok := reg.Get(req.SubscriptionID); ok {
		alias = sub.Alias()
	}
	if err := reg.Unregister(req.SubscriptionID, req.Credentials.Subject); err != nil {
		return Outcome{}, err
	}

	seq := s.sequence.Add(1)
	s.logger.Info("Subscription removed",
		"subscription_id", req.SubscriptionID, "subject", req.Credentials.Subject, "sequence", seq)
	return Outcome{Sequence: seq, SubscriptionID: req.SubscriptionID, Alias: alias}, nil
}

// admit waits until no update is applying, then assigns a sequence number
func (s *Scheduler) admit(ctx context.Context) (uint64, error) {
	start := time.Now()
	for {
		s.gateMu.Lock()
		gate := s.gate
		if gate == nil {
			seq := s.sequence.Add(1)
			s.gateMu.Unlock()
			if s.metrics != nil {
				s.metrics.RecordAdmissionWait(time.Since(start))
			}
			return seq, nil
		}
		s.gateMu.Unlock()

		select {
		case <-gate:
		case <-ctx.Done():
			return 0, errors.WrapTransient(ctx.Err(), "Scheduler", "admit", "wait for update to finish")
		}
	}
}

func (s *Scheduler) closeAdmission() {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	s.gate = make(chan struct{})
}

func (s *Scheduler) openAdmission() {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *Scheduler) acquire(ctx context.Context) error {
	select {
	case s.applySem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Scheduler", "acquire", "wait for update lock")
	}
}

func (s *Scheduler) release() {
	<-s.applySem
}

func (s *Scheduler) recordRequest(kind Kind, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = errors.Classify(err).String()
	}
	s.metrics.RecordRequest(kind.String(), outcome, time.Since(start))
}

func queryRequest(req Request) endpoint.QueryRequest {
	return endpoint.QueryRequest{
		SPARQL:           req.SPARQL,
		DefaultGraphURIs: req.DefaultGraphURIs,
		NamedGraphURIs:   req.NamedGraphURIs,
	}
}
