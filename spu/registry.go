package spu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/metric"
	"github.com/c360/semsub/notify"
	"github.com/c360/semsub/pkg/worker"
)

// Deps holds the registry dependencies
type Deps struct {
	Config          Config
	Reader          Reader
	Metrics         *metric.Metrics
	MetricsRegistry *metric.MetricsRegistry // optional, exposes worker pool metrics
	Logger          *slog.Logger
}

// Registry owns the live SPUs and fans commit events out to them.
type Registry struct {
	cfg     Config
	reader  Reader
	metrics *metric.Metrics
	logger  *slog.Logger

	mu   sync.RWMutex
	spus map[string]*SPU

	pool   *worker.Pool[*SPU]
	runCtx context.Context
}

// NewRegistry creates a registry. Start must be called before commit events
// are evaluated.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Reader == nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: reader", errors.ErrMissingConfig),
			"Registry", "NewRegistry", "check dependencies")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		cfg:     deps.Config,
		reader:  deps.Reader,
		metrics: deps.Metrics,
		logger:  logger.With("component", "spu-registry"),
		spus:    make(map[string]*SPU),
		runCtx:  context.Background(),
	}

	var opts []worker.Option[*SPU]
	if deps.MetricsRegistry != nil {
		opts = append(opts, worker.WithMetricsRegistry[*SPU](deps.MetricsRegistry, "semsub_spu_pool"))
	}
	r.pool = worker.NewPool(deps.Config.Workers, deps.Config.QueueSize, r.process, opts...)

	return r, nil
}

// Start launches the evaluation workers. ctx bounds their lifetime.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.pool.Start(ctx); err != nil {
		return errors.WrapFatal(err, "Registry", "Start", "start worker pool")
	}
	r.mu.Lock()
	r.runCtx = ctx
	r.mu.Unlock()
	return nil
}

// Stop terminates every SPU and stops the workers.
func (r *Registry) Stop() error {
	r.mu.Lock()
	spus := make([]*SPU, 0, len(r.spus))
	for _, s := range r.spus {
		spus = append(spus, s)
	}
	r.spus = make(map[string]*SPU)
	r.mu.Unlock()

	for _, s := range spus {
		s.Terminate()
	}
	r.recordCount()

	timeout := r.cfg.StopTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().StopTimeout
	}
	if err := r.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Registry", "Stop", "stop worker pool")
	}
	return nil
}

func (r *Registry) process(ctx context.Context, s *SPU) error {
	s.drain(ctx)
	return nil
}

// Register creates an Active SPU for sub delivering to sink.
func (r *Registry) Register(sub Subscription, sink notify.Sink) (*SPU, error) {
	if sub.ID == "" || sink == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidRequest, "Registry", "Register", "check subscription")
	}

	s := newSPU(sub, sink, r.reader, r.cfg, r.logger, r.metrics)
	s.onTerminate = r.remove

	r.mu.Lock()
	if _, exists := r.spus[sub.ID]; exists {
		r.mu.Unlock()
		return nil, errors.WrapInvalid(fmt.Errorf("%w: duplicate subscription id %q", errors.ErrInvalidRequest, sub.ID),
			"Registry", "Register", "check subscription id")
	}
	if r.cfg.MaxSubscriptions > 0 && len(r.spus) >= r.cfg.MaxSubscriptions {
		r.mu.Unlock()
		return nil, errors.WrapTransient(errors.ErrRateLimited, "Registry", "Register", "check subscription limit")
	}
	r.spus[sub.ID] = s
	r.mu.Unlock()

	r.recordCount()
	r.logger.Debug("Subscription registered",
		"subscription_id", sub.ID, "owner", sub.Owner, "scope", sub.Scope.String())
	return s, nil
}

// Unregister terminates the subscription id on behalf of owner.
func (r *Registry) Unregister(id, owner string) error {
	r.mu.Lock()
	s, ok := r.spus[id]
	if !ok {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrSubscriptionNotFound, "Registry", "Unregister", "find subscription")
	}
	if s.Owner() != owner {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotOwner, "Registry", "Unregister", "check owner")
	}
	delete(r.spus, id)
	r.mu.Unlock()

	s.Terminate()
	r.recordCount()
	r.logger.Debug("Subscription unregistered", "subscription_id", id)
	return nil
}

// UnregisterSession terminates every subscription of a lost connection and
// returns how many were removed.
func (r *Registry) UnregisterSession(session string) int {
	r.mu.Lock()
	var removed []*SPU
	for id, s := range r.spus {
		if s.Session() == session {
			removed = append(removed, s)
			delete(r.spus, id)
		}
	}
	r.mu.Unlock()

	for _, s := range removed {
		s.Terminate()
	}
	if len(removed) > 0 {
		r.recordCount()
		r.logger.Debug("Session subscriptions removed", "session", session, "count", len(removed))
	}
	return len(removed)
}

// remove drops a self-terminated SPU from the table.
func (r *Registry) remove(s *SPU) {
	r.mu.Lock()
	current, ok := r.spus[s.ID()]
	if ok && current == s {
		delete(r.spus, s.ID())
	}
	r.mu.Unlock()

	if ok {
		r.recordCount()
	}
}

// Get returns the live SPU with the given id
func (r *Registry) Get(id string) (*SPU, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.spus[id]
	return s, ok
}

// Len returns the number of live subscriptions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.spus)
}

// OnUpdateCommitted queues ev on every live SPU whose scope intersects the
// committed scope. The returned channel closes once each of those SPUs has
// finished querying the endpoint for ev.
func (r *Registry) OnUpdateCommitted(_ context.Context, ev CommitEvent) <-chan struct{} {
	r.mu.RLock()
	targets := make([]*SPU, 0, len(r.spus))
	for _, s := range r.spus {
		if s.State() != StateTerminated && s.Scope().Intersects(ev.Scope) {
			targets = append(targets, s)
		}
	}
	runCtx := r.runCtx
	r.mu.RUnlock()

	barrier := make(chan struct{})
	var wg sync.WaitGroup

	for _, s := range targets {
		wg.Add(1)
		if !s.enqueue(pending{event: ev, done: wg.Done}) {
			continue
		}
		// The caller's cancellation must not drop a committed event
		if err := r.pool.SubmitWait(runCtx, s); err != nil {
			r.logger.Warn("Cannot schedule subscription evaluation",
				"subscription_id", s.ID(), "commit_sequence", ev.Sequence, "error", err)
			s.abandon()
		}
	}

	go func() {
		wg.Wait()
		close(barrier)
	}()

	r.logger.Debug("Commit dispatched",
		"commit_sequence", ev.Sequence, "scope", ev.Scope.String(), "subscriptions", len(targets))
	return barrier
}

func (r *Registry) recordCount() {
	if r.metrics != nil {
		r.metrics.RecordSubscriptions(r.Len())
	}
}
