// Package spu runs subscription processing units: one per live subscription,
// each re-running its query after relevant updates and pushing the added and
// removed rows to its notification sink.
package spu

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semsub/endpoint"
	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/metric"
	"github.com/c360/semsub/notify"
	"github.com/c360/semsub/sparql"
)

// Reader runs a query against the current store state. The scheduler's read
// path implements it so evaluations go through query admission.
type Reader interface {
	Read(ctx context.Context, req endpoint.QueryRequest) (sparql.BindingsResults, error)
}

// CommitEvent announces a successfully applied update.
type CommitEvent struct {
	Sequence uint64
	Scope    sparql.GraphScope
}

// Subscription is the registered standing query.
type Subscription struct {
	ID string
	// Owner is the credential subject allowed to unsubscribe
	Owner string
	// Session identifies the owning client connection
	Session  string
	Alias    string
	Query    endpoint.QueryRequest
	Scope    sparql.GraphScope
	Snapshot sparql.BindingsResults
}

// State is the lifecycle state of an SPU
type State int32

// SPU states
const (
	StateActive State = iota
	StateEvaluating
	StateTerminated
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEvaluating:
		return "evaluating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Evaluation outcomes reported to metrics
const (
	outcomeChanged   = "changed"
	outcomeUnchanged = "unchanged"
	outcomeFailed    = "failed"
	outcomeDiscarded = "discarded"
)

type pending struct {
	event CommitEvent
	// done is called once the endpoint query for event has finished
	done func()
}

// SPU evaluates one subscription. Evaluations of a single SPU never overlap.
type SPU struct {
	sub    Subscription
	sink   notify.Sink
	reader Reader
	cfg    Config

	logger  *slog.Logger
	metrics *metric.Metrics

	state atomic.Int32

	// mu guards the snapshot, counters and the Terminated transition, so a
	// terminated SPU never delivers.
	mu       sync.Mutex
	sequence uint64
	failures int

	mailboxMu sync.Mutex
	mailbox   []pending
	scheduled bool

	onTerminate func(*SPU)
}

func newSPU(sub Subscription, sink notify.Sink, reader Reader, cfg Config, logger *slog.Logger, metrics *metric.Metrics) *SPU {
	return &SPU{
		sub:     sub,
		sink:    sink,
		reader:  reader,
		cfg:     cfg,
		logger:  logger.With("subscription_id", sub.ID),
		metrics: metrics,
	}
}

// ID returns the subscription id
func (s *SPU) ID() string { return s.sub.ID }

// Owner returns the credential subject that created the subscription
func (s *SPU) Owner() string { return s.sub.Owner }

// Session returns the owning connection
func (s *SPU) Session() string { return s.sub.Session }

// Alias returns the client-chosen alias
func (s *SPU) Alias() string { return s.sub.Alias }

// Scope returns the graphs the subscription reads
func (s *SPU) Scope() sparql.GraphScope { return s.sub.Scope }

// State returns the current lifecycle state
func (s *SPU) State() State { return State(s.state.Load()) }

// Snapshot returns the last delivered result set
func (s *SPU) Snapshot() sparql.BindingsResults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub.Snapshot
}

// Sequence returns the number of notifications delivered
func (s *SPU) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// Terminate stops the SPU. An evaluation in flight finishes but its result
// is discarded. It reports whether this call performed the transition.
func (s *SPU) Terminate() bool {
	s.mu.Lock()
	prev := State(s.state.Swap(int32(StateTerminated)))
	s.mu.Unlock()

	if prev == StateTerminated {
		return false
	}
	if s.onTerminate != nil {
		s.onTerminate(s)
	}
	return true
}

// enqueue appends an event to the mailbox and reports whether the SPU needs
// to be handed to a worker.
func (s *SPU) enqueue(p pending) bool {
	s.mailboxMu.Lock()
	defer s.mailboxMu.Unlock()

	s.mailbox = append(s.mailbox, p)
	if s.scheduled {
		return false
	}
	s.scheduled = true
	return true
}

func (s *SPU) next() (pending, bool) {
	s.mailboxMu.Lock()
	defer s.mailboxMu.Unlock()

	if len(s.mailbox) == 0 {
		s.scheduled = false
		return pending{}, false
	}
	p := s.mailbox[0]
	s.mailbox[0] = pending{}
	s.mailbox = s.mailbox[1:]
	return p, true
}

// drain evaluates queued events in FIFO order until the mailbox is empty.
func (s *SPU) drain(ctx context.Context) {
	for {
		p, ok := s.next()
		if !ok {
			return
		}
		s.evaluate(ctx, p)
	}
}

// abandon releases queued events without evaluating them.
func (s *SPU) abandon() {
	for {
		p, ok := s.next()
		if !ok {
			return
		}
		p.done()
	}
}

func (s *SPU) evaluate(ctx context.Context, p pending) {
	if s.State() == StateTerminated {
		p.done()
		s.recordEvaluation(outcomeDiscarded, 0)
		return
	}

	s.state.CompareAndSwap(int32(StateActive), int32(StateEvaluating))
	defer s.state.CompareAndSwap(int32(StateEvaluating), int32(StateActive))

	start := time.Now()
	qctx, cancel := context.WithTimeout(ctx, s.cfg.EvaluationTimeout)
	current, err := s.reader.Read(qctx, s.sub.Query)
	cancel()
	p.done()
	elapsed := time.Since(start)

	if err != nil {
		s.recordEvaluation(outcomeFailed, elapsed)
		s.handleFailure(p.event, err)
		return
	}

	outcome, deliverErr := s.apply(ctx, p.event, current)
	s.recordEvaluation(outcome, elapsed)

	if deliverErr != nil {
		s.logger.Info("Notification delivery failed, terminating subscription",
			"commit_sequence", p.event.Sequence, "error", deliverErr)
		s.Terminate()
	}
}

// apply diffs current against the snapshot and delivers the delta.
func (s *SPU) apply(ctx context.Context, ev CommitEvent, current sparql.BindingsResults) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = 0
	if s.State() == StateTerminated {
		return outcomeDiscarded, nil
	}

	delta := sparql.Diff(s.sub.Snapshot, current)
	if delta.IsEmpty() {
		s.sub.Snapshot = current
		return outcomeUnchanged, nil
	}

	n := notify.Notification{
		SubscriptionID: s.sub.ID,
		Alias:          s.sub.Alias,
		Sequence:       s.sequence + 1,
		CommitSequence: ev.Sequence,
		Results:        delta,
	}
	if err := s.sink.Deliver(ctx, n); err != nil {
		s.recordNotification("failed")
		return outcomeChanged, err
	}

	s.sequence++
	s.sub.Snapshot = current
	s.recordNotification("delivered")
	s.logger.Debug("Notification delivered",
		"sequence", n.Sequence, "commit_sequence", ev.Sequence,
		"added", delta.Added.Len(), "removed", delta.Removed.Len())
	return outcomeChanged, nil
}

func (s *SPU) handleFailure(ev CommitEvent, err error) {
	s.mu.Lock()
	s.failures++
	failures := s.failures
	s.mu.Unlock()

	s.logger.Warn("Subscription evaluation failed, treating as no change",
		"commit_sequence", ev.Sequence, "consecutive_failures", failures, "error", err)

	if s.cfg.MaxConsecutiveFailures > 0 && failures > s.cfg.MaxConsecutiveFailures {
		if s.Terminate() {
			s.logger.Error("Subscription terminated after repeated failures", "failures", failures)
			s.sink.Fail(s.sub.ID, errors.WrapTransient(errors.ErrEndpointFailure, "SPU", "evaluate",
				"re-evaluate subscription"))
		}
	}
}

func (s *SPU) recordEvaluation(outcome string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordEvaluation(outcome, d)
	}
}

func (s *SPU) recordNotification(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordNotification(outcome)
	}
}
