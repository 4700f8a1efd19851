package natsclient

import (
	"sync"
	"time"
)

const initialBackoff = time.Second

// breaker counts failed connects. Every threshold consecutive failures it
// doubles the backoff, up to max; the first such round opens it. An open
// breaker half-opens once the backoff in effect when it opened has passed.
type breaker struct {
	threshold int32
	max       time.Duration

	mu          sync.Mutex
	failures    int32 // since the last success
	round       int32 // since the last backoff step
	backoff     time.Duration
	open        bool
	lastFailure time.Time
}

func newBreaker(threshold int32, maxBackoff time.Duration) *breaker {
	return &breaker{threshold: threshold, max: maxBackoff, backoff: initialBackoff}
}

// fail records a failure. opened is true only for the failure that opens
// the breaker, and wait is how long it stays open.
func (b *breaker) fail() (opened bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.round++
	b.lastFailure = time.Now()
	if b.round < b.threshold {
		return false, 0
	}

	b.round = 0
	wait = b.backoff
	b.backoff = min(b.backoff*2, b.max)
	if b.open {
		return false, 0
	}
	b.open = true
	return true, wait
}

func (b *breaker) succeed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.round = 0
	b.backoff = initialBackoff
	b.open = false
	b.lastFailure = time.Time{}
}

// halfOpen lets the next connect through; false if it was not open
func (b *breaker) halfOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasOpen := b.open
	b.open = false
	return wasOpen
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

type breakerState struct {
	failures    int32
	backoff     time.Duration
	lastFailure time.Time
}

func (b *breaker) state() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return breakerState{failures: b.failures, backoff: b.backoff, lastFailure: b.lastFailure}
}
