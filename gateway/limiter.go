package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet keeps one token bucket per client address
type limiterSet struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func newLimiterSet(perSecond float64, burst int, idle time.Duration) *limiterSet {
	if perSecond <= 0 {
		return nil
	}
	return &limiterSet{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether client may make a request now. A nil set allows
// everything.
func (l *limiterSet) Allow(client string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

// Prune drops limiters idle since before now minus the idle period
func (l *limiterSet) Prune(now time.Time) int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for client, c := range l.clients {
		if now.Sub(c.lastSeen) > l.idle {
			delete(l.clients, client)
			removed++
		}
	}
	return removed
}

func (l *limiterSet) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// clientAddress returns the remote host of r without the port
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
