package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semsub/dependability"
	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/health"
	"github.com/c360/semsub/metric"
	"github.com/c360/semsub/notify"
	"github.com/c360/semsub/scheduler"
)

// Authorizer verifies the credentials of an inbound request
type Authorizer interface {
	Authorize(ctx context.Context, req dependability.AuthorizationRequest) (*dependability.ClientCredentials, error)
}

// Submitter runs authorized requests
type Submitter interface {
	Submit(ctx context.Context, req scheduler.Request) (scheduler.Outcome, error)
}

// SessionRegistry drops the subscriptions of a closed connection
type SessionRegistry interface {
	UnregisterSession(session string) int
}

// HealthCheck reports one dependency's health
type HealthCheck func() health.Status

// Deps holds the gateway's collaborators
type Deps struct {
	Config     Config
	Authorizer Authorizer
	Scheduler  Submitter
	Sessions   SessionRegistry

	// Publisher enables "delivery": "nats" subscriptions when set
	Publisher     notify.Publisher
	SubjectPrefix string

	MetricsRegistry *metric.MetricsRegistry
	HealthChecks    map[string]HealthCheck
	Logger          *slog.Logger
}

type gatewayMetrics struct {
	connections prometheus.Gauge
	rateLimited prometheus.Counter
}

func newGatewayMetrics(registry *metric.MetricsRegistry) (*gatewayMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &gatewayMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semsub",
			Subsystem: "gateway",
			Name:      "websocket_connections",
			Help:      "Number of open subscription connections",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semsub",
			Subsystem: "gateway",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by per-client rate limiting",
		}),
	}
	if err := registry.RegisterGauge("gateway", "websocket_connections", m.connections); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("gateway", "rate_limited_total", m.rateLimited); err != nil {
		return nil, err
	}
	return m, nil
}

// Server exposes the SPARQL protocol and subscription endpoints over HTTP
type Server struct {
	config        Config
	auth          Authorizer
	sched         Submitter
	sessions      SessionRegistry
	publisher     notify.Publisher
	subjectPrefix string
	registry      *metric.MetricsRegistry
	checks        map[string]HealthCheck
	logger        *slog.Logger

	metrics  *gatewayMetrics
	limiters *limiterSet
	upgrader websocket.Upgrader

	running atomic.Bool

	connsMu sync.Mutex
	conns   map[*connection]struct{}
	wg      sync.WaitGroup
}

// NewServer creates a gateway server
func NewServer(deps Deps) (*Server, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Authorizer == nil || deps.Scheduler == nil || deps.Sessions == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer",
			"authorizer, scheduler and session registry are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newGatewayMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Server", "NewServer", "register metrics")
	}

	s := &Server{
		config:        deps.Config,
		auth:          deps.Authorizer,
		sched:         deps.Scheduler,
		sessions:      deps.Sessions,
		publisher:     deps.Publisher,
		subjectPrefix: deps.SubjectPrefix,
		registry:      deps.MetricsRegistry,
		checks:        deps.HealthChecks,
		logger:        logger.With("component", "gateway"),
		metrics:       metrics,
		limiters:      newLimiterSet(deps.Config.RateLimit, deps.Config.RateBurst, deps.Config.LimiterIdle),
		conns:         make(map[*connection]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Handler returns the HTTP routes of the gateway
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.QueryPath, s.handleQuery)
	mux.HandleFunc(s.config.UpdatePath, s.handleUpdate)
	mux.HandleFunc(s.config.SubscribePath, s.handleSubscribe)
	mux.HandleFunc("/health", s.handleHealth)
	if s.registry != nil {
		mux.Handle("/metrics", s.registry.Handler())
	}
	return mux
}

// Run listens on the configured address and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Run", fmt.Sprintf("listen on %s", s.config.ListenAddress))
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully and
// closes every subscription connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Serve", "start gateway")
	}
	defer s.running.Store(false)

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	s.logger.Info("Gateway listening", "address", ln.Addr().String())

	pruneInterval := s.config.LimiterIdle
	if pruneInterval <= 0 {
		pruneInterval = time.Minute
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return errors.WrapTransient(err, "Server", "Serve", "serve HTTP")
			}
			return nil
		case now := <-ticker.C:
			if n := s.limiters.Prune(now); n > 0 {
				s.logger.Debug("Pruned idle rate limiters", "count", n)
			}
		case <-ctx.Done():
			return s.shutdown(server)
		}
	}
}

func (s *Server) shutdown(server *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	s.closeAllConnections()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("Subscription connections did not close within timeout")
	}

	s.logger.Info("Gateway stopped")
	if err != nil {
		return errors.WrapTransient(err, "Server", "shutdown", "shut down HTTP server")
	}
	return nil
}

func (s *Server) trackConnection(c *connection) {
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	n := len(s.conns)
	s.connsMu.Unlock()
	if s.metrics != nil {
		s.metrics.connections.Set(float64(n))
	}
}

func (s *Server) untrackConnection(c *connection) {
	s.connsMu.Lock()
	delete(s.conns, c)
	n := len(s.conns)
	s.connsMu.Unlock()
	if s.metrics != nil {
		s.metrics.connections.Set(float64(n))
	}
}

func (s *Server) closeAllConnections() {
	s.connsMu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// ConnectionCount returns the number of open subscription connections
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// allow applies per-client rate limiting
func (s *Server) allow(client string) bool {
	if s.limiters.Allow(client) {
		return true
	}
	if s.metrics != nil {
		s.metrics.rateLimited.Inc()
	}
	return false
}

func (s *Server) authorize(ctx context.Context, values []string, remote string) (*dependability.ClientCredentials, error) {
	return s.auth.Authorize(ctx, dependability.AuthorizationRequest{Authorization: values, Remote: remote})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if !s.config.EnableCORS {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.originAllowed(origin)
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.config.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// applyCORS applies CORS headers to the response
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	if !s.config.EnableCORS {
		return
	}
	origin := r.Header.Get("Origin")
	if !s.originAllowed(origin) && !s.originAllowed("*") {
		return
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]health.Status, 0, len(names))
	for _, name := range names {
		st := s.checks[name]()
		st.Component = name
		statuses = append(statuses, st)
	}

	overall := health.Aggregate("semsub", statuses)
	code := http.StatusOK
	if overall.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, "application/json", overall)
}
