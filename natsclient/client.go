package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/health"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrNoJetStream  = stderrors.New("jetstream not available")
)

// Client is the broker's NATS connection for notification delivery
type Client struct {
	url    string
	cfg    settings
	logger *slog.Logger

	status  atomic.Value // ConnectionStatus
	breaker *breaker
	rtt     atomic.Int64 // last measured round trip, nanoseconds
	lastErr atomic.Pointer[error]

	mu        sync.RWMutex
	conn      *nats.Conn
	js        jetstream.JetStream
	monitorStop chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a client for url, a comma separated server list
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c := &Client{
		url:     url,
		cfg:     cfg,
		logger:  cfg.logger.With("component", "natsclient"),
		breaker: newBreaker(cfg.circuitThreshold, cfg.maxBackoff),
	}
	c.status.Store(StatusDisconnected)
	return c, nil
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return c.status.Load().(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	prev := c.status.Swap(status)
	if c.cfg.metrics != nil {
		c.cfg.metrics.RecordNATSStatus(status == StatusConnected)
	}
	if prev != nil && prev.(ConnectionStatus) != status {
		c.logger.Debug("NATS status changed", "from", prev.(ConnectionStatus).String(), "to", status.String())
	}
}

// IsHealthy returns true if the connection is up
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Health reports the connection for the broker's health route: connected
// is healthy, connecting or reconnecting is degraded and anything else is
// unhealthy.
func (c *Client) Health() health.Status {
	switch st := c.Status(); st {
	case StatusConnected:
		msg := "connected"
		if rtt := time.Duration(c.rtt.Load()); rtt > 0 {
			msg = fmt.Sprintf("connected, rtt %s", rtt.Round(time.Microsecond))
		}
		return health.New("nats", health.StateHealthy, msg)
	case StatusConnecting, StatusReconnecting:
		return health.New("nats", health.StateDegraded, st.String())
	default:
		bs := c.breaker.state()
		last := c.lastErr.Load()
		if bs.failures == 0 || last == nil {
			return health.New("nats", health.StateUnhealthy, st.String())
		}
		// FromCheck strips addresses and credentials from the cause
		return health.FromCheck("nats", fmt.Errorf("%s, %d failed connects, last %s ago: %w",
			st, bs.failures, time.Since(bs.lastFailure).Round(time.Second), *last))
	}
}

// recordFailure feeds the breaker and schedules the half-open transition
// when the failure opens it.
func (c *Client) recordFailure(err error) {
	c.lastErr.Store(&err)
	opened, wait := c.breaker.fail()
	if !opened {
		return
	}
	c.setStatus(StatusCircuitOpen)
	c.logger.Warn("Circuit breaker opened", "retry_after", wait)
	time.AfterFunc(wait, func() {
		if c.breaker.halfOpen() && c.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
			c.logger.Debug("Circuit breaker half-open")
		}
	})
}

func (c *Client) resetCircuit() {
	c.lastErr.Store(nil)
	c.breaker.succeed()
	c.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected)
}

// WaitForConnection blocks until the connection is up or ctx ends
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for !c.IsHealthy() {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(errors.ErrConnectionTimeout, "Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
	return nil
}

func (c *Client) natsOptions() []nats.Option {
	cfg := c.cfg
	opts := []nats.Option{
		nats.MaxReconnects(cfg.maxReconnects),
		nats.ReconnectWait(cfg.reconnectWait),
		nats.PingInterval(cfg.pingInterval),
		nats.Timeout(cfg.timeout),
		nats.DrainTimeout(cfg.drainTimeout),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ReconnectHandler(c.onReconnect),
		nats.ClosedHandler(c.onClosed),
		nats.ErrorHandler(c.onAsyncError),
	}
	if cfg.name != "" {
		opts = append(opts, nats.Name(cfg.name))
	}
	if cfg.username != "" && cfg.password != "" {
		opts = append(opts, nats.UserInfo(cfg.username, cfg.password))
	}
	if cfg.token != "" {
		opts = append(opts, nats.Token(cfg.token))
	}
	if cfg.tlsEnabled {
		if cfg.tlsCertFile != "" && cfg.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(cfg.tlsCertFile, cfg.tlsKeyFile))
		}
		if cfg.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(cfg.tlsCAFile))
		}
	}
	return opts
}

// Connect dials the servers. It fails fast with ErrCircuitOpen while the
// breaker is open; every failure counts towards opening it.
func (c *Client) Connect(ctx context.Context) error {
	if c.breaker.isOpen() {
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "check circuit")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	type dialResult struct {
		conn *nats.Conn
		err  error
	}
	dialed := make(chan dialResult, 1)
	opts := c.natsOptions()
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		dialed <- dialResult{conn, err}
	}()

	var res dialResult
	select {
	case res = <-dialed:
	case <-ctx.Done():
		res.err = ctx.Err()
		// a dial that completes after cancellation is closed, not leaked
		go func() {
			if late := <-dialed; late.conn != nil {
				late.conn.Close()
			}
		}()
	}
	if res.err != nil {
		c.recordFailure(res.err)
		c.status.CompareAndSwap(StatusConnecting, StatusDisconnected)
		if c.breaker.isOpen() {
			return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "establish connection")
		}
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(res.conn)
	if err != nil {
		c.logger.Warn("JetStream unavailable", "error", err)
	}

	c.mu.Lock()
	c.conn = res.conn
	c.js = js
	c.mu.Unlock()

	c.resetCircuit()
	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "url", res.conn.ConnectedUrlRedacted())

	if c.cfg.healthInterval > 0 {
		c.startMonitor(c.cfg.healthInterval)
	}
	return nil
}

// startMonitor measures the round trip every interval. A failed round trip marks a
// connected client reconnecting; a successful one restores it.
func (c *Client) startMonitor(interval time.Duration) {
	stop := make(chan struct{})
	c.mu.Lock()
	if c.monitorStop != nil {
		close(c.monitorStop)
	}
	c.monitorStop = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.measureRTT()
			}
		}
	}()
}

func (c *Client) measureRTT() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}

	rtt, err := conn.RTT()
	switch {
	case err != nil:
		c.rtt.Store(0)
		if c.status.CompareAndSwap(StatusConnected, StatusReconnecting) {
			c.logger.Warn("NATS round trip failed", "error", err)
			if c.cfg.metrics != nil {
				c.cfg.metrics.RecordNATSStatus(false)
			}
		}
	default:
		c.rtt.Store(int64(rtt))
		if c.cfg.metrics != nil {
			c.cfg.metrics.RecordNATSRTT(rtt)
		}
		if c.Status() == StatusReconnecting && conn.IsConnected() {
			c.setStatus(StatusConnected)
		}
	}
}

// Close drains and closes the connection. Calling it more than once is a no-op.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close(ctx)
	})
	return c.closeErr
}

func (c *Client) close(ctx context.Context) error {
	c.mu.Lock()
	if c.monitorStop != nil {
		close(c.monitorStop)
		c.monitorStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.cfg.username, c.cfg.password, c.cfg.token = "", "", ""
	c.mu.Unlock()

	defer c.setStatus(StatusDisconnected)
	if conn == nil {
		return nil
	}
	defer conn.Close()

	timeout := c.cfg.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	drained := make(chan error, 1)
	go func() { drained <- conn.Drain() }()

	var err error
	select {
	case drainErr := <-drained:
		if drainErr != nil {
			err = errors.Wrap(drainErr, "Client", "Close", "drain connection")
		}
	case <-time.After(timeout):
		err = errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout), "Client", "Close", "drain connection")
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
	if err != nil {
		c.logger.Error("Close failed", "error", err)
	}
	return err
}

// Publish sends data on subject over core NATS
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(ErrNotConnected, "Client", "Publish", "check connection")
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish")
	}
	return nil
}

func (c *Client) jetStream(method string) (jetstream.JetStream, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return nil, errors.WrapTransient(ErrNoJetStream, "Client", method, "check jetstream")
	}
	return js, nil
}

// EnsureStream creates the named JetStream stream capturing subjects, or
// returns the existing one.
func (c *Client) EnsureStream(ctx context.Context, name string, subjects []string) (jetstream.Stream, error) {
	js, err := c.jetStream("EnsureStream")
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateStream(ctx, jetstream.StreamConfig{Name: name, Subjects: subjects})
	switch {
	case err == nil:
		return stream, nil
	case !isAlreadyExistsError(err):
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create stream")
	}

	stream, err = js.Stream(ctx, name)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "get stream")
	}
	return stream, nil
}

// PublishToStream publishes to a subject captured by a JetStream stream and
// waits for the server acknowledgement.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := c.jetStream("PublishToStream")
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish")
	}
	return nil
}

func (c *Client) onDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	c.logger.Warn("NATS disconnected", "error", err)
}

func (c *Client) onReconnect(conn *nats.Conn) {
	c.resetCircuit()
	c.setStatus(StatusConnected)
	if c.cfg.metrics != nil {
		c.cfg.metrics.RecordNATSReconnect()
	}
	url := c.url
	if conn != nil {
		url = conn.ConnectedUrlRedacted()
	}
	c.logger.Info("NATS reconnected", "url", url)
}

func (c *Client) onClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
}

func (c *Client) onAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS error", "error", err)
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "already in use")
}
