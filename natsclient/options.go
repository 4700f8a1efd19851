package natsclient

import (
	"log/slog"
	"time"

	"github.com/c360/semsub/metric"
)

// settings collects what the options configure
type settings struct {
	name          string
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// interval of the round trip check behind Health; zero disables it
	healthInterval time.Duration

	circuitThreshold int32
	maxBackoff       time.Duration

	username string
	password string
	token    string

	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	logger  *slog.Logger
	metrics *metric.Metrics
}

func defaultSettings() settings {
	return settings{
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		logger:           slog.Default(),
	}
}

// ClientOption is a functional option for configuring the Client
type ClientOption func(*settings) error

// WithName sets the connection name shown by the server
func WithName(name string) ClientOption {
	return func(s *settings) error {
		s.name = name
		return nil
	}
}

// WithMaxReconnects sets the maximum number of reconnection attempts (-1 for infinite)
func WithMaxReconnects(n int) ClientOption {
	return func(s *settings) error {
		s.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the wait time between reconnection attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(s *settings) error {
		s.reconnectWait = d
		return nil
	}
}

// WithPingInterval sets the interval of protocol pings sent by nats.go
func WithPingInterval(d time.Duration) ClientOption {
	return func(s *settings) error {
		if d > 0 {
			s.pingInterval = d
		}
		return nil
	}
}

// WithTimeout sets the dial timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(s *settings) error {
		if d > 0 {
			s.timeout = d
		}
		return nil
	}
}

// WithDrainTimeout bounds the drain on Close
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(s *settings) error {
		if d > 0 {
			s.drainTimeout = d
		}
		return nil
	}
}

// WithHealthInterval sets how often the connection's round trip is measured.
// Zero disables the check.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(s *settings) error {
		s.healthInterval = d
		return nil
	}
}

// WithCircuitBreaker sets the consecutive connect failures that open the
// circuit and the longest backoff before it half-opens. Zero values keep the
// defaults.
func WithCircuitBreaker(threshold int, maxBackoff time.Duration) ClientOption {
	return func(s *settings) error {
		if threshold > 0 {
			s.circuitThreshold = int32(threshold)
		}
		if maxBackoff >= time.Second {
			s.maxBackoff = maxBackoff
		}
		return nil
	}
}

// WithCredentials sets username and password for authentication
func WithCredentials(username, password string) ClientOption {
	return func(s *settings) error {
		s.username = username
		s.password = password
		return nil
	}
}

// WithToken sets a token for authentication
func WithToken(token string) ClientOption {
	return func(s *settings) error {
		s.token = token
		return nil
	}
}

// WithTLS enables TLS with optional certificate paths
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(s *settings) error {
		s.tlsEnabled = true
		s.tlsCertFile = certFile
		s.tlsKeyFile = keyFile
		s.tlsCAFile = caFile
		return nil
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(s *settings) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithMetrics reports connection status, reconnects and round trips
func WithMetrics(metrics *metric.Metrics) ClientOption {
	return func(s *settings) error {
		s.metrics = metrics
		return nil
	}
}
