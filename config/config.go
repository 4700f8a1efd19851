package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/c360/semsub/dependability"
	"github.com/c360/semsub/endpoint"
	"github.com/c360/semsub/gateway"
	"github.com/c360/semsub/notify"
	"github.com/c360/semsub/scheduler"
	"github.com/c360/semsub/spu"
)

const redacted = "********"

// Config is the complete broker configuration
type Config struct {
	Security  dependability.Config `yaml:"security"`
	Endpoint  endpoint.Config      `yaml:"endpoint"`
	Scheduler scheduler.Config     `yaml:"scheduler"`
	SPU       spu.Config           `yaml:"spu"`
	Gateway   gateway.Config       `yaml:"gateway"`
	NATS      NATSConfig           `yaml:"nats"`
	Log       LogConfig            `yaml:"log"`
}

// NATSConfig defines the optional NATS connection used for notification
// delivery
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URLs          []string      `yaml:"urls"`
	Name          string        `yaml:"name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Token         string        `yaml:"token"`
	TLS           NATSTLSConfig `yaml:"tls"`
	JetStream     StreamConfig  `yaml:"jetstream"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	// HealthInterval is how often the round trip is measured; 0 disables it
	HealthInterval time.Duration `yaml:"health_interval"`

	// CircuitThreshold consecutive failed connects open the circuit, which
	// stays open for a backoff doubling up to MaxBackoff
	CircuitThreshold int           `yaml:"circuit_threshold"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// StreamConfig makes notifications durable in a JetStream stream capturing
// <subject_prefix>.>
type StreamConfig struct {
	Enabled bool   `yaml:"enabled"`
	Stream  string `yaml:"stream"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns a broker for a local endpoint with security and
// NATS disabled
func DefaultConfig() Config {
	return Config{
		Security:  dependability.DefaultConfig(),
		Endpoint:  endpoint.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		SPU:       spu.DefaultConfig(),
		Gateway:   gateway.DefaultConfig(),
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Name:          "semsub",
			SubjectPrefix: notify.DefaultSubjectPrefix,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: StreamConfig{
				Stream: "SEMSUB_NOTIFICATIONS",
			},
			ConnectTimeout:   5 * time.Second,
			PingInterval:     30 * time.Second,
			DrainTimeout:     30 * time.Second,
			HealthInterval:   10 * time.Second,
			CircuitThreshold: 5,
			MaxBackoff:       time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := c.Endpoint.Validate(); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.SPU.Validate(); err != nil {
		return fmt.Errorf("spu: %w", err)
	}
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := c.NATS.Validate(); err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// Validate checks the NATS section; a disabled section is always valid
func (n NATSConfig) Validate() error {
	if !n.Enabled {
		return nil
	}
	if len(n.URLs) == 0 {
		return errors.New("nats.urls is required when NATS is enabled")
	}
	for _, part := range strings.Split(n.SubjectPrefix, ".") {
		if !isValidNATSSubjectPart(part) {
			return fmt.Errorf("nats.subject_prefix %q is not a valid NATS subject", n.SubjectPrefix)
		}
	}
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"reconnect_wait", n.ReconnectWait},
		{"connect_timeout", n.ConnectTimeout},
		{"ping_interval", n.PingInterval},
		{"drain_timeout", n.DrainTimeout},
		{"health_interval", n.HealthInterval},
		{"max_backoff", n.MaxBackoff},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("nats.%s cannot be negative", d.key)
		}
	}
	if n.CircuitThreshold < 1 {
		return errors.New("nats.circuit_threshold must be at least 1")
	}
	if n.TLS.Enabled && (n.TLS.CertFile == "") != (n.TLS.KeyFile == "") {
		return errors.New("nats.tls.cert_file and nats.tls.key_file must be set together")
	}
	if n.JetStream.Enabled {
		if n.JetStream.Stream == "" || strings.ContainsAny(n.JetStream.Stream, ". *>") {
			return fmt.Errorf("nats.jetstream.stream %q is not a valid stream name", n.JetStream.Stream)
		}
	}
	return nil
}

// Validate checks the log section
func (l LogConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be debug, info, warn or error", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q must be json or text", l.Format)
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use as one token
// of a NATS subject. Valid characters are alphanumeric, dashes and
// underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := yaml.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Redacted returns a copy with credentials masked, for printing
func (c *Config) Redacted() *Config {
	r := c.Clone()
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&r.Security.Secret)
	mask(&r.Endpoint.Password)
	mask(&r.NATS.Password)
	mask(&r.NATS.Token)
	return r
}

// String returns the redacted configuration as YAML
func (c *Config) String() string {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// SaveToFile writes the configuration as YAML
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		d := DefaultConfig()
		cfg = &d
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
