package endpoint

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/c360/semsub/errors"
)

// Method is the HTTP binding used for a SPARQL operation
type Method string

// SPARQL 1.1 Protocol bindings
const (
	MethodGet            Method = "GET"
	MethodPost           Method = "POST"
	MethodURLEncodedPost Method = "URL_ENCODED_POST"
)

// OperationConfig configures one SPARQL operation
type OperationConfig struct {
	Path   string `yaml:"path"`
	Method Method `yaml:"method"`
}

// GraphsConfig holds default dataset parameters
type GraphsConfig struct {
	DefaultGraphURIs    []string `yaml:"default_graph_uri"`
	NamedGraphURIs      []string `yaml:"named_graph_uri"`
	UsingGraphURIs      []string `yaml:"using_graph_uri"`
	UsingNamedGraphURIs []string `yaml:"using_named_graph_uri"`
}

// Config configures the endpoint client
type Config struct {
	Protocol string          `yaml:"protocol"`
	Host     string          `yaml:"host"`
	Port     int             `yaml:"port"`
	Query    OperationConfig `yaml:"query"`
	Update   OperationConfig `yaml:"update"`
	Graphs   GraphsConfig    `yaml:"graphs"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
	QueryRetries     int           `yaml:"query_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns a local endpoint with GET queries and POST updates
func DefaultConfig() Config {
	return Config{
		Protocol:         "http",
		Host:             "localhost",
		Port:             8000,
		Query:            OperationConfig{Path: "/query", Method: MethodGet},
		Update:           OperationConfig{Path: "/update", Method: MethodPost},
		Timeout:          30 * time.Second,
		MaxResponseBytes: 64 << 20,
		QueryRetries:     3,
		RetryDelay:       100 * time.Millisecond,
	}
}

// Validate checks the configuration is usable
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "endpoint.host required")
	}
	if c.Protocol != "http" && c.Protocol != "https" {
		return errors.WrapInvalid(fmt.Errorf("%w: protocol %q", errors.ErrInvalidConfig, c.Protocol),
			"Config", "Validate", "check endpoint.protocol")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: port %d", errors.ErrInvalidConfig, c.Port),
			"Config", "Validate", "check endpoint.port")
	}
	switch c.Query.Method {
	case MethodGet, MethodPost, MethodURLEncodedPost:
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: query method %q", errors.ErrInvalidConfig, c.Query.Method),
			"Config", "Validate", "check endpoint.query.method")
	}
	switch c.Update.Method {
	case MethodPost, MethodURLEncodedPost:
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: update method %q", errors.ErrInvalidConfig, c.Update.Method),
			"Config", "Validate", "check endpoint.update.method")
	}
	if c.Timeout < 0 || c.RetryDelay < 0 || c.QueryRetries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"endpoint timeouts and retries cannot be negative")
	}
	return nil
}

func (c Config) baseURL() string {
	u := url.URL{Scheme: c.Protocol, Host: c.Host}
	if c.Port > 0 {
		u.Host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	return strings.TrimSuffix(u.String(), "/")
}

// QueryURL returns the query service URL
func (c Config) QueryURL() string {
	return c.baseURL() + ensureSlash(c.Query.Path)
}

// UpdateURL returns the update service URL
func (c Config) UpdateURL() string {
	return c.baseURL() + ensureSlash(c.Update.Path)
}

func ensureSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
