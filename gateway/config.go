package gateway

import (
	"fmt"
	"time"

	"github.com/c360/semsub/errors"
)

// Config holds configuration for the protocol gateway
type Config struct {
	// ListenAddress is the HTTP listen address (e.g. ":8000")
	ListenAddress string `yaml:"listen_address"`

	QueryPath     string `yaml:"query_path"`
	UpdatePath    string `yaml:"update_path"`
	SubscribePath string `yaml:"subscribe_path"`

	// EnableCORS enables CORS headers (requires explicit cors_origins)
	EnableCORS  bool     `yaml:"enable_cors"`
	CORSOrigins []string `yaml:"cors_origins"`

	// MaxRequestSize limits request body and WebSocket frame size in bytes
	MaxRequestSize int64 `yaml:"max_request_size"`

	// RateLimit is the sustained requests per second allowed per client.
	// Zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// LimiterIdle is how long an idle client's limiter is kept
	LimiterIdle time.Duration `yaml:"limiter_idle"`

	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// NotificationBuffer bounds the notifications queued per connection
	NotificationBuffer int `yaml:"notification_buffer"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		ListenAddress:      ":8000",
		QueryPath:          "/query",
		UpdatePath:         "/update",
		SubscribePath:      "/subscribe",
		EnableCORS:         false,
		CORSOrigins:        []string{},
		MaxRequestSize:     1024 * 1024, // 1MB
		RateLimit:          50,
		RateBurst:          100,
		LimiterIdle:        5 * time.Minute,
		PingInterval:       30 * time.Second,
		PongTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		NotificationBuffer: 256,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Validate ensures the gateway configuration is valid
func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"listen_address cannot be empty")
	}
	for name, path := range map[string]string{
		"query_path":     c.QueryPath,
		"update_path":    c.UpdatePath,
		"subscribe_path": c.SubscribePath,
	} {
		if path == "" || path[0] != '/' {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("%s must start with /", name))
		}
	}

	if c.MaxRequestSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size must be positive")
	}
	if c.MaxRequestSize > 100*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}

	if c.RateLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_burst must be at least 1 when rate_limit is set")
	}

	if c.PingInterval <= 0 || c.PongTimeout <= c.PingInterval {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"pong_timeout must exceed a positive ping_interval")
	}
	if c.WriteTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"write_timeout must be positive")
	}
	if c.NotificationBuffer < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"notification_buffer must be at least 1")
	}

	// CORS requires explicit origin configuration
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}

	return nil
}
