package spu

import (
	"fmt"
	"time"

	"github.com/c360/semsub/errors"
)

// Config holds the subscription processing settings
type Config struct {
	// Workers evaluating SPUs in parallel
	Workers int `yaml:"workers"`
	// QueueSize bounds SPUs waiting for a worker; fan-out blocks when full
	QueueSize int `yaml:"queue_size"`
	// EvaluationTimeout bounds one re-query of the endpoint
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
	// MaxConsecutiveFailures terminates an SPU once exceeded. Zero disables it.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	// MaxSubscriptions caps live subscriptions. Zero means unlimited.
	MaxSubscriptions int `yaml:"max_subscriptions"`
	// StopTimeout bounds how long Stop waits for in-flight evaluations
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// DefaultConfig returns the default subscription processing settings
func DefaultConfig() Config {
	return Config{
		Workers:                8,
		QueueSize:              1024,
		EvaluationTimeout:      30 * time.Second,
		MaxConsecutiveFailures: 5,
		MaxSubscriptions:       0,
		StopTimeout:            10 * time.Second,
	}
}

// Validate checks the settings
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return errors.WrapInvalid(fmt.Errorf("%w: workers must be positive", errors.ErrInvalidConfig),
			"Config", "Validate", "check workers")
	case c.QueueSize < 1:
		return errors.WrapInvalid(fmt.Errorf("%w: queue_size must be positive", errors.ErrInvalidConfig),
			"Config", "Validate", "check queue size")
	case c.EvaluationTimeout <= 0:
		return errors.WrapInvalid(fmt.Errorf("%w: evaluation_timeout must be positive", errors.ErrInvalidConfig),
			"Config", "Validate", "check evaluation timeout")
	case c.MaxConsecutiveFailures < 0 || c.MaxSubscriptions < 0:
		return errors.WrapInvalid(fmt.Errorf("%w: limits cannot be negative", errors.ErrInvalidConfig),
			"Config", "Validate", "check limits")
	}
	return nil
}
