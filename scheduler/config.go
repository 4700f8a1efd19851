package scheduler

import (
	"fmt"
	"time"

	"github.com/c360/semsub/errors"
)

// Config holds per-kind request timeouts. Zero disables a timeout.
type Config struct {
	QueryTimeout       time.Duration `yaml:"query_timeout"`
	UpdateTimeout      time.Duration `yaml:"update_timeout"`
	SubscribeTimeout   time.Duration `yaml:"subscribe_timeout"`
	UnsubscribeTimeout time.Duration `yaml:"unsubscribe_timeout"`
}

// DefaultConfig returns the default timeouts
func DefaultConfig() Config {
	return Config{
		QueryTimeout:       30 * time.Second,
		UpdateTimeout:      60 * time.Second,
		SubscribeTimeout:   30 * time.Second,
		UnsubscribeTimeout: 5 * time.Second,
	}
}

// Validate checks the timeouts
func (c Config) Validate() error {
	if c.QueryTimeout < 0 || c.UpdateTimeout < 0 || c.SubscribeTimeout < 0 || c.UnsubscribeTimeout < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: timeouts cannot be negative", errors.ErrInvalidConfig),
			"Config", "Validate", "check timeouts")
	}
	return nil
}

func (c Config) timeout(kind Kind) time.Duration {
	switch kind {
	case KindQuery:
		return c.QueryTimeout
	case KindUpdate:
		return c.UpdateTimeout
	case KindSubscribe:
		return c.SubscribeTimeout
	case KindUnsubscribe:
		return c.UnsubscribeTimeout
	default:
		return 0
	}
}
