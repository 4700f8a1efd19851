package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTemporary = errors.New("temporary")

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errTemporary
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return errTemporary
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTemporary)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return NonRetryable(errTemporary)
	})
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, errTemporary)
	assert.Equal(t, 1, calls)
	assert.Nil(t, NonRetryable(nil))
}

func TestDo_RetryableClassifier(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls == 2 {
			return permanent
		}
		return errTemporary
	})
	assert.Equal(t, permanent, err)
	assert.Equal(t, 2, calls)
}

func TestDo_OnRetry(t *testing.T) {
	cfg := fastConfig(3)
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, _ time.Duration) {
		assert.ErrorIs(t, err, errTemporary)
		attempts = append(attempts, attempt)
	}
	_ = Do(context.Background(), cfg, func() error { return errTemporary })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error { return errTemporary })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestDo_InvalidConfig(t *testing.T) {
	noop := func() error { return nil }
	assert.Error(t, Do(context.Background(), Config{InitialDelay: -1}, noop))
	assert.Error(t, Do(context.Background(), Config{MaxDelay: -1}, noop))
	assert.Error(t, Do(context.Background(), Config{Multiplier: -1}, noop))
	assert.Error(t, Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, noop))
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Config{}, func() error {
		calls++
		return errTemporary
	})
	assert.Equal(t, 1, calls)
}

func TestConfig_Backoff(t *testing.T) {
	cfg, err := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 30 * time.Millisecond, Multiplier: 2}.normalized()
	require.NoError(t, err)

	assert.Equal(t, 20*time.Millisecond, cfg.next(10*time.Millisecond))
	assert.Equal(t, 30*time.Millisecond, cfg.next(20*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, cfg.jittered(10*time.Millisecond))

	cfg.AddJitter = true
	d := cfg.jittered(100 * time.Millisecond)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.Less(t, d, 125*time.Millisecond)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errTemporary
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestPresets(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), Quick()} {
		_, err := cfg.normalized()
		assert.NoError(t, err)
		assert.Greater(t, cfg.MaxAttempts, 1)
	}
}
