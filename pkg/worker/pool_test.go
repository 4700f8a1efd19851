package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semsub/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func TestNewPool_Defaults(t *testing.T) {
	processor := func(_ context.Context, _ testWork) error { return nil }

	pool := NewPool(5, 100, processor)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, processor)
	assert.Equal(t, 10, pool.workers)
	assert.Equal(t, 1000, pool.queueSize)

	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[testWork](5, 100, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(2, 10, func(_ context.Context, _ testWork) error {
		processed.Add(1)
		return nil
	})

	assert.ErrorIs(t, pool.SubmitWait(context.Background(), testWork{}), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: i}))
	}

	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int64(5), processed.Load(), "accepted work drains before stop")

	assert.ErrorIs(t, pool.SubmitWait(context.Background(), testWork{}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second), "stop is idempotent")
}

func TestPool_SubmitWaitNeverDrops(t *testing.T) {
	var (
		mu    sync.Mutex
		order []int
	)
	pool := NewPool(1, 1, func(_ context.Context, w testWork) error {
		time.Sleep(w.delay)
		mu.Lock()
		order = append(order, w.id)
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: i, delay: time.Millisecond}))
	}
	require.NoError(t, pool.Stop(5*time.Second))

	require.Len(t, order, 20)
	for i, id := range order {
		assert.Equal(t, i, id, "single worker preserves submission order")
	}
	assert.Equal(t, int64(20), pool.Stats().Submitted)
}

func TestPool_SubmitWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(5 * time.Second)
	}()

	// One item in the worker, one in the queue
	require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: 1}))
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.SubmitWait(ctx, testWork{id: 3}), context.DeadlineExceeded)
}

func TestPool_StopReleasesBlockedSubmitters(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: 1}))
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: 2}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.SubmitWait(context.Background(), testWork{id: 3})
	}()

	stopped := make(chan error, 1)
	go func() {
		stopped <- pool.Stop(5 * time.Second)
	}()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked submitter was not released by Stop")
	}

	close(release)
	assert.NoError(t, <-stopped)
}

func TestPool_ProcessingErrorsCounted(t *testing.T) {
	pool := NewPool(2, 10, func(_ context.Context, w testWork) error {
		if w.fail {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 6; i++ {
		require.NoError(t, pool.SubmitWait(context.Background(), testWork{id: i, fail: i%2 == 0}))
	}
	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(6), stats.Submitted)
	assert.Equal(t, int64(6), stats.Processed)
	assert.Equal(t, int64(3), stats.Failed)
}

func TestPool_ContextCancellationStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(3, 10, func(ctx context.Context, _ testWork) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.SubmitWait(context.Background(), testWork{}))

	cancel()
	assert.NoError(t, pool.Stop(2*time.Second))
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 4, func(_ context.Context, _ testWork) error { return nil },
		WithMetricsRegistry[testWork](registry, "test_pool"))
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.SubmitWait(context.Background(), testWork{}))
	require.NoError(t, pool.Stop(5*time.Second))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["test_pool_submitted_total"])
	assert.True(t, names["test_pool_processed_total"])
}
