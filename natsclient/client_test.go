package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/health"
	"github.com/c360/semsub/metric"
)

var errDial = stderrors.New("dial failed")

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.breaker.state().backoff)
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure(errDial)
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure(errDial)
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.breaker.state().failures)
}

func TestCircuitBreaker_CustomThreshold(t *testing.T) {
	client, err := NewClient("nats://invalid:4222", WithCircuitBreaker(2, 0))
	require.NoError(t, err)

	client.recordFailure(errDial)
	assert.NotEqual(t, StatusCircuitOpen, client.Status())
	client.recordFailure(errDial)
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure(errDial)
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.breaker.state().failures)
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.breaker.state().backoff)
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure(errDial)
	}
	assert.Equal(t, 2*time.Second, client.breaker.state().backoff)

	for i := 0; i < 5; i++ {
		client.recordFailure(errDial)
	}
	assert.Equal(t, 4*time.Second, client.breaker.state().backoff)

	for i := 0; i < 100; i++ {
		client.recordFailure(errDial)
	}
	assert.Equal(t, time.Minute, client.breaker.state().backoff)
}

func TestConnect_CircuitOpenFailsFast(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure(errDial)
	}

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, errors.IsTransient(err))
}

func TestConnect_CancelledContext(t *testing.T) {
	// Port 1 is never a NATS server; the cancelled context wins or the dial fails.
	client, err := NewClient("nats://127.0.0.1:1", WithTimeout(50*time.Millisecond), WithMaxReconnects(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, client.IsHealthy())
	assert.Equal(t, int32(1), client.breaker.state().failures)
}

func TestIsHealthy(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected bool
	}{
		{StatusConnected, true},
		{StatusDisconnected, false},
		{StatusConnecting, false},
		{StatusReconnecting, false},
		{StatusCircuitOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			client, err := NewClient("nats://localhost:4222")
			require.NoError(t, err)
			client.setStatus(tt.status)
			assert.Equal(t, tt.expected, client.IsHealthy())
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestConcurrentSafety(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	const iterations = 100

	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				fn()
			}
		}()
	}

	run(func() { client.setStatus(StatusConnecting) })
	run(func() { client.setStatus(StatusConnected) })
	run(func() { _ = client.Status() })
	run(func() { client.recordFailure(errDial) })
	run(client.resetCircuit)
	run(func() { _ = client.Health() })
	wg.Wait()

	assert.Contains(t, []ConnectionStatus{
		StatusDisconnected, StatusConnecting, StatusConnected, StatusReconnecting, StatusCircuitOpen,
	}, client.Status())
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out when not connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
	})

	t.Run("returns when becomes connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.NoError(t, client.WaitForConnection(ctx))
	})
}

func TestNotConnectedOperations(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	err = client.Publish(ctx, "semsub.test", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.IsTransient(err))

	assert.ErrorIs(t, client.PublishToStream(ctx, "semsub.test", []byte("x")), ErrNoJetStream)

	_, err = client.EnsureStream(ctx, "SEMSUB", []string{"semsub.>"})
	assert.ErrorIs(t, err, ErrNoJetStream)

	assert.NoError(t, client.Close(ctx))
	assert.NoError(t, client.Close(ctx), "second close is a no-op")
}

func TestOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(10),
		WithReconnectWait(5*time.Second),
		WithPingInterval(15*time.Second),
		WithTimeout(0),
		WithDrainTimeout(3*time.Second),
		WithHealthInterval(0),
		WithCircuitBreaker(3, 500*time.Millisecond),
		WithCredentials("user", "pass"),
		WithName("semsub-test"),
		WithTLS("cert.pem", "key.pem", "ca.pem"),
	)
	require.NoError(t, err)

	assert.Equal(t, 10, client.cfg.maxReconnects)
	assert.Equal(t, 5*time.Second, client.cfg.reconnectWait)
	assert.Equal(t, 15*time.Second, client.cfg.pingInterval)
	assert.Equal(t, 5*time.Second, client.cfg.timeout, "zero keeps the default")
	assert.Equal(t, 3*time.Second, client.cfg.drainTimeout)
	assert.Zero(t, client.cfg.healthInterval)
	assert.Equal(t, int32(3), client.breaker.threshold)
	assert.Equal(t, time.Minute, client.breaker.max, "sub-second backoff keeps the default")
	// Nine base options plus name, user info, client cert and root CAs
	assert.Len(t, client.natsOptions(), 13)
}

func TestHealth(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	st := client.Health()
	assert.Equal(t, "nats", st.Component)
	assert.False(t, st.Healthy)
	assert.Equal(t, "disconnected", st.Message)

	client.recordFailure(errDial)
	client.recordFailure(fmt.Errorf("dial nats://10.1.2.3:4222: connection refused"))
	st = client.Health()
	assert.Equal(t, health.StateUnhealthy, st.Status)
	assert.Contains(t, st.Message, "2 failed connects")
	assert.Contains(t, st.Message, "connection refused")
	assert.NotContains(t, st.Message, "10.1.2.3", "addresses are sanitized")

	client.setStatus(StatusReconnecting)
	assert.Equal(t, health.StateDegraded, client.Health().Status)

	client.setStatus(StatusConnected)
	client.rtt.Store(int64(1500 * time.Microsecond))
	st = client.Health()
	assert.True(t, st.Healthy)
	assert.Equal(t, "connected, rtt 1.5ms", st.Message)
}

func TestCircuitBreaker_HalfOpensAfterBackoff(t *testing.T) {
	b := newBreaker(2, time.Minute)

	opened, _ := b.fail()
	assert.False(t, opened)
	opened, wait := b.fail()
	assert.True(t, opened)
	assert.Equal(t, time.Second, wait)

	opened, _ = b.fail()
	assert.False(t, opened, "already open")
	_, _ = b.fail()
	assert.Equal(t, 4*time.Second, b.state().backoff)

	assert.True(t, b.halfOpen())
	assert.False(t, b.isOpen())
	assert.False(t, b.halfOpen(), "closed breaker is not half-opened again")
}

func TestMetricsWiring(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()

	client, err := NewClient("nats://localhost:4222", WithMetrics(core))
	require.NoError(t, err)

	client.setStatus(StatusConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))

	client.onReconnect(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSReconnects))

	for i := 0; i < 5; i++ {
		client.recordFailure(errDial)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(core.NATSConnected))
}

func TestMeasureRTT_RecordsGauge(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()

	client, err := NewClient("nats://localhost:4222", WithMetrics(core))
	require.NoError(t, err)

	// no connection: nothing is measured
	client.measureRTT()
	assert.Zero(t, client.rtt.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(core.NATSRTT))
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.True(t, isAlreadyExistsError(jetstream.ErrStreamNameAlreadyInUse))
	assert.True(t, isAlreadyExistsError(fmt.Errorf("wrapped: %w", jetstream.ErrStreamNameAlreadyInUse)))
	assert.True(t, isAlreadyExistsError(fmt.Errorf("stream already exists")))
	assert.False(t, isAlreadyExistsError(fmt.Errorf("connection refused")))
}

// TestIntegration_Publish needs a NATS server with JetStream at NATS_URL.
func TestIntegration_Publish(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if os.Getenv("INTEGRATION_TESTS") == "" || url == "" {
		t.Skip("set INTEGRATION_TESTS=1 and NATS_URL to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := NewClient(url, WithName("semsub-integration"), WithHealthInterval(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	require.NoError(t, client.Publish(ctx, "semsub.it.core", []byte("hello")))
	assert.Eventually(t, func() bool { return client.rtt.Load() > 0 }, 2*time.Second, 20*time.Millisecond)
	assert.True(t, client.Health().Healthy)

	_, err = client.EnsureStream(ctx, "SEMSUB_IT", []string{"semsub.it.stream.>"})
	require.NoError(t, err)
	_, err = client.EnsureStream(ctx, "SEMSUB_IT", []string{"semsub.it.stream.>"})
	require.NoError(t, err)
	require.NoError(t, client.PublishToStream(ctx, "semsub.it.stream.one", []byte("durable")))
}
