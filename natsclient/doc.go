// Package natsclient wraps the NATS Go client with a circuit breaker,
// connection lifecycle tracking and health monitoring.
//
// The broker uses it to publish subscription notifications. Core NATS
// publishing is fire-and-forget; when a JetStream stream is configured the
// notifications are published through JetStream and acknowledged by the
// server instead.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "semsub.notifications.spu-1", payload)
//
// # Circuit Breaker
//
// After the WithCircuitBreaker threshold of consecutive connection failures
// (default 5) the circuit opens and Connect fails fast with ErrCircuitOpen.
// The circuit half-opens after the current backoff, which doubles every
// threshold failures up to the configured maximum.
//
// # Health
//
// Health reports the connection as a health.Status for the broker's health
// route. While connected, the client measures the server round trip every
// WithHealthInterval and exports it as semsub_nats_rtt_seconds.
//
// # Connection States
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connected
//	                     \-> CircuitOpen -> Disconnected (after backoff)
package natsclient
