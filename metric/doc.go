// Package metric provides the Prometheus metrics registry shared by the broker.
//
// The registry owns a private prometheus.Registry preloaded with the broker
// metrics (Metrics): scheduler request counts and latencies, update apply
// time, live subscriptions, evaluation and notification outcomes,
// authorization failures by error code and NATS connection health.
// Components with their own metrics, such as worker pools, register them
// through the MetricsRegistrar interface; duplicate registrations are
// rejected with an invalid-class error.
//
// Basic usage:
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordRequest("query", "success", time.Since(start))
//	mux.Handle("/metrics", registry.Handler())
//
// All methods are safe for concurrent use.
package metric
