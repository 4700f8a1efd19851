package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "semsub"

// Metrics contains the broker-level metrics shared by every component
type Metrics struct {
	// Service metrics
	ServiceStatus *prometheus.GaugeVec

	// Scheduler metrics
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	AdmissionWait       prometheus.Histogram
	UpdateApplyDuration prometheus.Histogram
	CommitsTotal        prometheus.Counter

	// Subscription metrics
	SubscriptionsActive prometheus.Gauge
	EvaluationsTotal    *prometheus.CounterVec
	EvaluationDuration  prometheus.Histogram
	NotificationsTotal  *prometheus.CounterVec

	// Dependability metrics
	AuthFailures *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
	NATSRTT        prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all broker metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "requests_total",
				Help:      "Requests handled by the scheduler by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "request_duration_seconds",
				Help:      "Time from admission to outcome by request kind",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		AdmissionWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "admission_wait_seconds",
				Help:      "Time queries waited for an applying update before admission",
				Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		UpdateApplyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "update_apply_seconds",
				Help:      "Time spent applying updates at the endpoint",
				Buckets:   prometheus.DefBuckets,
			},
		),

		CommitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "commits_total",
				Help:      "Committed updates dispatched to subscriptions",
			},
		),

		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "spu",
				Name:      "active",
				Help:      "Number of live subscription processing units",
			},
		),

		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "spu",
				Name:      "evaluations_total",
				Help:      "Subscription re-evaluations by outcome (changed, unchanged, failed, discarded)",
			},
			[]string{"outcome"},
		),

		EvaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "spu",
				Name:      "evaluation_seconds",
				Help:      "Time spent re-querying and diffing one subscription",
				Buckets:   prometheus.DefBuckets,
			},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "spu",
				Name:      "notifications_total",
				Help:      "Notifications handed to sinks by outcome",
			},
			[]string{"outcome"},
		),

		AuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Rejected authorization attempts by error code",
			},
			[]string{"code"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "rtt_seconds",
				Help:      "Last measured round trip to the NATS server",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.RequestsTotal,
		c.RequestDuration,
		c.AdmissionWait,
		c.UpdateApplyDuration,
		c.CommitsTotal,
		c.SubscriptionsActive,
		c.EvaluationsTotal,
		c.EvaluationDuration,
		c.NotificationsTotal,
		c.AuthFailures,
		c.NATSConnected,
		c.NATSReconnects,
		c.NATSRTT,
	}
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordRequest counts a finished request and observes its duration
func (c *Metrics) RecordRequest(kind, outcome string, duration time.Duration) {
	c.RequestsTotal.WithLabelValues(kind, outcome).Inc()
	c.RequestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordAdmissionWait observes how long a query waited to be admitted
func (c *Metrics) RecordAdmissionWait(d time.Duration) {
	c.AdmissionWait.Observe(d.Seconds())
}

// RecordUpdateApplied observes an update apply and counts the commit
func (c *Metrics) RecordUpdateApplied(d time.Duration) {
	c.UpdateApplyDuration.Observe(d.Seconds())
	c.CommitsTotal.Inc()
}

// RecordSubscriptions sets the number of live subscriptions
func (c *Metrics) RecordSubscriptions(n int) {
	c.SubscriptionsActive.Set(float64(n))
}

// RecordEvaluation counts one subscription evaluation
func (c *Metrics) RecordEvaluation(outcome string, d time.Duration) {
	c.EvaluationsTotal.WithLabelValues(outcome).Inc()
	c.EvaluationDuration.Observe(d.Seconds())
}

// RecordNotification counts a notification delivery attempt
func (c *Metrics) RecordNotification(outcome string) {
	c.NotificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordAuthFailure counts a rejected authorization by error code
func (c *Metrics) RecordAuthFailure(code string) {
	c.AuthFailures.WithLabelValues(code).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordNATSRTT sets the last measured NATS round trip
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(rtt.Seconds())
}
