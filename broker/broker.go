// Package broker assembles the SPARQL subscription broker from its parts and
// runs it until its context ends.
//
// Construction order follows the dependencies: the authorization gate, the
// endpoint client, the scheduler, the SPU registry reading through the
// scheduler, the optional NATS client for notification delivery and
// finally the gateway.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semsub/config"
	"github.com/c360/semsub/dependability"
	"github.com/c360/semsub/endpoint"
	"github.com/c360/semsub/errors"
	"github.com/c360/semsub/gateway"
	"github.com/c360/semsub/metric"
	"github.com/c360/semsub/natsclient"
	"github.com/c360/semsub/notify"
	"github.com/c360/semsub/pkg/retry"
	"github.com/c360/semsub/scheduler"
	"github.com/c360/semsub/spu"
)

// values of semsub_service_status
const (
	statusStopped = iota
	statusStarting
	statusRunning
	statusStopping
	statusFailed
)

// Deps holds the broker's construction inputs
type Deps struct {
	Config          *config.Config
	MetricsRegistry *metric.MetricsRegistry // optional, a new registry when nil
	Logger          *slog.Logger

	// Endpoint replaces the HTTP endpoint client, mainly for tests
	Endpoint scheduler.Endpoint
	// Publisher replaces the NATS client for notification delivery
	Publisher notify.Publisher
}

// Broker is a running SPARQL subscription broker
type Broker struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry

	gate      *dependability.Gate
	scheduler *scheduler.Scheduler
	registry  *spu.Registry
	nats      *natsclient.Client
	gateway   *gateway.Server
}

// New builds the broker without starting anything
func New(deps Deps) (*Broker, error) {
	if deps.Config == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Broker", "New", "config required")
	}
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Broker", "New", "validate config")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mreg := deps.MetricsRegistry
	if mreg == nil {
		mreg = metric.NewMetricsRegistry()
	}
	core := mreg.CoreMetrics()

	b := &Broker{config: cfg, logger: logger, metrics: mreg}

	gate, err := dependability.NewGate(dependability.Deps{
		Config:  cfg.Security,
		Metrics: core,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	b.gate = gate

	ep := deps.Endpoint
	if ep == nil {
		client, err := endpoint.NewClient(cfg.Endpoint, endpoint.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		ep = client
	}

	b.scheduler, err = scheduler.New(scheduler.Deps{
		Config:   cfg.Scheduler,
		Endpoint: ep,
		Metrics:  core,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	b.registry, err = spu.NewRegistry(spu.Deps{
		Config:          cfg.SPU,
		Reader:          b.scheduler,
		Metrics:         core,
		MetricsRegistry: mreg,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	b.scheduler.SetRegistry(b.registry)

	publisher := deps.Publisher
	checks := map[string]gateway.HealthCheck{}
	if publisher == nil && cfg.NATS.Enabled {
		b.nats, err = newNATSClient(cfg.NATS, core, logger)
		if err != nil {
			return nil, err
		}
		publisher = b.natsPublisher()
		checks["nats"] = b.nats.Health
	}

	b.gateway, err = gateway.NewServer(gateway.Deps{
		Config:          cfg.Gateway,
		Authorizer:      gate,
		Scheduler:       b.scheduler,
		Sessions:        b.registry,
		Publisher:       publisher,
		SubjectPrefix:   cfg.NATS.SubjectPrefix,
		MetricsRegistry: mreg,
		HealthChecks:    checks,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newNATSClient(cfg config.NATSConfig, metrics *metric.Metrics, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Name),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
		natsclient.WithTimeout(cfg.ConnectTimeout),
		natsclient.WithPingInterval(cfg.PingInterval),
		natsclient.WithDrainTimeout(cfg.DrainTimeout),
		natsclient.WithHealthInterval(cfg.HealthInterval),
		natsclient.WithCircuitBreaker(cfg.CircuitThreshold, cfg.MaxBackoff),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metrics),
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile))
	}
	// nats.Connect accepts a comma separated server list
	return natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
}

// natsPublisher publishes core NATS messages, or JetStream messages
// acknowledged by the stream when one is configured
func (b *Broker) natsPublisher() notify.Publisher {
	if b.config.NATS.JetStream.Enabled {
		return notify.PublisherFunc(b.nats.PublishToStream)
	}
	return b.nats
}

// Handler returns the gateway's HTTP handler
func (b *Broker) Handler() http.Handler {
	return b.gateway.Handler()
}

// Gate returns the authorization gate, e.g. to revoke tokens
func (b *Broker) Gate() *dependability.Gate {
	return b.gate
}

// Registry returns the live subscriptions
func (b *Broker) Registry() *spu.Registry {
	return b.registry
}

// Run serves on the configured listen address until ctx ends
func (b *Broker) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.config.Gateway.ListenAddress)
	if err != nil {
		return errors.WrapFatal(err, "Broker", "Run", fmt.Sprintf("listen on %s", b.config.Gateway.ListenAddress))
	}
	return b.Serve(ctx, ln)
}

// Serve starts every part and serves on ln until ctx ends or a part fails.
// Shutdown runs in reverse: the gateway stops taking requests, the
// scheduler refuses new work, the registry drains and NATS closes last.
func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	core := b.metrics.CoreMetrics()
	core.RecordServiceStatus("broker", statusStarting)

	if b.nats != nil {
		if err := b.connectNATS(ctx); err != nil {
			_ = ln.Close()
			core.RecordServiceStatus("broker", statusFailed)
			return err
		}
	}

	if err := b.registry.Start(ctx); err != nil {
		_ = ln.Close()
		core.RecordServiceStatus("broker", statusFailed)
		return err
	}

	core.RecordServiceStatus("broker", statusRunning)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.gateway.Serve(gctx, ln)
	})

	if b.gate.Enabled() {
		g.Go(func() error {
			return b.gate.RunCleanup(gctx, b.config.Security.RevocationCleanup)
		})
	}

	b.logger.Info("Broker started",
		"address", ln.Addr().String(),
		"endpoint", b.config.Endpoint.Host,
		"security", b.gate.Enabled(),
		"nats", b.nats != nil)

	err := g.Wait()
	core.RecordServiceStatus("broker", statusStopping)

	b.scheduler.Close()
	if stopErr := b.registry.Stop(); stopErr != nil {
		b.logger.Warn("SPU registry stop failed", "error", stopErr)
	}
	if b.nats != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if closeErr := b.nats.Close(closeCtx); closeErr != nil {
			b.logger.Warn("NATS close failed", "error", closeErr)
		}
		cancel()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		core.RecordServiceStatus("broker", statusFailed)
		return err
	}
	core.RecordServiceStatus("broker", statusStopped)
	b.logger.Info("Broker stopped")
	return nil
}

// connectNATS retries the initial connect until the client's circuit opens
func (b *Broker) connectNATS(ctx context.Context) error {
	policy := retry.Quick()
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, natsclient.ErrCircuitOpen)
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		b.logger.Warn("NATS connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, policy, func() error { return b.nats.Connect(ctx) }); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := b.nats.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	js := b.config.NATS.JetStream
	if js.Enabled {
		subjects := []string{b.config.NATS.SubjectPrefix + ".>"}
		if _, err := b.nats.EnsureStream(ctx, js.Stream, subjects); err != nil {
			return fmt.Errorf("ensure notification stream: %w", err)
		}
		b.logger.Info("Notification stream ready", "stream", js.Stream, "subjects", subjects)
	}
	return nil
}
