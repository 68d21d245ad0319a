// Package main is the EventGate entry point. It wires the NATS ingest
// pipeline, the deduplicator, the event bus, the action job queue, and the
// websocket gateway together from one configuration, and runs them until a
// shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/eventgate/actions"
	"github.com/c360/eventgate/breaker"
	"github.com/c360/eventgate/config"
	"github.com/c360/eventgate/dedup"
	"github.com/c360/eventgate/eventbus"
	wsgateway "github.com/c360/eventgate/gateway/websocket"
	"github.com/c360/eventgate/health"
	"github.com/c360/eventgate/ingest"
	"github.com/c360/eventgate/jobqueue"
	"github.com/c360/eventgate/metric"
	"github.com/c360/eventgate/natsclient"
	"github.com/c360/eventgate/protocol"
	"github.com/c360/eventgate/recovery"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "eventgate"
)

const healthRefreshInterval = 10 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("eventgate failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		fmt.Println("configuration is valid")
		return nil
	}

	level := cfg.Service.SlogLevel()
	if override, ok := parseLevel(cliCfg.LogLevel); ok {
		level = override
	}
	logger := setupLogger(level, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting eventgate",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"environment", cfg.Service.Environment)

	ctx := context.Background()
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Metrics first so every component can register its counters
	metricsRegistry := metric.NewMetricsRegistry()
	metrics := metricsRegistry.CoreMetrics()

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = metricsServer.Stop() }()
		logger.Info("metrics server started", "address", metricsServer.Address())
	}

	natsClient, err := connectNATS(ctx, cfg, metricsRegistry)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	deduper, err := buildDeduplicator(ctx, cfg, natsClient, logger, metrics)
	if err != nil {
		return err
	}

	queue, strategy, err := buildJobPipeline(cfg, logger, metrics)
	if err != nil {
		return err
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("start job queue: %w", err)
	}
	defer func() { _ = queue.Stop(cliCfg.ShutdownTimeout) }()

	// The bus needs a sender before the gateway exists; the closure resolves
	// once the gateway is assigned below
	var gateway *wsgateway.Gateway
	bus, err := eventbus.New(
		eventbus.SenderFunc(func(connID string, msg protocol.ServerMessage) bool {
			return gateway.Deliver(connID, msg)
		}),
		eventbus.WithLogger(logger),
		eventbus.WithMetrics(metrics),
		eventbus.WithActionSink(queue),
	)
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}

	for _, binding := range cfg.Bindings {
		if err := bus.BindAction(binding.EventType, binding.Action); err != nil {
			return fmt.Errorf("bind %s action to %s: %w", binding.Action.Kind, binding.EventType, err)
		}
	}

	gateway, err = wsgateway.New(cfg.GatewayConfig(), bus,
		wsgateway.WithLogger(logger),
		wsgateway.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	if err := gateway.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	defer func() { _ = gateway.Stop(cliCfg.ShutdownTimeout) }()
	logger.Info("gateway started", "addr", cfg.Gateway.Addr, "path", cfg.Gateway.Path)

	if err := startIngest(signalCtx, cfg, natsClient, deduper, bus, logger); err != nil {
		return err
	}

	monitor := health.NewMonitor()
	stopHealth := startHealthServer(signalCtx, cliCfg.HealthAddr, cfg, monitor,
		natsClient, gateway, queue, strategy, logger)
	defer stopHealth()

	logger.Info("eventgate started", "bindings", len(cfg.Bindings))

	<-signalCtx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// connectNATS creates the client and blocks until the first connection is up.
// Starting without a broker would leave the ingest side dead while the
// gateway happily accepts subscribers.
func connectNATS(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Service.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithMetrics(registry),
	}
	if cfg.NATS.ReconnectWait.Std() > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

// buildDeduplicator wires the configured store behind the deduplicator
func buildDeduplicator(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	logger *slog.Logger,
	metrics *metric.Metrics,
) (*dedup.Deduplicator, error) {
	var store dedup.Store
	var err error
	switch cfg.Dedup.Backend {
	case config.DedupBackendMemory:
		store, err = dedup.NewMemoryStore(ctx, cfg.Dedup.TTL.Std())
	default:
		store, err = dedup.NewNATSStore(ctx, natsClient, cfg.Dedup.Bucket, cfg.Dedup.TTL.Std())
	}
	if err != nil {
		return nil, fmt.Errorf("create %s dedup store: %w", cfg.Dedup.Backend, err)
	}

	return dedup.New(store, dedup.WithLogger(logger), dedup.WithMetrics(metrics))
}

// buildJobPipeline assembles breakers, retry strategy, action executors, and
// the queue that drives them
func buildJobPipeline(
	cfg *config.Config,
	logger *slog.Logger,
	metrics *metric.Metrics,
) (*jobqueue.Queue, *recovery.Strategy, error) {
	breakers, err := breaker.NewSet(cfg.BreakerConfig(), breaker.WithMetrics(metrics))
	if err != nil {
		return nil, nil, fmt.Errorf("create breaker set: %w", err)
	}

	strategy, err := recovery.New(cfg.RecoveryConfig(), breakers,
		recovery.WithFallbacks(recovery.NewFallbackRegistry()))
	if err != nil {
		return nil, nil, fmt.Errorf("create recovery strategy: %w", err)
	}

	registry := actions.NewRegistry()
	executionTimeout := cfg.QueueConfig().ExecutionTimeout
	if err := registry.Register(actions.NewWebhookExecutor(executionTimeout)); err != nil {
		return nil, nil, fmt.Errorf("register webhook executor: %w", err)
	}
	if err := registry.Register(actions.NewSlackExecutor(executionTimeout)); err != nil {
		return nil, nil, fmt.Errorf("register slack executor: %w", err)
	}

	queue, err := jobqueue.New(cfg.QueueConfig(), registry, strategy,
		jobqueue.WithLogger(logger),
		jobqueue.WithMetrics(metrics))
	if err != nil {
		return nil, nil, fmt.Errorf("create job queue: %w", err)
	}
	return queue, strategy, nil
}

// startIngest ensures the events stream exists and attaches the durable
// consumer. The consumer stops when ctx is canceled.
func startIngest(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	deduper *dedup.Deduplicator,
	bus *eventbus.Bus,
	logger *slog.Logger,
) error {
	ingestCfg := cfg.IngestConfig()
	if _, err := natsClient.CreateStream(ctx, jetstream.StreamConfig{
		Name:     ingestCfg.Stream,
		Subjects: []string{ingestCfg.Subject},
	}); err != nil {
		return fmt.Errorf("ensure %s stream: %w", ingestCfg.Stream, err)
	}

	ingester, err := ingest.New(ingestCfg, natsClient, deduper, bus, ingest.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create ingester: %w", err)
	}
	if err := ingester.Start(ctx); err != nil {
		return fmt.Errorf("start ingester: %w", err)
	}
	return nil
}

// startHealthServer serves the aggregate health endpoint and keeps the
// monitor refreshed until ctx is canceled. The returned func stops the
// server.
func startHealthServer(
	ctx context.Context,
	addr string,
	cfg *config.Config,
	monitor *health.Monitor,
	natsClient *natsclient.Client,
	gateway *wsgateway.Gateway,
	queue *jobqueue.Queue,
	strategy *recovery.Strategy,
	logger *slog.Logger,
) func() {
	refresh := func() {
		monitor.Update("nats", health.FromNATS(*natsClient.GetStatus()))
		monitor.Update("connections", health.FromPool(gateway.Pool().Stats(), cfg.Gateway.Pool.MaxConnections))
		monitor.Update("jobs", health.FromQueue(queue.Stats(), cfg.Queue.QueueSize))
		monitor.Update("breakers", health.FromBreakers(strategy.Breakers().Snapshots()))
	}
	refresh()

	go func() {
		ticker := time.NewTicker(healthRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				refresh()
			case <-ctx.Done():
				return
			}
		}
	}()

	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Handler(monitor, cfg.Service.Name))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", "error", err)
		}
	}()
	logger.Info("health endpoint started", "addr", addr, "path", "/healthz")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}
