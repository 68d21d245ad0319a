// Package config loads and validates the service configuration.
//
// Configuration comes from three layers: built-in defaults, an optional JSON
// file, and environment overrides (EVENTGATE_* variables), applied in that
// order. Every section validates itself and durations are written as strings
// ("30s", "5m") in the file.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/c360/eventgate/actions"
	"github.com/c360/eventgate/breaker"
	"github.com/c360/eventgate/connpool"
	"github.com/c360/eventgate/dedup"
	wsgateway "github.com/c360/eventgate/gateway/websocket"
	"github.com/c360/eventgate/ingest"
	"github.com/c360/eventgate/jobqueue"
	"github.com/c360/eventgate/recovery"
)

// envPrefix namespaces all environment overrides
const envPrefix = "EVENTGATE"

// Duration is a time.Duration that unmarshals from "30s" style strings.
// Plain JSON numbers are accepted as nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON reads either a duration string or nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// Config is the complete service configuration
type Config struct {
	Service  ServiceConfig  `json:"service"`
	NATS     NATSConfig     `json:"nats"`
	Gateway  GatewayConfig  `json:"gateway"`
	Ingest   IngestConfig   `json:"ingest"`
	Dedup    DedupConfig    `json:"dedup"`
	Queue    QueueConfig    `json:"queue"`
	Recovery RecoveryConfig `json:"recovery"`
	Breaker  BreakerConfig  `json:"breaker"`
	Metrics  MetricsConfig  `json:"metrics"`
	Bindings []Binding      `json:"bindings,omitempty"`
}

// ServiceConfig identifies the instance
type ServiceConfig struct {
	Name        string `json:"name"`
	Environment string `json:"environment,omitempty"`
	LogLevel    string `json:"log_level"`
}

// SlogLevel maps the configured level to slog
func (c ServiceConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NATSConfig defines the NATS connection
type NATSConfig struct {
	URLs          []string `json:"urls"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
}

// URL joins the configured servers into a NATS connection string
func (c NATSConfig) URL() string {
	return strings.Join(c.URLs, ",")
}

// GatewayConfig is the file-facing shape of the websocket gateway settings
type GatewayConfig struct {
	Addr           string     `json:"addr"`
	Path           string     `json:"path"`
	InitTimeout    Duration   `json:"init_timeout"`
	WriteTimeout   Duration   `json:"write_timeout"`
	PingInterval   Duration   `json:"ping_interval"`
	PongTimeout    Duration   `json:"pong_timeout"`
	SendBuffer     int        `json:"send_buffer"`
	MaxMessageSize int64      `json:"max_message_size"`
	Pool           PoolConfig `json:"pool"`
}

// PoolConfig is the file-facing shape of the connection pool policy
type PoolConfig struct {
	MaxConnections int      `json:"max_connections"`
	IdleTimeout    Duration `json:"idle_timeout"`
	MaxLifetime    Duration `json:"max_lifetime"`
	SweepInterval  Duration `json:"sweep_interval"`
}

// IngestConfig is the file-facing shape of the stream consumer settings
type IngestConfig struct {
	Stream     string   `json:"stream"`
	Subject    string   `json:"subject"`
	Consumer   string   `json:"consumer"`
	RetryDelay Duration `json:"retry_delay"`
}

// Deduplication backends
const (
	DedupBackendMemory = "memory"
	DedupBackendNATS   = "nats"
)

// DedupConfig selects and sizes the deduplication store
type DedupConfig struct {
	// Backend is "memory" for a process-local store or "nats" for the
	// shared JetStream KV bucket
	Backend string   `json:"backend"`
	TTL     Duration `json:"ttl"`
	Bucket  string   `json:"bucket,omitempty"`
}

// QueueConfig is the file-facing shape of the job queue settings
type QueueConfig struct {
	Workers          int           `json:"workers"`
	QueueSize        int           `json:"queue_size"`
	MaxAttempts      int           `json:"max_attempts"`
	ExecutionTimeout Duration      `json:"execution_timeout"`
	Backoff          BackoffConfig `json:"backoff"`
}

// BackoffConfig is the file-facing shape of retry pacing
type BackoffConfig struct {
	Strategy     string   `json:"strategy"`
	InitialDelay Duration `json:"initial_delay"`
	MaxDelay     Duration `json:"max_delay"`
	Multiplier   float64  `json:"multiplier,omitempty"`
}

// RecoveryConfig is the file-facing shape of the retry strategy
type RecoveryConfig struct {
	MaxRetries     int      `json:"max_retries"`
	InitialBackoff Duration `json:"initial_backoff"`
	MaxBackoff     Duration `json:"max_backoff"`
	Multiplier     float64  `json:"multiplier"`
}

// BreakerConfig is the file-facing shape of the circuit breaker policy
type BreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold"`
	SuccessThreshold int      `json:"success_threshold"`
	Timeout          Duration `json:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Binding attaches an action to an event type
type Binding struct {
	EventType string         `json:"event_type"`
	Action    actions.Action `json:"action"`
}

// Default returns the built-in configuration, derived from each component's
// production defaults
func Default() *Config {
	gw := wsgateway.DefaultConfig()
	pool := connpool.DefaultConfig()
	ing := ingest.DefaultConfig()
	queue := jobqueue.DefaultConfig()
	rec := recovery.DefaultConfig()
	brk := breaker.DefaultConfig()

	return &Config{
		Service: ServiceConfig{
			Name:     "eventgate",
			LogLevel: "info",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Gateway: GatewayConfig{
			Addr:           gw.Addr,
			Path:           gw.Path,
			InitTimeout:    Duration(gw.InitTimeout),
			WriteTimeout:   Duration(gw.WriteTimeout),
			PingInterval:   Duration(gw.PingInterval),
			PongTimeout:    Duration(gw.PongTimeout),
			SendBuffer:     gw.SendBuffer,
			MaxMessageSize: gw.MaxMessageSize,
			Pool: PoolConfig{
				MaxConnections: pool.MaxConnections,
				IdleTimeout:    Duration(pool.IdleTimeout),
				MaxLifetime:    Duration(pool.MaxLifetime),
				SweepInterval:  Duration(pool.SweepInterval),
			},
		},
		Ingest: IngestConfig{
			Stream:     ing.Stream,
			Subject:    ing.Subject,
			Consumer:   ing.Consumer,
			RetryDelay: Duration(ing.RetryDelay),
		},
		Dedup: DedupConfig{
			Backend: DedupBackendNATS,
			TTL:     Duration(dedup.DefaultTTL),
			Bucket:  dedup.DefaultBucket,
		},
		Queue: QueueConfig{
			Workers:          queue.Workers,
			QueueSize:        queue.QueueSize,
			MaxAttempts:      queue.MaxAttempts,
			ExecutionTimeout: Duration(queue.ExecutionTimeout),
			Backoff: BackoffConfig{
				Strategy:     string(queue.Backoff.Strategy),
				InitialDelay: Duration(queue.Backoff.InitialDelay),
				MaxDelay:     Duration(queue.Backoff.MaxDelay),
				Multiplier:   queue.Backoff.Multiplier,
			},
		},
		Recovery: RecoveryConfig{
			MaxRetries:     rec.MaxRetries,
			InitialBackoff: Duration(rec.InitialBackoff),
			MaxBackoff:     Duration(rec.MaxBackoff),
			Multiplier:     rec.Multiplier,
		},
		Breaker: BreakerConfig{
			FailureThreshold: brk.FailureThreshold,
			SuccessThreshold: brk.SuccessThreshold,
			Timeout:          Duration(brk.Timeout),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration from defaults, an optional file, and
// environment overrides, then validates it. An empty path skips the file
// layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid config structure: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides layers EVENTGATE_* environment variables over the config
func (c *Config) applyEnvOverrides() {
	if val := os.Getenv(envPrefix + "_LOG_LEVEL"); val != "" {
		c.Service.LogLevel = val
	}
	if val := os.Getenv(envPrefix + "_NATS_URLS"); val != "" {
		c.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(envPrefix + "_NATS_USERNAME"); val != "" {
		c.NATS.Username = val
	}
	if val := os.Getenv(envPrefix + "_NATS_PASSWORD"); val != "" {
		c.NATS.Password = val
	}
	if val := os.Getenv(envPrefix + "_NATS_TOKEN"); val != "" {
		c.NATS.Token = val
	}
	if val := os.Getenv(envPrefix + "_GATEWAY_ADDR"); val != "" {
		c.Gateway.Addr = val
	}
	if val := os.Getenv(envPrefix + "_DEDUP_BACKEND"); val != "" {
		c.Dedup.Backend = val
	}
	if val := os.Getenv(envPrefix + "_DEDUP_BUCKET"); val != "" {
		c.Dedup.Bucket = val
	}
}

// Validate checks the whole configuration by validating each produced
// component config plus the sections only this package understands
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if len(c.NATS.URLs) == 0 {
		return fmt.Errorf("nats.urls is required")
	}

	switch c.Dedup.Backend {
	case DedupBackendMemory:
	case DedupBackendNATS:
		if c.Dedup.Bucket == "" {
			return fmt.Errorf("dedup.bucket is required for the nats backend")
		}
	default:
		return fmt.Errorf("dedup.backend must be %q or %q, got %q",
			DedupBackendMemory, DedupBackendNATS, c.Dedup.Backend)
	}
	if c.Dedup.TTL <= 0 {
		return fmt.Errorf("dedup.ttl must be positive")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
		}
		if c.Metrics.Path == "" || c.Metrics.Path[0] != '/' {
			return fmt.Errorf("metrics.path must start with /")
		}
	}

	if err := c.GatewayConfig().Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := c.IngestConfig().Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := c.QueueConfig().Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if err := c.RecoveryConfig().Validate(); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if err := c.BreakerConfig().Validate(); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}

	for i, binding := range c.Bindings {
		if binding.EventType == "" {
			return fmt.Errorf("bindings[%d]: event_type is required", i)
		}
		if err := binding.Action.Validate(); err != nil {
			return fmt.Errorf("bindings[%d]: %w", i, err)
		}
	}
	return nil
}

// GatewayConfig produces the websocket gateway component config
func (c *Config) GatewayConfig() wsgateway.Config {
	return wsgateway.Config{
		Addr:           c.Gateway.Addr,
		Path:           c.Gateway.Path,
		InitTimeout:    c.Gateway.InitTimeout.Std(),
		WriteTimeout:   c.Gateway.WriteTimeout.Std(),
		PingInterval:   c.Gateway.PingInterval.Std(),
		PongTimeout:    c.Gateway.PongTimeout.Std(),
		SendBuffer:     c.Gateway.SendBuffer,
		MaxMessageSize: c.Gateway.MaxMessageSize,
		Pool: connpool.Config{
			MaxConnections: c.Gateway.Pool.MaxConnections,
			IdleTimeout:    c.Gateway.Pool.IdleTimeout.Std(),
			MaxLifetime:    c.Gateway.Pool.MaxLifetime.Std(),
			SweepInterval:  c.Gateway.Pool.SweepInterval.Std(),
		},
	}
}

// IngestConfig produces the stream consumer component config
func (c *Config) IngestConfig() ingest.Config {
	return ingest.Config{
		Stream:     c.Ingest.Stream,
		Subject:    c.Ingest.Subject,
		Consumer:   c.Ingest.Consumer,
		RetryDelay: c.Ingest.RetryDelay.Std(),
	}
}

// QueueConfig produces the job queue component config
func (c *Config) QueueConfig() jobqueue.Config {
	return jobqueue.Config{
		Workers:          c.Queue.Workers,
		QueueSize:        c.Queue.QueueSize,
		MaxAttempts:      c.Queue.MaxAttempts,
		ExecutionTimeout: c.Queue.ExecutionTimeout.Std(),
		Backoff: jobqueue.BackoffConfig{
			Strategy:     jobqueue.BackoffStrategy(c.Queue.Backoff.Strategy),
			InitialDelay: c.Queue.Backoff.InitialDelay.Std(),
			MaxDelay:     c.Queue.Backoff.MaxDelay.Std(),
			Multiplier:   c.Queue.Backoff.Multiplier,
		},
	}
}

// RecoveryConfig produces the retry strategy component config
func (c *Config) RecoveryConfig() recovery.Config {
	return recovery.Config{
		MaxRetries:     c.Recovery.MaxRetries,
		InitialBackoff: c.Recovery.InitialBackoff.Std(),
		MaxBackoff:     c.Recovery.MaxBackoff.Std(),
		Multiplier:     c.Recovery.Multiplier,
	}
}

// BreakerConfig produces the circuit breaker component config
func (c *Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		Timeout:          c.Breaker.Timeout.Std(),
	}
}

// String returns an indented JSON view of the config. Credentials are not
// redacted; this is for debugging, not logs.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
