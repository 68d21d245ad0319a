package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/eventgate/errors"
)

// ConnectionStatus is the client's view of the NATS connection
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("connection circuit breaker is open")
)

// Status is a point-in-time snapshot for health reporting
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Reconnects      int32
	RTT             time.Duration
}

// Client manages one NATS connection plus the JetStream assets created
// through it. Repeated connection failures open an internal circuit that
// fails operations fast until a backoff window passes; the server-side
// reconnect loop is left to the NATS client itself.
type Client struct {
	url    string
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	// Durable consumers started through ProcessStream, stopped on Close
	consumers   map[string]jetstream.ConsumeContext
	consumersMu sync.Mutex

	status     atomic.Value // ConnectionStatus
	failures   atomic.Int32 // total since last successful operation
	reconnects atomic.Int32
	lastFail   atomic.Value // time.Time

	// Circuit breaker over connection-level failures
	circuitFailures  atomic.Int32
	circuitThreshold int32
	backoff          atomic.Value // time.Duration, doubles while the circuit stays open
	maxBackoff       time.Duration

	// Dial configuration
	name          string
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	username      string
	password      string
	token         string

	// JetStream metrics polling, enabled by WithMetrics
	jsMetrics       *streamMetrics
	metricsCancel   context.CancelFunc
	metricsInterval time.Duration

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient builds an unconnected client for the given server URL
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		metricsInterval:  30 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFail.Store(time.Time{})
	return c, nil
}

// URL returns the configured server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return c.status.Load().(ConnectionStatus)
}

// IsHealthy reports whether the connection is established
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// GetStatus snapshots connection state, failure history, and RTT
func (c *Client) GetStatus() *Status {
	s := &Status{
		Status:          c.Status(),
		FailureCount:    c.failures.Load(),
		LastFailureTime: c.lastFail.Load().(time.Time),
		Reconnects:      c.reconnects.Load(),
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			s.RTT = rtt
		}
	}
	return s
}

// Connect dials the server and initializes JetStream. With the circuit open
// it fails fast; otherwise a dial failure counts toward opening it.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "context already done")
	}

	c.status.Store(StatusConnecting)
	c.logger.Info("connecting to NATS", "url", c.url)

	conn, err := nats.Connect(c.url, c.dialOptions()...)
	if err != nil {
		c.recordFailure()
		if c.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		c.status.Store(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "dial failed")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.recordFailure()
		c.status.Store(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "jetstream init failed")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.status.Store(StatusConnected)
	c.resetCircuit()

	if c.jsMetrics != nil && c.metricsInterval > 0 {
		c.metricsCancel = c.jsMetrics.startPoller(context.Background(), c.metricsInterval)
	}
	return nil
}

// WaitForConnection polls until the connection is healthy or the context ends
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection",
				"connection not ready in time")
		case <-ticker.C:
			if c.IsHealthy() {
				return nil
			}
		}
	}
}

// Close stops consumers and metric polling, then drains the connection.
// The drain is bounded by the configured drain timeout or the context's
// deadline, whichever is shorter. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if c.metricsCancel != nil {
		c.metricsCancel()
	}

	c.consumersMu.Lock()
	for name, cc := range c.consumers {
		cc.Stop()
		c.logger.Debug("stopped stream consumer", "consumer", name)
	}
	c.consumers = nil
	c.consumersMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	var drainErr error
	if conn != nil {
		limit := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < limit {
				limit = remaining
			}
		}

		done := make(chan error, 1)
		go func() { done <- conn.Drain() }()
		select {
		case err := <-done:
			if err != nil {
				drainErr = errors.Wrap(err, "Client", "Close", "drain failed")
			}
		case <-time.After(limit):
			drainErr = errors.WrapTransient(
				fmt.Errorf("drain did not finish within %v", limit),
				"Client", "Close", "drain timeout")
		}
		conn.Close()
	}

	c.username = ""
	c.password = ""
	c.token = ""
	c.status.Store(StatusDisconnected)
	return drainErr
}

// dialOptions translates client configuration into NATS connect options
func (c *Client) dialOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(StatusReconnecting)
			c.logger.Warn("NATS connection lost, reconnecting", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.reconnects.Add(1)
			c.status.Store(StatusConnected)
			c.resetCircuit()
			c.logger.Info("NATS connection restored")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.status.Store(StatusDisconnected)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			// Subscription-level errors are not connection failures
			c.logger.Error("NATS async error", "error", err)
		}),
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	return opts
}

// recordFailure counts a failed operation and opens the circuit once the
// threshold is reached. While open, the backoff doubles up to its cap and a
// timer moves the circuit back to disconnected so the next attempt can probe.
func (c *Client) recordFailure() {
	c.failures.Add(1)
	c.lastFail.Store(time.Now())

	if c.circuitFailures.Add(1) < c.circuitThreshold {
		return
	}
	c.circuitFailures.Store(0)

	wait := c.backoff.Load().(time.Duration)
	next := wait * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	c.backoff.Store(next)

	if c.Status() != StatusCircuitOpen {
		c.status.Store(StatusCircuitOpen)
		c.logger.Warn("connection circuit opened",
			"threshold", c.circuitThreshold,
			"retry_in", wait)
		time.AfterFunc(wait, func() {
			if c.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
				c.logger.Info("connection circuit ready for probe")
			}
		})
	}
}

// resetCircuit clears failure history after a successful operation
func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(time.Second)
	c.lastFail.Store(time.Time{})
}

// checkReady gates JetStream operations on connection and circuit state
func (c *Client) checkReady() (jetstream.JetStream, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return nil, ErrNotConnected
	}
	return js, nil
}

// CreateStream creates (or updates to match) a JetStream stream
func (c *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.checkReady()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateStream(ctx, cfg)
	if err != nil {
		c.recordFailure()
		c.jsMetrics.recordError("create_stream")
		return nil, errors.WrapTransient(err, "Client", "CreateStream",
			fmt.Sprintf("failed to create stream %s", cfg.Name))
	}

	c.resetCircuit()
	c.jsMetrics.trackStream(cfg.Name, stream)
	return stream, nil
}

// PublishToStream publishes data to a stream subject with an ack round trip
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := c.checkReady()
	if err != nil {
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishToStream",
			fmt.Sprintf("publish to %s failed", subject))
	}
	c.resetCircuit()
	return nil
}

// ProcessStream starts a durable consumer whose handler controls
// acknowledgement: a nil handler result acks the message, an error naks it
// with retryDelay so JetStream redelivers it later. Restarting a consumer
// with the same durable name resumes from the last acknowledged message.
func (c *Client) ProcessStream(ctx context.Context, streamName, durable, subject string, retryDelay time.Duration, handler func(context.Context, []byte) error) error {
	js, err := c.checkReady()
	if err != nil {
		return err
	}
	if c.closed.Load() {
		return errors.WrapInvalid(fmt.Errorf("client is closed"),
			"Client", "ProcessStream", "consumer rejected")
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		c.recordFailure()
		c.jsMetrics.recordError("create_consumer")
		return errors.WrapTransient(err, "Client", "ProcessStream",
			fmt.Sprintf("failed to create consumer %s on %s", durable, streamName))
	}
	c.jsMetrics.trackConsumer(streamName, durable, consumer)

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if handlerErr := handler(ctx, msg.Data()); handlerErr != nil {
			if nakErr := msg.NakWithDelay(retryDelay); nakErr != nil {
				c.logger.Error("nak failed", "subject", msg.Subject(), "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Error("ack failed", "subject", msg.Subject(), "error", ackErr)
		}
	})
	if err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "ProcessStream",
			fmt.Sprintf("failed to start consumer %s", durable))
	}

	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()
	if c.closed.Load() {
		cc.Stop()
		return errors.WrapInvalid(fmt.Errorf("client is closing"),
			"Client", "ProcessStream", "consumer rejected")
	}
	if c.consumers == nil {
		c.consumers = make(map[string]jetstream.ConsumeContext)
	}
	key := streamName + ":" + durable
	if existing, ok := c.consumers[key]; ok {
		existing.Stop()
	}
	c.consumers[key] = cc

	c.resetCircuit()
	return nil
}

// CreateKeyValueBucket binds to the named KV bucket, creating it if needed.
// Concurrent instances racing to create the same bucket all end up bound to
// it.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.checkReady()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.resetCircuit()
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if isBucketExistsError(err) {
			// Lost the creation race; the bucket is there now
			bucket, err = js.KeyValue(ctx, cfg.Bucket)
			if err == nil {
				c.resetCircuit()
				return bucket, nil
			}
		}
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
			fmt.Sprintf("failed to create bucket %s", cfg.Bucket))
	}

	c.resetCircuit()
	return bucket, nil
}

// isBucketExistsError detects the server's already-exists responses
func isBucketExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "bucket name already in use") ||
		strings.Contains(msg, "stream name already in use") ||
		strings.Contains(msg, "already exists")
}
