// Package websocket serves the subscription protocol over websocket
// connections.
//
// The gateway upgrades HTTP requests, runs one protocol state machine per
// connection, and registers every connection with the pool that enforces
// capacity, handshake, idle, and lifetime policies. Each connection gets a
// reader goroutine feeding the machine and a single writer goroutine that
// owns the socket for output, so messages for a subscription always leave in
// the order the bus delivered them. The gateway is the bus's Sender.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/eventgate/connpool"
	"github.com/c360/eventgate/errors"
	"github.com/c360/eventgate/eventbus"
	"github.com/c360/eventgate/metric"
	"github.com/c360/eventgate/protocol"
)

// Config defines the server endpoint and per-connection limits
type Config struct {
	// Addr is the listen address, host:port
	Addr string `json:"addr"`

	// Path is the websocket endpoint path
	Path string `json:"path"`

	// InitTimeout bounds the wait for connection_init after accept
	InitTimeout time.Duration `json:"init_timeout"`

	// WriteTimeout bounds each socket write
	WriteTimeout time.Duration `json:"write_timeout"`

	// PingInterval paces websocket-level keepalive pings
	PingInterval time.Duration `json:"ping_interval"`

	// PongTimeout is how long a connection may go without any inbound
	// traffic, including pong replies, before the read fails
	PongTimeout time.Duration `json:"pong_timeout"`

	// SendBuffer is the per-connection outbound queue size; a client that
	// falls this far behind is closed
	SendBuffer int `json:"send_buffer"`

	// MaxMessageSize caps inbound frame size in bytes
	MaxMessageSize int64 `json:"max_message_size"`

	// Pool is the connection pool policy
	Pool connpool.Config `json:"pool"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		Path:           "/graphql",
		InitTimeout:    3 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   25 * time.Second,
		PongTimeout:    60 * time.Second,
		SendBuffer:     64,
		MaxMessageSize: 1 << 20,
		Pool:           connpool.DefaultConfig(),
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "gateway", "Validate",
			"listen address is required")
	}
	if c.Path == "" || c.Path[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "gateway", "Validate",
			fmt.Sprintf("path must start with /, got %q", c.Path))
	}
	if c.InitTimeout <= 0 || c.WriteTimeout <= 0 || c.PingInterval <= 0 || c.PongTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "gateway", "Validate",
			"timeouts must be positive")
	}
	if c.PingInterval >= c.PongTimeout {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "gateway", "Validate",
			fmt.Sprintf("ping_interval %v must be below pong_timeout %v",
				c.PingInterval, c.PongTimeout))
	}
	if c.SendBuffer <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "gateway", "Validate",
			fmt.Sprintf("send_buffer must be positive, got %d", c.SendBuffer))
	}
	if c.MaxMessageSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "gateway", "Validate",
			fmt.Sprintf("max_message_size must be positive, got %d", c.MaxMessageSize))
	}
	return c.Pool.Validate()
}

// Gateway is the websocket transport. It owns the connection pool and
// implements eventbus.Sender.
type Gateway struct {
	config  Config
	bus     *eventbus.Bus
	pool    *connpool.Pool
	logger  *slog.Logger
	metrics *metric.Metrics // optional, nil disables gauges

	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	lifecycleMu sync.Mutex
	running     bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// Option configures a Gateway
type Option func(*Gateway)

// WithLogger sets the logger; defaults to slog.Default
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics enables connection gauges on the pool
func WithMetrics(m *metric.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New creates a gateway serving subscriptions from the bus
func New(config Config, bus *eventbus.Bus, opts ...Option) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if bus == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "New",
			"event bus is required")
	}

	g := &Gateway{
		config:  config,
		bus:     bus,
		logger:  slog.Default(),
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Origin enforcement belongs to the fronting proxy
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(g)
	}

	poolOpts := []connpool.Option{
		connpool.WithEvictFunc(g.onEvict),
		connpool.WithLogger(g.logger),
	}
	if g.metrics != nil {
		poolOpts = append(poolOpts, connpool.WithMetrics(g.metrics))
	}
	pool, err := connpool.New(config.Pool, poolOpts...)
	if err != nil {
		return nil, err
	}
	g.pool = pool
	return g, nil
}

// Pool exposes the connection pool for stats and health reporting
func (g *Gateway) Pool() *connpool.Pool {
	return g.pool
}

// Start begins listening and launches the pool sweep
func (g *Gateway) Start(ctx context.Context) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if g.running {
		return errors.Wrap(errors.ErrAlreadyStarted, "Gateway", "Start",
			"gateway already running")
	}

	g.shutdown = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(g.config.Path, g.handleUpgrade)
	g.server = &http.Server{
		Addr:    g.config.Addr,
		Handler: mux,
	}

	if err := g.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Gateway", "Start", "failed to start pool sweep")
	}

	g.wg.Add(1)
	go g.runServer()

	g.running = true
	g.logger.Info("websocket gateway started",
		"addr", g.config.Addr,
		"path", g.config.Path)
	return nil
}

// runServer blocks in ListenAndServe until shutdown
func (g *Gateway) runServer() {
	defer g.wg.Done()
	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		g.logger.Error("gateway server failed", "error", err)
	}
}

// Stop closes the listener, tells every client the server is going away, and
// waits for connection goroutines to drain
func (g *Gateway) Stop(timeout time.Duration) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if !g.running {
		return errors.Wrap(errors.ErrNotStarted, "Gateway", "Stop",
			"gateway not running")
	}
	g.running = false

	close(g.shutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := g.server.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("gateway listener shutdown", "error", err)
	}

	if err := g.pool.Stop(); err != nil {
		g.logger.Warn("pool sweep stop", "error", err)
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		g.logger.Warn("gateway goroutines did not exit within timeout")
	}
	return nil
}

// Deliver sends a bus message to one connection. A missing or closing
// connection is a no-op. A connection whose send buffer is full gets closed;
// dropping it is better than stalling every other subscriber behind it.
func (g *Gateway) Deliver(connID string, msg protocol.ServerMessage) bool {
	g.mu.RLock()
	c, ok := g.clients[connID]
	g.mu.RUnlock()
	if !ok {
		return false
	}

	msg.ID = localSubID(msg.ID)
	if !c.enqueue(msg) {
		if record, found := g.pool.Get(connID); found {
			record.MarkUnhealthy()
		}
		g.logger.Warn("closing slow client",
			"connection_id", connID,
			"buffer", g.config.SendBuffer)
		c.requestClose(protocol.CloseInternalError, "send buffer overflow")
		return false
	}
	return true
}

// handleUpgrade accepts one websocket connection and starts its goroutines
func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("upgrade rejected", "error", err, "remote", r.RemoteAddr)
		return
	}

	id := uuid.New().String()
	machine := protocol.NewMachine(id, g.config.InitTimeout, &busHandler{bus: g.bus})

	record := &connpool.Connection{
		ID: id,
		// Populated by the fronting auth proxy when present
		UserID:    r.Header.Get("X-User-Id"),
		TenantID:  r.Header.Get("X-Tenant-Id"),
		CreatedAt: time.Now(),
		Machine:   machine,
	}
	if err := g.pool.Register(record); err != nil {
		g.logger.Warn("connection rejected", "error", err, "remote", r.RemoteAddr)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection limit reached")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(g.config.WriteTimeout))
		_ = conn.Close()
		return
	}

	c := newClient(id, conn, machine, g.config.SendBuffer)
	g.mu.Lock()
	g.clients[id] = c
	g.mu.Unlock()

	g.wg.Add(2)
	go g.readLoop(c)
	go g.writeLoop(c)
}

// readLoop feeds inbound frames to the protocol machine
func (g *Gateway) readLoop(c *client) {
	defer g.wg.Done()

	c.conn.SetReadLimit(g.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(g.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(g.config.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// Peer hung up or the writer closed the socket under us
			c.requestClose(protocol.CloseNormal, protocol.CloseReason(protocol.CloseNormal))
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(g.config.PongTimeout))

		if record, ok := g.pool.Get(c.id); ok {
			record.RecordUse()
		}

		res := c.machine.HandleMessage(data)
		for _, reply := range res.Replies {
			if !c.enqueue(reply) {
				c.requestClose(protocol.CloseInternalError, "send buffer overflow")
				return
			}
		}
		if res.CloseCode != 0 {
			c.requestClose(res.CloseCode, res.CloseReason)
			return
		}
	}
}

// writeLoop owns all socket writes: subscription data, keepalive pings, and
// the final close frame
func (g *Gateway) writeLoop(c *client) {
	defer g.wg.Done()
	defer g.teardown(c)

	pings := time.NewTicker(g.config.PingInterval)
	defer pings.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				g.logger.Debug("write failed", "connection_id", c.id, "error", err)
				return
			}

		case <-pings.C:
			deadline := time.Now().Add(g.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}

		case req := <-c.closing:
			c.writeClose(req.code, req.reason, g.config.WriteTimeout)
			return

		case <-g.shutdown:
			c.machine.StartShutdown()
			c.writeClose(protocol.CloseNormal, "server shutting down", g.config.WriteTimeout)
			return
		}
	}
}

// teardown closes the socket and unregisters the connection everywhere.
// Removing it from the pool finishes the protocol shutdown, which
// unsubscribes the connection from the bus.
func (g *Gateway) teardown(c *client) {
	_ = c.conn.Close()

	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()

	g.pool.Remove(c.id)
}

// onEvict is the pool's callback for swept connections. The pool has already
// finished the protocol shutdown; the gateway just closes the socket with the
// right code.
func (g *Gateway) onEvict(conn *connpool.Connection, reason connpool.EvictReason) {
	g.mu.RLock()
	c, ok := g.clients[conn.ID]
	g.mu.RUnlock()
	if !ok {
		return
	}

	switch reason {
	case connpool.EvictInitTimeout:
		c.requestClose(protocol.CloseInitTimeout, protocol.CloseReason(protocol.CloseInitTimeout))
	case connpool.EvictIdle:
		c.requestClose(protocol.CloseNormal, "idle timeout exceeded")
	case connpool.EvictLifetime:
		c.requestClose(protocol.CloseNormal, "connection lifetime exceeded")
	}
}
