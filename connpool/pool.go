// Package connpool tracks live client connections and enforces capacity,
// idle, and lifetime policies over them.
//
// The pool is transport-agnostic bookkeeping: the websocket gateway registers
// a connection after accept, the pool rejects registrations over the capacity
// limit, and a periodic sweep evicts connections that never finished their
// handshake, went idle, or outlived the recycling threshold. Evictions are
// reported through a callback so the owning transport can close the socket;
// the pool never touches sockets itself.
package connpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/eventgate/errors"
	"github.com/c360/eventgate/metric"
	"github.com/c360/eventgate/protocol"
)

// EvictReason says why the sweep removed a connection
type EvictReason int

const (
	// EvictInitTimeout means connection_init never arrived in time
	EvictInitTimeout EvictReason = iota
	// EvictIdle means the connection exceeded the idle timeout
	EvictIdle
	// EvictLifetime means the connection outlived the recycling threshold
	EvictLifetime
)

// String returns the string representation of EvictReason
func (r EvictReason) String() string {
	switch r {
	case EvictInitTimeout:
		return "init_timeout"
	case EvictIdle:
		return "idle"
	case EvictLifetime:
		return "lifetime"
	default:
		return "unknown"
	}
}

// EvictFunc is told about each swept connection so the transport can close
// the underlying socket. Called outside the pool lock.
type EvictFunc func(conn *Connection, reason EvictReason)

// Config defines pool capacity and recycling policy
type Config struct {
	// MaxConnections caps concurrent registrations
	MaxConnections int `json:"max_connections"`

	// IdleTimeout evicts connections with no accepted messages for this long
	IdleTimeout time.Duration `json:"idle_timeout"`

	// MaxLifetime recycles connections older than this regardless of activity
	MaxLifetime time.Duration `json:"max_lifetime"`

	// SweepInterval is how often the background sweep runs
	SweepInterval time.Duration `json:"sweep_interval"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		MaxConnections: 10000,
		IdleTimeout:    5 * time.Minute,
		MaxLifetime:    24 * time.Hour,
		SweepInterval:  30 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.MaxConnections <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "connpool", "Validate",
			fmt.Sprintf("max_connections must be positive, got %d", c.MaxConnections))
	}
	if c.IdleTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "connpool", "Validate",
			fmt.Sprintf("idle_timeout must be positive, got %v", c.IdleTimeout))
	}
	if c.MaxLifetime <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "connpool", "Validate",
			fmt.Sprintf("max_lifetime must be positive, got %v", c.MaxLifetime))
	}
	if c.SweepInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "connpool", "Validate",
			fmt.Sprintf("sweep_interval must be positive, got %v", c.SweepInterval))
	}
	return nil
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Active       int   `json:"active"`
	Idle         int   `json:"idle"`
	TotalCreated int64 `json:"total_created"`
	TotalErrors  int64 `json:"total_errors"`
	TotalEvicted int64 `json:"total_evicted"`

	// TotalMessages sums the usage counters of live connections
	TotalMessages int64 `json:"total_messages"`
}

// Pool tracks registered connections and sweeps out expired ones
type Pool struct {
	config  Config
	onEvict EvictFunc
	logger  *slog.Logger
	metrics *metric.Metrics // optional, nil disables gauges

	mu           sync.RWMutex
	conns        map[string]*Connection
	totalCreated int64
	totalErrors  int64
	totalEvicted int64

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}

	// now is replaceable for deterministic tests
	now func() time.Time
}

// Option configures a Pool
type Option func(*Pool)

// WithEvictFunc sets the eviction callback
func WithEvictFunc(fn EvictFunc) Option {
	return func(p *Pool) {
		p.onEvict = fn
	}
}

// WithLogger sets the logger; defaults to slog.Default
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithMetrics enables the active-connections gauge
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// New creates a pool with the given policy
func New(config Config, opts ...Option) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		config: config,
		conns:  make(map[string]*Connection),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Register adds a connection. Fails with a capacity error when the pool is
// at max_connections.
func (p *Pool) Register(conn *Connection) error {
	p.mu.Lock()

	if len(p.conns) >= p.config.MaxConnections {
		p.totalErrors++
		p.mu.Unlock()
		return errors.WrapTransient(errors.ErrPoolExhausted, "Pool", "Register",
			fmt.Sprintf("pool at capacity (%d connections)", p.config.MaxConnections))
	}
	if _, exists := p.conns[conn.ID]; exists {
		p.totalErrors++
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrInvalidData, "Pool", "Register",
			fmt.Sprintf("connection %s already registered", conn.ID))
	}

	p.conns[conn.ID] = conn
	p.totalCreated++
	active := len(p.conns)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordConnections(active)
	}
	p.logger.Debug("connection registered",
		"connection_id", conn.ID,
		"active", active)
	return nil
}

// Get returns the connection with the given id
func (p *Pool) Get(id string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.conns[id]
	return conn, ok
}

// Remove deletes the connection and finishes its protocol shutdown, which
// unregisters every subscription it owned. Removing an unknown id is a
// no-op.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	conn, ok := p.conns[id]
	if ok {
		delete(p.conns, id)
	}
	active := len(p.conns)
	p.mu.Unlock()

	if !ok {
		return
	}

	conn.Machine.FinishShutdown()
	if p.metrics != nil {
		p.metrics.RecordConnections(active)
	}
	p.logger.Debug("connection removed",
		"connection_id", id,
		"active", active)
}

// Sweep evicts init-timeout, idle, and over-lifetime connections. A
// connection still waiting for its handshake is only removed once its init
// deadline passes. Returns the number evicted.
func (p *Pool) Sweep() int {
	now := p.now()

	type eviction struct {
		conn   *Connection
		reason EvictReason
	}
	var evicted []eviction

	p.mu.Lock()
	for id, conn := range p.conns {
		switch {
		case conn.Machine.State() == protocol.StateWaiting:
			if r := conn.Machine.CheckInitDeadline(); r != nil {
				delete(p.conns, id)
				evicted = append(evicted, eviction{conn, EvictInitTimeout})
			}
		case conn.Expired(now, p.config.MaxLifetime):
			delete(p.conns, id)
			evicted = append(evicted, eviction{conn, EvictLifetime})
		case conn.Idle(now, p.config.IdleTimeout):
			delete(p.conns, id)
			evicted = append(evicted, eviction{conn, EvictIdle})
		}
	}
	p.totalEvicted += int64(len(evicted))
	active := len(p.conns)
	p.mu.Unlock()

	for _, e := range evicted {
		e.conn.Machine.FinishShutdown()
		p.logger.Info("connection evicted",
			"connection_id", e.conn.ID,
			"reason", e.reason.String())
		if p.onEvict != nil {
			p.onEvict(e.conn, e.reason)
		}
	}

	if len(evicted) > 0 && p.metrics != nil {
		p.metrics.RecordConnections(active)
	}
	return len(evicted)
}

// Start launches the background sweep. Safe to call once.
func (p *Pool) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.cancel != nil {
		return errors.Wrap(errors.ErrAlreadyStarted, "Pool", "Start",
			"sweep already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Sweep()
			}
		}
	}()
	return nil
}

// Stop halts the background sweep. Registered connections are left intact;
// closing them is the transport's job during shutdown.
func (p *Pool) Stop() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.cancel == nil {
		return errors.Wrap(errors.ErrNotStarted, "Pool", "Stop",
			"sweep not running")
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
	return nil
}

// ActiveIDs returns the ids of all registered connections
func (p *Pool) ActiveIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns a point-in-time view. A connection counts as idle once it
// has been quiet for half the idle timeout.
func (p *Pool) Stats() Stats {
	now := p.now()

	p.mu.RLock()
	defer p.mu.RUnlock()

	idle := 0
	var messages int64
	for _, conn := range p.conns {
		if conn.Idle(now, p.config.IdleTimeout/2) {
			idle++
		}
		messages += conn.UseCount()
	}
	return Stats{
		Active:        len(p.conns),
		Idle:          idle,
		TotalCreated:  p.totalCreated,
		TotalErrors:   p.totalErrors,
		TotalEvicted:  p.totalEvicted,
		TotalMessages: messages,
	}
}
