package connpool

import (
	"sync/atomic"
	"time"

	"github.com/c360/eventgate/protocol"
)

// Connection is the pool's bookkeeping record for one client connection.
// The pool owns these records; other components refer to connections by id
// and never hold the record across operations.
type Connection struct {
	// ID is unique for the life of the process
	ID string

	// UserID and TenantID identify the owning principal, both optional
	UserID   string
	TenantID string

	// CreatedAt is when the connection was registered
	CreatedAt time.Time

	// Machine is the connection's protocol state machine
	Machine *protocol.Machine

	// usage counts accepted client messages over the connection's lifetime
	usage atomic.Int64

	// unhealthy flags the connection for the transport to close; the record
	// stays in the pool until Remove
	unhealthy atomic.Bool
}

// RecordUse counts one accepted client message
func (c *Connection) RecordUse() {
	c.usage.Add(1)
}

// UseCount returns how many client messages the connection has accepted
func (c *Connection) UseCount() int64 {
	return c.usage.Load()
}

// MarkUnhealthy flags the connection for closure by the owning transport
func (c *Connection) MarkUnhealthy() {
	c.unhealthy.Store(true)
}

// Unhealthy reports whether the connection has been flagged for closure
func (c *Connection) Unhealthy() bool {
	return c.unhealthy.Load()
}

// Idle reports whether the connection has seen no activity for longer than
// the given timeout
func (c *Connection) Idle(now time.Time, timeout time.Duration) bool {
	return now.Sub(c.Machine.LastActivity()) > timeout
}

// Expired reports whether the connection has outlived the maximum lifetime
func (c *Connection) Expired(now time.Time, maxLifetime time.Duration) bool {
	return now.Sub(c.CreatedAt) > maxLifetime
}
