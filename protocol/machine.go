// Package protocol implements the graphql-transport-ws subscription protocol:
// the wire message types, the per-connection handshake state machine, and
// topic extraction from subscription documents.
//
// Each connection owns one Machine. The machine validates message ordering
// (nothing before connection_init, no duplicate init, no duplicate
// subscription ids), tracks the subscription ids registered on the
// connection, and tells the transport what to write back or which close code
// to end the socket with. It performs no I/O itself.
package protocol

import (
	"fmt"
	"sync"
	"time"
)

// State is the connection handshake state
type State int

const (
	// StateWaiting means the connection is open but connection_init has not arrived
	StateWaiting State = iota
	// StateConnected means the handshake completed and subscriptions are allowed
	StateConnected
	// StateClosing means shutdown has started; no new work is accepted
	StateClosing
	// StateClosed is terminal
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives subscription lifecycle callbacks from the machine.
// Callbacks run on the goroutine that called HandleMessage.
type Handler interface {
	// OnSubscribe registers a subscription. A returned error is reported to
	// the client as a subscription-scoped error message, not a close.
	OnSubscribe(connID, subID string, payload SubscribePayload) error

	// OnComplete removes a subscription, either client-requested or as part
	// of connection teardown
	OnComplete(connID, subID string)
}

// Result tells the transport how to react to an inbound message. When
// CloseCode is non-zero the transport must close the socket with that code
// after writing any replies.
type Result struct {
	Replies     []ServerMessage
	CloseCode   int
	CloseReason string
}

func closeWith(code int) Result {
	return Result{CloseCode: code, CloseReason: CloseReason(code)}
}

// Machine is the per-connection protocol state machine
type Machine struct {
	connID  string
	handler Handler

	mu           sync.Mutex
	state        State
	subs         map[string]struct{}
	initDeadline time.Time
	lastActivity time.Time

	// now is replaceable for deterministic tests
	now func() time.Time
}

// MachineOption configures a Machine
type MachineOption func(*Machine)

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		m.now = now
	}
}

// NewMachine creates a machine in the waiting state. The connection must
// complete connection_init within initTimeout or CheckInitDeadline will
// close it.
func NewMachine(connID string, initTimeout time.Duration, handler Handler, opts ...MachineOption) *Machine {
	m := &Machine{
		connID:  connID,
		handler: handler,
		state:   StateWaiting,
		subs:    make(map[string]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initDeadline = m.now().Add(initTimeout)
	m.lastActivity = m.now()
	return m
}

// HandleMessage processes one inbound frame and returns the transport
// reaction. Accepted messages refresh the activity timestamp.
func (m *Machine) HandleMessage(raw []byte) Result {
	msg, err := ParseClientMessage(raw)
	if err != nil {
		return closeWith(CloseBadRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosing, StateClosed:
		// Late frames during teardown are dropped, not errors
		return Result{}
	case StateWaiting:
		if msg.Type != MsgConnectionInit {
			return closeWith(CloseUnauthorized)
		}
		m.state = StateConnected
		m.lastActivity = m.now()
		return Result{Replies: []ServerMessage{Ack()}}
	case StateConnected:
		return m.handleConnected(msg)
	default:
		return closeWith(CloseInternalError)
	}
}

// handleConnected dispatches post-handshake messages. Caller must hold mu.
func (m *Machine) handleConnected(msg ClientMessage) Result {
	switch msg.Type {
	case MsgConnectionInit:
		return closeWith(CloseTooManyInitRequests)

	case MsgSubscribe:
		if msg.ID == "" {
			return closeWith(CloseBadRequest)
		}
		if _, exists := m.subs[msg.ID]; exists {
			return closeWith(CloseSubscriberExists)
		}
		m.lastActivity = m.now()

		payload, err := msg.SubscribePayloadFrom()
		if err != nil {
			return Result{Replies: []ServerMessage{
				ErrorMsg(msg.ID, fmt.Sprintf("invalid subscribe payload: %v", err)),
			}}
		}
		if err := m.handler.OnSubscribe(m.connID, msg.ID, payload); err != nil {
			return Result{Replies: []ServerMessage{
				ErrorMsg(msg.ID, fmt.Sprintf("subscription failed: %v", err)),
			}}
		}
		m.subs[msg.ID] = struct{}{}
		return Result{}

	case MsgComplete:
		m.lastActivity = m.now()
		if _, exists := m.subs[msg.ID]; exists {
			delete(m.subs, msg.ID)
			m.handler.OnComplete(m.connID, msg.ID)
		}
		// Completing an unknown id is tolerated; the client may race a
		// server-side completion
		return Result{}

	case MsgPing:
		m.lastActivity = m.now()
		return Result{Replies: []ServerMessage{Pong(msg.Payload)}}

	case MsgPong:
		m.lastActivity = m.now()
		return Result{}

	default:
		return closeWith(CloseBadRequest)
	}
}

// CheckInitDeadline closes a connection that never completed its handshake.
// Returns the close result, or nil if the connection is fine.
func (m *Machine) CheckInitDeadline() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateWaiting || m.now().Before(m.initDeadline) {
		return nil
	}
	m.state = StateClosed
	r := closeWith(CloseInitTimeout)
	return &r
}

// StartShutdown moves the connection to closing. Idempotent; has no effect
// on a closed connection.
func (m *Machine) StartShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateClosed {
		m.state = StateClosing
	}
}

// FinishShutdown closes the connection and unregisters every subscription it
// still owns
func (m *Machine) FinishShutdown() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	subs := make([]string, 0, len(m.subs))
	for id := range m.subs {
		subs = append(subs, id)
	}
	m.subs = make(map[string]struct{})
	m.mu.Unlock()

	// Callbacks outside the lock; the handler may call back into the bus
	for _, id := range subs {
		m.handler.OnComplete(m.connID, id)
	}
}

// IsAlive is false only once the connection is closed
func (m *Machine) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateClosed
}

// State returns the current handshake state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastActivity returns when the last accepted message arrived
func (m *Machine) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// SubscriptionCount returns the number of live subscriptions on this connection
func (m *Machine) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
