package websocket

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/eventgate/protocol"
)

// closeRequest asks the writer to end the connection with a close frame
type closeRequest struct {
	code   int
	reason string
}

// client is one accepted websocket connection. All writes to the socket go
// through the writer goroutine reading from send, which preserves delivery
// order within each subscription's stream.
type client struct {
	id      string
	conn    *websocket.Conn
	machine *protocol.Machine

	send    chan protocol.ServerMessage
	closing chan closeRequest

	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, machine *protocol.Machine, sendBuffer int) *client {
	return &client{
		id:      id,
		conn:    conn,
		machine: machine,
		send:    make(chan protocol.ServerMessage, sendBuffer),
		closing: make(chan closeRequest, 1),
	}
}

// enqueue hands a message to the writer. Reports false when the send buffer
// is full, which means the client is not draining fast enough.
func (c *client) enqueue(msg protocol.ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// requestClose asks the writer to close the socket. The first request wins;
// later ones are dropped.
func (c *client) requestClose(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closing <- closeRequest{code: code, reason: reason}
	})
}

// writeClose sends the close frame. Best effort; the peer may already be gone.
func (c *client) writeClose(code int, reason string, writeTimeout time.Duration) {
	deadline := time.Now().Add(writeTimeout)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

// localSubID strips the connection prefix from a bus subscription id,
// recovering the id the client chose. Subscription ids are only unique per
// connection on the wire, so the gateway namespaces them before they reach
// the bus.
func localSubID(busID string) string {
	if i := strings.IndexByte(busID, '/'); i >= 0 {
		return busID[i+1:]
	}
	return busID
}

// busSubID namespaces a client-chosen subscription id with its connection
func busSubID(connID, subID string) string {
	return connID + "/" + subID
}
