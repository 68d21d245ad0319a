package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/c360/eventgate/errors"
)

// Client-to-server message types (graphql-transport-ws)
const (
	MsgConnectionInit = "connection_init"
	MsgSubscribe      = "subscribe"
	MsgComplete       = "complete"
	MsgPing           = "ping"
	MsgPong           = "pong"
)

// Server-to-client message types
const (
	MsgConnectionAck = "connection_ack"
	MsgNext          = "next"
	MsgError         = "error"
)

// WebSocket close codes defined by the protocol
const (
	CloseNormal              = 1000
	CloseProtocolError       = 1002
	CloseInternalError       = 1011
	CloseBadRequest          = 4400
	CloseUnauthorized        = 4401
	CloseInitTimeout         = 4408
	CloseSubscriberExists    = 4409
	CloseTooManyInitRequests = 4429
)

// CloseReason returns the standard reason text for a close code
func CloseReason(code int) string {
	switch code {
	case CloseNormal:
		return "Normal closure"
	case CloseProtocolError:
		return "Protocol error"
	case CloseInternalError:
		return "Internal server error"
	case CloseBadRequest:
		return "Bad request"
	case CloseUnauthorized:
		return "Unauthorized"
	case CloseInitTimeout:
		return "Connection initialisation timeout"
	case CloseSubscriberExists:
		return "Subscriber already exists"
	case CloseTooManyInitRequests:
		return "Too many initialisation requests"
	default:
		return "Unknown"
	}
}

// ClientMessage is any inbound wire message. ID and Payload are present
// depending on the type.
type ClientMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseClientMessage decodes an inbound frame and checks the type is known
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, errors.WrapInvalid(err, "protocol", "ParseClientMessage",
			"malformed message frame")
	}

	switch msg.Type {
	case MsgConnectionInit, MsgSubscribe, MsgComplete, MsgPing, MsgPong:
		return msg, nil
	case "":
		return ClientMessage{}, errors.WrapInvalid(errors.ErrProtocolViolation,
			"protocol", "ParseClientMessage", "message has no type")
	default:
		return ClientMessage{}, errors.WrapInvalid(errors.ErrProtocolViolation,
			"protocol", "ParseClientMessage",
			fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// SubscribePayload carries the operation of a subscribe message
type SubscribePayload struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName,omitempty"`
	Variables     json.RawMessage `json:"variables,omitempty"`
}

// SubscribePayloadFrom decodes and validates a subscribe message payload
func (m ClientMessage) SubscribePayloadFrom() (SubscribePayload, error) {
	var payload SubscribePayload
	if len(m.Payload) == 0 {
		return payload, errors.WrapInvalid(errors.ErrProtocolViolation,
			"protocol", "SubscribePayloadFrom", "subscribe message has no payload")
	}
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return payload, errors.WrapInvalid(err, "protocol", "SubscribePayloadFrom",
			"malformed subscribe payload")
	}
	if payload.Query == "" {
		return payload, errors.WrapInvalid(errors.ErrProtocolViolation,
			"protocol", "SubscribePayloadFrom", "subscribe payload has no query")
	}
	return payload, nil
}

// ServerMessage is any outbound wire message
type ServerMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal encodes the message for the wire
func (m ServerMessage) Marshal() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WrapInvalid(err, "protocol", "Marshal",
			fmt.Sprintf("failed to encode %s message", m.Type))
	}
	return raw, nil
}

// Ack builds a connection_ack message
func Ack() ServerMessage {
	return ServerMessage{Type: MsgConnectionAck}
}

// Pong builds a pong, echoing any ping payload
func Pong(payload json.RawMessage) ServerMessage {
	return ServerMessage{Type: MsgPong, Payload: payload}
}

// Next builds a data delivery message for one subscription
func Next(subID string, payload json.RawMessage) ServerMessage {
	return ServerMessage{Type: MsgNext, ID: subID, Payload: payload}
}

// ErrorMsg builds a subscription-scoped error message. The payload is a list
// of GraphQL-style error objects.
func ErrorMsg(subID, message string) ServerMessage {
	payload, _ := json.Marshal([]map[string]string{{"message": message}})
	return ServerMessage{Type: MsgError, ID: subID, Payload: payload}
}

// Complete builds a server-side completion notice for one subscription
func Complete(subID string) ServerMessage {
	return ServerMessage{Type: MsgComplete, ID: subID}
}
