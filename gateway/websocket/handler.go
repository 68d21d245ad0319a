package websocket

import (
	"encoding/json"

	"github.com/c360/eventgate/eventbus"
	"github.com/c360/eventgate/protocol"
)

// busHandler adapts the protocol machine's subscription callbacks onto the
// event bus. The topic comes from the subscription document's root field and
// the optional channel filter from the operation variables.
type busHandler struct {
	bus *eventbus.Bus
}

func (h *busHandler) OnSubscribe(connID, subID string, payload protocol.SubscribePayload) error {
	topic, err := protocol.ExtractTopic(payload.Query)
	if err != nil {
		return err
	}
	return h.bus.Subscribe(eventbus.Subscription{
		ID:      busSubID(connID, subID),
		ConnID:  connID,
		Topic:   topic,
		Channel: channelVariable(payload.Variables),
	})
}

func (h *busHandler) OnComplete(connID, subID string) {
	h.bus.Unsubscribe(busSubID(connID, subID))
}

// channelVariable reads the channel filter from subscription variables.
// Absent or malformed variables mean no filter.
func channelVariable(variables json.RawMessage) string {
	if len(variables) == 0 {
		return ""
	}
	var vars struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(variables, &vars); err != nil {
		return ""
	}
	return vars.Channel
}
