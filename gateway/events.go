package gateway

import "encoding/json"

// Client-to-server event types.
const (
	eventJoinGuild  = "join:guild"
	eventLeaveGuild = "leave:guild"
	eventPing       = "ping"
)

// Server-to-client event types.
const (
	EventConfigUpdated     = "config:updated"
	EventModuleToggled     = "module:toggled"
	EventGuildReload       = "guild:reload"
	EventPermissionRevoked = "permission:revoked"
	EventCommandExecuted   = "command:executed"
	EventPong              = "pong"
	EventError             = "error"
)

// clientMessage is a frame received from a connected client.
type clientMessage struct {
	Type     string `json:"type"`
	TenantID string `json:"tenantId,omitempty"`
}

// serverMessage is a frame pushed to a connected client.
type serverMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func errorMessage(msg string) serverMessage {
	return serverMessage{
		Type:    EventError,
		Payload: map[string]string{"message": msg},
	}
}

// decodeEnvelope flattens a bus envelope for re-emission. The payload
// stays generic so the gateway never has to track payload shapes beyond
// the tenant routing field.
func decodeEnvelope(payload []byte) (map[string]any, bool) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, false
	}
	return fields, true
}
