// Package notifications binds websocket sessions to presence and rooms and
// fans events out to them, across instances when a Redis bus is configured.
package notifications

import (
	"encoding/json"
	"fmt"
)

// Outbound event names.
const (
	EventConnected            = "connected"
	EventError                = "error"
	EventMessagesDropped      = "messages_dropped"
	EventGetOnlineUsers       = "getOnlineUsers"
	EventNewMessage           = "newMessage"
	EventRevokeMessage        = "revokeMessage"
	EventDeleteMessage        = "deleteMessage"
	EventReactToMessage       = "reactToMessage"
	EventUnReactToMessage     = "unReactToMessage"
	EventForwardResult        = "forwardResult"
	EventTyping               = "typing"
	EventStopTyping           = "stopTyping"
	EventNewConversation      = "newConversation"
	EventAddMembers           = "addMembers"
	EventRemoveMember         = "removeMember"
	EventDissolveGroup        = "dissolveGroup"
	EventRenameGroup          = "renameGroup"
	EventSetMemberRole        = "setMemberRole"
	EventCall                 = "call"
	EventAcceptCall           = "acceptCall"
	EventRejectCall           = "rejectCall"
	EventEndCall              = "endCall"
	EventCancelCall           = "cancelCall"
	EventSDP                  = "sdp"
	EventICECandidate         = "iceCandidate"
	EventSendRequestContact   = "sendRequestContact"
	EventAcceptRequestContact = "acceptRequestContact"
	EventRejectRequestContact = "rejectRequestContact"
	EventCancelRequestContact = "cancelRequestContact"
	EventUnfriend             = "unfriend"
)

// Envelope is the wire frame in both directions: {"event": name, "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals payload into an envelope frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

var dropNotice = []byte(`{"event":"messages_dropped","data":{"reason":"buffer_full"}}`)
