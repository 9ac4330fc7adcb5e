package push

import (
	"encoding/json"
	"fmt"
)

// Inbound events delivered by the server.
const (
	EventNewMessage        = "new_message"
	EventMessageUpdated    = "message_updated"
	EventMessageDeleted    = "message_deleted"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
)

// Lifecycle events synthesized by the Manager.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "error"
)

// Outbound events.
const (
	EventJoinChat  = "join_chat"
	EventLeaveChat = "leave_chat"
)

// Event is one frame on the push channel.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent encodes payload into an Event.
func NewEvent(eventType string, payload any) (Event, error) {
	ev := Event{Type: eventType}
	if payload == nil {
		return ev, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	ev.Payload = data
	return ev, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("decode %s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// RoomPayload addresses a conversation room.
type RoomPayload struct {
	ChatID string `json:"chatId"`
}

// TypingPayload is the body of user_typing and user_stopped_typing.
type TypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// MessageDeletedPayload is the body of message_deleted.
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// ErrorPayload is the body of a synthesized error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// UserID extracts the user id from a user_online or user_offline payload, which the
// server sends either as a bare string or as {"userId": "..."}.
func UserID(e Event) (string, error) {
	var id string
	if err := json.Unmarshal(e.Payload, &id); err == nil {
		return id, nil
	}

	var obj struct {
		UserID string `json:"userId"`
	}
	if err := e.Decode(&obj); err != nil {
		return "", err
	}
	if obj.UserID == "" {
		return "", fmt.Errorf("decode %s: missing user id", e.Type)
	}
	return obj.UserID, nil
}
