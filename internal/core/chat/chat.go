// Package chat defines the conversation and message domain types shared by the client.
package chat

import (
	"cmp"
	"strings"
	"time"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// User is a chat participant.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen,omitzero"`
}

// DisplayName returns the full name when known, falling back to the username.
func (u User) DisplayName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	return u.Username
}

// Message is a single entry of a conversation timeline.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Sender         *User       `json:"sender,omitempty"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
}

// Compare orders messages by creation time, breaking ties by id so the order is
// deterministic regardless of arrival order.
func Compare(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	if m.Sender != nil {
		s := *m.Sender
		m.Sender = &s
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		m.EditedAt = &t
	}
	return m
}

// Conversation is the summary of a chat as shown in the conversation list. Message
// bodies live in a Timeline.
type Conversation struct {
	ID           string    `json:"id"`
	IsGroup      bool      `json:"is_group"`
	Name         string    `json:"name,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Participants []User    `json:"participants"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	UnreadCount  int       `json:"unread_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LastActivity is the timestamp used to order the conversation list: the most recent
// message if one is known, otherwise the conversation's own timestamps.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

// Title returns the name to display for the conversation from the point of view of
// the user with id self.
func (c Conversation) Title(self string) string {
	if c.IsGroup {
		if c.Name != "" {
			return c.Name
		}
		return "Group Chat"
	}
	for _, p := range c.Participants {
		if p.ID != self {
			return p.DisplayName()
		}
	}
	if c.Name != "" {
		return c.Name
	}
	return "Chat"
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	if c.Participants != nil {
		c.Participants = append([]User(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		m := c.LastMessage.Clone()
		c.LastMessage = &m
	}
	return c
}

// Timeline is a read-only snapshot of one conversation's loaded messages, ordered
// ascending by creation time.
type Timeline struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	HasMore        bool      `json:"has_more"`
	NextPage       int       `json:"next_page"`
	Total          int       `json:"total"`
}

// MessagePage is one page of history as returned by the messages endpoint.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}

// UserPage is one page of a user search.
type UserPage struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
}
