package api

import (
	"bytes"
	"cmp"
	"encoding/json"
	"time"

	"github.com/hay-kot/chatsync/internal/core/chat"
)

// The server is not consistent about identifiers and envelopes. Everything in this
// file exists to turn its payloads into the chat package's canonical types: ids may
// arrive as "id", "_id" or both; participants as "participants" or "users"; single
// resources bare or wrapped in an object keyed by their kind.

type wireUser struct {
	ID        string     `json:"id"`
	LegacyID  string     `json:"_id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Avatar    string     `json:"avatar"`
	IsOnline  bool       `json:"isOnline"`
	LastSeen  *time.Time `json:"lastSeen"`
}

func (w wireUser) user() chat.User {
	u := chat.User{
		ID:        cmp.Or(w.ID, w.LegacyID),
		Username:  w.Username,
		Email:     w.Email,
		FirstName: w.FirstName,
		LastName:  w.LastName,
		Avatar:    w.Avatar,
		IsOnline:  w.IsOnline,
	}
	if w.LastSeen != nil {
		u.LastSeen = *w.LastSeen
	}
	return u
}

// wireRef is either a populated object or a bare id string.
type wireRef[T any] struct {
	ID  string
	Obj *T
}

func (r *wireRef[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, &r.ID); err == nil {
		return nil
	}
	var obj T
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.Obj = &obj
	return nil
}

// wireID is an id sent either as a string or as an object carrying the id.
type wireID string

func (w *wireID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*w = wireID(s)
		return nil
	}
	var obj struct {
		ID       string `json:"id"`
		LegacyID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*w = wireID(cmp.Or(obj.ID, obj.LegacyID))
	return nil
}

type wireMessage struct {
	ID        string            `json:"id"`
	LegacyID  string            `json:"_id"`
	ChatID    wireID            `json:"chatId"`
	Chat      wireID            `json:"chat"`
	Sender    wireRef[wireUser] `json:"sender"`
	SenderID  string            `json:"senderId"`
	Content   string            `json:"content"`
	Type      chat.MessageType  `json:"type"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt *time.Time        `json:"updatedAt"`
	EditedAt  *time.Time        `json:"editedAt"`
	IsEdited  bool              `json:"isEdited"`
}

func (w wireMessage) message() chat.Message {
	m := chat.Message{
		ID:             cmp.Or(w.ID, w.LegacyID),
		ConversationID: string(cmp.Or(w.ChatID, w.Chat)),
		SenderID:       w.SenderID,
		Content:        w.Content,
		Type:           cmp.Or(w.Type, chat.MessageText),
		CreatedAt:      w.CreatedAt,
	}

	if w.Sender.Obj != nil {
		u := w.Sender.Obj.user()
		m.Sender = &u
		m.SenderID = cmp.Or(u.ID, m.SenderID)
	} else if w.Sender.ID != "" {
		m.SenderID = w.Sender.ID
	}

	switch {
	case w.EditedAt != nil:
		t := *w.EditedAt
		m.EditedAt = &t
	case w.IsEdited && w.UpdatedAt != nil:
		t := *w.UpdatedAt
		m.EditedAt = &t
	}
	return m
}

type wireChat struct {
	ID           string               `json:"id"`
	LegacyID     string               `json:"_id"`
	Name         string               `json:"name"`
	IsGroup      bool                 `json:"isGroup"`
	Avatar       string               `json:"avatar"`
	Participants []wireRef[wireUser]  `json:"participants"`
	Users        []wireRef[wireUser]  `json:"users"`
	LastMessage  wireRef[wireMessage] `json:"lastMessage"`
	UnreadCount  int                  `json:"unreadCount"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

func (w wireChat) conversation() chat.Conversation {
	c := chat.Conversation{
		ID:          cmp.Or(w.ID, w.LegacyID),
		Name:        w.Name,
		IsGroup:     w.IsGroup,
		Avatar:      w.Avatar,
		UnreadCount: w.UnreadCount,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}

	refs := w.Participants
	if len(refs) == 0 {
		refs = w.Users
	}
	for _, r := range refs {
		switch {
		case r.Obj != nil:
			c.Participants = append(c.Participants, r.Obj.user())
		case r.ID != "":
			c.Participants = append(c.Participants, chat.User{ID: r.ID})
		}
	}

	if w.LastMessage.Obj != nil {
		m := w.LastMessage.Obj.message()
		if m.ConversationID == "" {
			m.ConversationID = c.ID
		}
		if m.ID != "" {
			c.LastMessage = &m
		}
	}
	return c
}

// unwrap returns the object stored under key when data is an envelope such as
// {"chat": {...}}, and data unchanged otherwise.
func unwrap(data []byte, key string) []byte {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return data
	}
	if _, ok := env["id"]; ok {
		return data
	}
	if _, ok := env["_id"]; ok {
		return data
	}
	if inner, ok := env[key]; ok && len(inner) > 0 && inner[0] == '{' {
		return inner
	}
	return data
}

// unwrapList returns the array stored under key, or data itself when it is already
// an array.
func unwrapList(data []byte, key string) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return trimmed
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return data
	}
	if inner, ok := env[key]; ok {
		return inner
	}
	return data
}

type wireAuth struct {
	User         wireUser `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
}

type wireMessagePage struct {
	Messages []wireMessage `json:"messages"`
	Total    int           `json:"total"`
}

type wireUserPage struct {
	Users []wireUser `json:"users"`
	Total int        `json:"total"`
}
