// Package api is a typed client for the chat server's REST endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hay-kot/chatsync/internal/core/auth"
	"github.com/hay-kot/chatsync/internal/core/chat"
	"github.com/hay-kot/chatsync/internal/session"
)

// Doer sends requests. Do authorizes with the current session; Send does not.
// *session.Manager implements it.
type Doer interface {
	Do(ctx context.Context, req *session.Request) (*http.Response, error)
	Send(ctx context.Context, req *session.Request) (*http.Response, error)
}

// Client exposes the server's endpoints.
type Client struct {
	doer Doer
}

// New creates a Client.
func New(doer Doer) *Client {
	return &Client{doer: doer}
}

// LoginInput holds login credentials.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterInput holds the fields of a new account.
type RegisterInput struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// AuthResult is the outcome of login or registration.
type AuthResult struct {
	User       chat.User
	Credential auth.Credential
}

// CreateChatInput describes a new conversation.
type CreateChatInput struct {
	Participants []string `json:"participants"`
	Name         string   `json:"name,omitempty"`
	IsGroup      bool     `json:"isGroup,omitempty"`
}

// UpdateChatInput holds editable conversation fields.
type UpdateChatInput struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// SendMessageInput is a message submission.
type SendMessageInput struct {
	ChatID  string           `json:"chatId"`
	Content string           `json:"content"`
	Type    chat.MessageType `json:"type,omitempty"`
}

// UserQuery filters the user directory.
type UserQuery struct {
	Search string
	Page   int
	Limit  int
}

// UpdateUserInput holds editable profile fields. Empty fields are left unchanged.
type UpdateUserInput struct {
	Username  string `json:"username,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	return c.authenticate(ctx, "/auth/login", in)
}

// Register creates an account and returns its token pair.
func (c *Client) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	return c.authenticate(ctx, "/auth/register", in)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (AuthResult, error) {
	req, err := session.NewRequest(http.MethodPost, path, body)
	if err != nil {
		return AuthResult{}, err
	}

	resp, err := c.doer.Send(ctx, req)
	if err != nil {
		return AuthResult{}, err
	}

	var out wireAuth
	if err := decode(resp, &out); err != nil {
		return AuthResult{}, err
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return AuthResult{}, fmt.Errorf("%s: response missing tokens: %w", path, chat.ErrTransport)
	}

	return AuthResult{
		User:       out.User.user(),
		Credential: auth.Credential{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken},
	}, nil
}

// Logout invalidates the session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/auth/logout", nil, nil, nil)
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (chat.User, error) {
	var out wireUser
	if err := c.callUnwrap(ctx, http.MethodGet, "/users/me", nil, nil, "user", &out); err != nil {
		return chat.User{}, err
	}
	return out.user(), nil
}

// Chats lists the viewer's conversations.
func (c *Client) Chats(ctx context.Context) ([]chat.Conversation, error) {
	req := &session.Request{Method: http.MethodGet, Path: "/chats"}
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var wire []wireChat
	if err := json.Unmarshal(unwrapList(data, "chats"), &wire); err != nil {
		return nil, fmt.Errorf("decode chats: %w: %w", chat.ErrTransport, err)
	}

	out := make([]chat.Conversation, 0, len(wire))
	for _, w := range wire {
		if conv := w.conversation(); conv.ID != "" {
			out = append(out, conv)
		}
	}
	return out, nil
}

// Chat fetches one conversation.
func (c *Client) Chat(ctx context.Context, id string) (chat.Conversation, error) {
	var out wireChat
	if err := c.callUnwrap(ctx, http.MethodGet, "/chats/"+url.PathEscape(id), nil, nil, "chat", &out); err != nil {
		return chat.Conversation{}, err
	}
	return out.conversation(), nil
}

// CreateChat starts a conversation.
func (c *Client) CreateChat(ctx context.Context, in CreateChatInput) (chat.Conversation, error) {
	var out wireChat
	if err := c.callUnwrap(ctx, http.MethodPost, "/chats", nil, in, "chat", &out); err != nil {
		return chat.Conversation{}, err
	}
	return out.conversation(), nil
}

// UpdateChat edits a conversation's metadata.
func (c *Client) UpdateChat(ctx context.Context, id string, in UpdateChatInput) (chat.Conversation, error) {
	var out wireChat
	if err := c.callUnwrap(ctx, http.MethodPut, "/chats/"+url.PathEscape(id), nil, in, "chat", &out); err != nil {
		return chat.Conversation{}, err
	}
	return out.conversation(), nil
}

// DeleteChat removes a conversation.
func (c *Client) DeleteChat(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/chats/"+url.PathEscape(id), nil, nil, nil)
}

// Messages returns one page of a conversation's history. Page 1 holds the newest
// messages.
func (c *Client) Messages(ctx context.Context, chatID string, page, limit int) (chat.MessagePage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var out wireMessagePage
	if err := c.call(ctx, http.MethodGet, "/messages/"+url.PathEscape(chatID), q, nil, &out); err != nil {
		return chat.MessagePage{}, err
	}

	msgs := make([]chat.Message, 0, len(out.Messages))
	for _, w := range out.Messages {
		m := w.message()
		if m.ID == "" {
			continue
		}
		if m.ConversationID == "" {
			m.ConversationID = chatID
		}
		msgs = append(msgs, m)
	}
	return chat.MessagePage{Messages: msgs, Total: out.Total}, nil
}

// SendMessage submits a message and returns the server's copy.
func (c *Client) SendMessage(ctx context.Context, in SendMessageInput) (chat.Message, error) {
	var out wireMessage
	if err := c.callUnwrap(ctx, http.MethodPost, "/messages", nil, in, "message", &out); err != nil {
		return chat.Message{}, err
	}
	m := out.message()
	if m.ConversationID == "" {
		m.ConversationID = in.ChatID
	}
	return m, nil
}

// UpdateMessage replaces a message's content.
func (c *Client) UpdateMessage(ctx context.Context, id, content string) (chat.Message, error) {
	var out wireMessage
	body := struct {
		Content string `json:"content"`
	}{Content: content}
	if err := c.callUnwrap(ctx, http.MethodPut, "/messages/"+url.PathEscape(id), nil, body, "message", &out); err != nil {
		return chat.Message{}, err
	}
	m := out.message()
	if m.ID == "" {
		m.ID = id
	}
	return m, nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, nil, nil)
}

// Users searches the user directory.
func (c *Client) Users(ctx context.Context, query UserQuery) (chat.UserPage, error) {
	q := url.Values{}
	if query.Search != "" {
		q.Set("search", query.Search)
	}
	if query.Page > 0 {
		q.Set("page", strconv.Itoa(query.Page))
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}

	var out wireUserPage
	if err := c.call(ctx, http.MethodGet, "/users", q, nil, &out); err != nil {
		return chat.UserPage{}, err
	}

	users := make([]chat.User, len(out.Users))
	for i, w := range out.Users {
		users[i] = w.user()
	}
	return chat.UserPage{Users: users, Total: out.Total}, nil
}

// User fetches one user's profile.
func (c *Client) User(ctx context.Context, id string) (chat.User, error) {
	var out wireUser
	if err := c.callUnwrap(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, nil, "user", &out); err != nil {
		return chat.User{}, err
	}
	return out.user(), nil
}

// UpdateUser edits a profile.
func (c *Client) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (chat.User, error) {
	var out wireUser
	if err := c.callUnwrap(ctx, http.MethodPut, "/users/"+url.PathEscape(id), nil, in, "user", &out); err != nil {
		return chat.User{}, err
	}
	return out.user(), nil
}

// DecodeMessage converts a message payload, as sent by the server on the push
// channel, into a chat.Message.
func DecodeMessage(data []byte) (chat.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(unwrap(data, "message"), &w); err != nil {
		return chat.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return w.message(), nil
}

func (c *Client) call(ctx context.Context, method, path string, q url.Values, body, out any) error {
	req, err := session.NewRequest(method, path, body)
	if err != nil {
		return err
	}
	req.Query = q

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// callUnwrap is call for single-resource endpoints that may wrap the resource in
// an envelope keyed by key.
func (c *Client) callUnwrap(ctx context.Context, method, path string, q url.Values, body any, key string, out any) error {
	req, err := session.NewRequest(method, path, body)
	if err != nil {
		return err
	}
	req.Query = q

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return err
	}

	data, err := readBody(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(unwrap(data, key), out); err != nil {
		return fmt.Errorf("decode %s: %w: %w", path, chat.ErrTransport, err)
	}
	return nil
}

// readBody returns the body of a successful response, or a *StatusError.
func readBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w: %w", chat.ErrTransport, err)
	}
	return data, nil
}

func decode(resp *http.Response, out any) error {
	data, err := readBody(resp)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w: %w", chat.ErrTransport, err)
	}
	return nil
}
