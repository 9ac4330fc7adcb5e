// Package chatsync wires the session, push channel, timeline store and presence
// aggregator together and exposes the operations the view layer uses.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"

	"github.com/hay-kot/chatsync/internal/api"
	"github.com/hay-kot/chatsync/internal/core/auth"
	"github.com/hay-kot/chatsync/internal/core/chat"
	"github.com/hay-kot/chatsync/internal/core/config"
	"github.com/hay-kot/chatsync/internal/presence"
	"github.com/hay-kot/chatsync/internal/push"
	"github.com/hay-kot/chatsync/internal/session"
	"github.com/hay-kot/chatsync/internal/timeline"
)

// Options configures a Service.
type Options struct {
	Config      *config.Config
	Credentials auth.Store
	HTTPClient  *http.Client
	Dialer      push.Dialer
	Logger      zerolog.Logger
	// Realtime connects the push channel whenever a credential is held. One-shot
	// commands leave it off and only use REST.
	Realtime bool
}

// Service orchestrates the client.
type Service struct {
	cfg      *config.Config
	log      zerolog.Logger
	realtime atomic.Bool

	session  *session.Manager
	api      *api.Client
	push     *push.Manager
	timeline *timeline.Store
	presence *presence.Aggregator
	typing   *presence.Emitter

	changes chan struct{}

	mu        sync.RWMutex
	connState push.State
	connErr   error
	connected bool // a connection has been established at least once
	taps      []func(push.Event)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Service. Call Close to stop background work.
func New(opts Options) *Service {
	cfg := opts.Config
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Server.RequestTimeout}
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:      cfg,
		log:      opts.Logger,
		timeline: timeline.New(),
		presence: presence.NewAggregator(cfg.Typing.Timeout),
		changes:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.session = session.New(session.Options{
		BaseURL:        cfg.Server.BaseURL,
		HTTPClient:     client,
		Store:          opts.Credentials,
		RefreshTimeout: cfg.Session.RefreshTimeout,
		ExpirySkew:     cfg.Session.ExpirySkew,
		Logger:         opts.Logger.With().Str("component", "session").Logger(),
	})
	s.api = api.New(s.session)

	s.push = push.New(push.Options{
		URL:               cfg.Server.SocketURL,
		Dialer:            opts.Dialer,
		ConnectTimeout:    cfg.Push.ConnectTimeout,
		ReconnectAttempts: cfg.Push.ReconnectAttempts,
		ReconnectDelay:    cfg.Push.ReconnectDelay,
		ReconnectMaxDelay: cfg.Push.ReconnectMaxDelay,
		Logger:            opts.Logger.With().Str("component", "push").Logger(),
		OnEvent:           s.handleEvent,
		OnState:           s.handleState,
		OnUnauthorized:    s.handleUnauthorized,
	})
	s.typing = presence.NewEmitter(s.push, cfg.Typing.Timeout, cfg.Typing.EmitInterval,
		opts.Logger.With().Str("component", "typing").Logger())

	s.realtime.Store(opts.Realtime)
	s.session.OnTokenChange(s.handleToken)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.presence.Run(ctx, cfg.Typing.SweepInterval, s.notify)
	}()

	return s
}

// Listen turns on live updates. The push channel connects as soon as an access
// token is held.
func (s *Service) Listen() {
	s.realtime.Store(true)
	if token := s.session.AccessToken(); token != "" {
		s.push.Connect(token)
	}
}

// Close stops background work and the push channel.
func (s *Service) Close() {
	s.typing.StopAll()
	s.cancel()
	s.push.Close()
	s.wg.Wait()
}

// Changes returns a channel that receives a value after any state change visible
// through the snapshot methods. Notifications coalesce.
func (s *Service) Changes() <-chan struct{} {
	return s.changes
}

// Tap registers fn to observe every push event after it has been applied.
func (s *Service) Tap(fn func(push.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taps = append(s.taps, fn)
}

func (s *Service) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Service) handleToken(token string) {
	if token == "" {
		s.timeline.Reset()
		s.presence.Reset()
		s.typing.StopAll()
	}
	if s.realtime.Load() || token == "" {
		s.push.Connect(token)
	}
	s.notify()
}

func (s *Service) handleState(state push.State, err error) {
	s.mu.Lock()
	s.connState = state
	s.connErr = err
	s.mu.Unlock()

	if errors.Is(err, push.ErrPersistentDisconnect) {
		s.log.Error().Err(err).Msg("live updates unavailable")
	}
	s.notify()
}

func (s *Service) handleUnauthorized() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Session.RefreshTimeout)
	defer cancel()

	if _, err := s.session.Refresh(ctx); err != nil {
		s.log.Warn().Err(err).Msg("could not refresh credential for push channel")
	}
}

// Authenticated reports whether a session is held.
func (s *Service) Authenticated() bool {
	return s.session.Authenticated()
}

// CurrentUser returns the authenticated user's profile.
func (s *Service) CurrentUser() (chat.User, bool) {
	return s.session.User()
}

// Conversations returns the conversation list, most recently active first.
func (s *Service) Conversations() []chat.Conversation {
	return s.timeline.Conversations()
}

// Conversation returns one conversation summary.
func (s *Service) Conversation(id string) (chat.Conversation, bool) {
	return s.timeline.Conversation(id)
}

// ActiveTimeline returns the loaded messages of the active conversation.
func (s *Service) ActiveTimeline() (chat.Timeline, bool) {
	return s.timeline.Active()
}

// TypingUsers returns who is typing in conversationID, excluding the viewer.
func (s *Service) TypingUsers(conversationID string) []string {
	users := s.presence.Typing(conversationID)
	if me, ok := s.CurrentUser(); ok {
		users = slices.DeleteFunc(users, func(id string) bool { return id == me.ID })
	}
	return users
}

// OnlineUsers returns the ids of users known to be online.
func (s *Service) OnlineUsers() []string {
	return s.presence.OnlineUsers()
}

// ConnectionState returns the push channel state and the last error it reported.
func (s *Service) ConnectionState() (push.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connState, s.connErr
}

// Restore resumes the persisted session and refreshes the user's profile.
func (s *Service) Restore(ctx context.Context) (chat.User, error) {
	stored, err := s.session.Restore(ctx)
	if err != nil {
		return chat.User{}, err
	}

	me, err := s.api.Me(ctx)
	switch {
	case err == nil:
		if err := s.session.SetUser(ctx, me); err != nil {
			s.log.Warn().Err(err).Msg("failed to persist profile")
		}
	case errors.Is(err, chat.ErrNotFound) && stored.ID != "":
		// Older servers lack /users/me; the stored profile is good enough.
		me = stored
	default:
		return chat.User{}, fmt.Errorf("restore session: %w", err)
	}

	s.timeline.SetSelf(me.ID)
	s.notify()
	return me, nil
}

// Login authenticates with email and password.
func (s *Service) Login(ctx context.Context, in api.LoginInput) (chat.User, error) {
	if err := validateLogin(in); err != nil {
		return chat.User{}, fmt.Errorf("login: %w", err)
	}

	res, err := s.api.Login(ctx, in)
	if err != nil {
		return chat.User{}, fmt.Errorf("login: %w", err)
	}
	return s.establish(ctx, res)
}

// Register creates an account and signs in with it.
func (s *Service) Register(ctx context.Context, in api.RegisterInput) (chat.User, error) {
	if err := validateRegister(in); err != nil {
		return chat.User{}, fmt.Errorf("register: %w", err)
	}

	res, err := s.api.Register(ctx, in)
	if err != nil {
		return chat.User{}, fmt.Errorf("register: %w", err)
	}
	return s.establish(ctx, res)
}

func (s *Service) establish(ctx context.Context, res api.AuthResult) (chat.User, error) {
	s.timeline.Reset()
	s.timeline.SetSelf(res.User.ID)

	if err := s.session.Establish(ctx, res.Credential, res.User); err != nil {
		return chat.User{}, err
	}

	s.log.Info().Str("user", res.User.Username).Msg("signed in")
	return res.User, nil
}

// Logout ends the session locally and, best effort, on the server.
func (s *Service) Logout(ctx context.Context) error {
	if s.session.Authenticated() {
		if err := s.api.Logout(ctx); err != nil {
			s.log.Warn().Err(err).Msg("server logout failed")
		}
	}
	return s.session.Clear(ctx)
}

// RefreshConversations reloads the conversation list from the server.
func (s *Service) RefreshConversations(ctx context.Context) ([]chat.Conversation, error) {
	convs, err := s.api.Chats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	if evicted := s.timeline.SetConversations(convs); evicted != "" {
		s.leave(evicted)
	}
	for _, c := range convs {
		s.presence.Seed(c.Participants)
	}
	s.notify()

	return s.timeline.Conversations(), nil
}

// SelectConversation makes id the active conversation, subscribes to its room and
// loads the newest page of history. An empty id clears the selection. If id cannot
// be resolved the previous selection stays active.
func (s *Service) SelectConversation(ctx context.Context, id string) (chat.Timeline, error) {
	if id != "" {
		if _, ok := s.timeline.Conversation(id); !ok {
			conv, err := s.api.Chat(ctx, id)
			if err != nil {
				return chat.Timeline{}, fmt.Errorf("select conversation: %w", err)
			}
			s.timeline.UpsertConversation(conv)
			s.presence.Seed(conv.Participants)
		}
	}

	if prev := s.timeline.ActiveID(); prev != "" && prev != id {
		s.leave(prev)
	}

	s.timeline.Select(id)
	if id == "" {
		s.notify()
		return chat.Timeline{}, nil
	}
	s.push.Subscribe(id)
	s.notify()

	tl, _ := s.timeline.Active()
	if tl.NextPage > 1 {
		return tl, nil
	}
	return s.loadPage(ctx, id, 1)
}

// leave ends local typing and the room subscription for a conversation that is no
// longer active.
func (s *Service) leave(conversationID string) {
	s.typing.Stop(conversationID)
	s.push.Unsubscribe(conversationID)
}

// LoadOlderMessages fetches the next page of the active conversation's history.
func (s *Service) LoadOlderMessages(ctx context.Context) (chat.Timeline, error) {
	tl, ok := s.timeline.Active()
	if !ok {
		return chat.Timeline{}, fmt.Errorf("load messages: no active conversation: %w", chat.ErrValidation)
	}
	if tl.NextPage > 1 && !tl.HasMore {
		return tl, nil
	}
	return s.loadPage(ctx, tl.ConversationID, tl.NextPage)
}

func (s *Service) loadPage(ctx context.Context, conversationID string, page int) (chat.Timeline, error) {
	limit := s.cfg.Timeline.PageSize

	res, err := s.api.Messages(ctx, conversationID, page, limit)
	if err != nil {
		return chat.Timeline{}, fmt.Errorf("load messages: %w", err)
	}

	applied := s.timeline.LoadPage(conversationID, page, limit, res.Total, res.Messages)
	if applied.Applied {
		s.notify()
	}

	s.log.Debug().
		Str("chat", conversationID).
		Int("page", page).
		Int("count", len(res.Messages)).
		Int("total", res.Total).
		Bool("active", applied.Active).
		Msg("loaded history page")

	tl, _ := s.timeline.Active()
	return tl, nil
}

// SendMessage submits content to conversationID. On failure the returned error is
// a *SubmitError carrying content, and the timeline is unchanged.
func (s *Service) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	errs := validateContent("content", content, s.cfg.MaxMessageLength)
	errs = validateID(errs, "chat_id", conversationID)
	if err := invalid(errs); err != nil {
		return chat.Message{}, &SubmitError{Content: content, Err: err}
	}

	s.typing.Stop(conversationID)

	msg, err := s.api.SendMessage(ctx, api.SendMessageInput{
		ChatID:  conversationID,
		Content: content,
		Type:    chat.MessageText,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("chat", conversationID).Msg("message not sent")
		return chat.Message{}, &SubmitError{Content: content, Err: err}
	}

	if me, ok := s.CurrentUser(); ok && msg.SenderID == "" {
		msg.SenderID = me.ID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	if res := s.timeline.ApplySubmission(msg); res.Applied {
		s.notify()
	}
	return msg, nil
}

// EditMessage replaces a message's content.
func (s *Service) EditMessage(ctx context.Context, messageID, content string) (chat.Message, error) {
	errs := validateContent("content", content, s.cfg.MaxMessageLength)
	errs = validateID(errs, "message_id", messageID)
	if err := invalid(errs); err != nil {
		return chat.Message{}, fmt.Errorf("edit message: %w", err)
	}

	msg, err := s.api.UpdateMessage(ctx, messageID, content)
	if err != nil {
		return chat.Message{}, fmt.Errorf("edit message: %w", err)
	}
	if msg.EditedAt == nil {
		now := s.now()
		msg.EditedAt = &now
	}

	if res := s.timeline.ApplyEdit(msg); res.Applied {
		s.notify()
	}
	return msg, nil
}

// DeleteMessage removes a message.
func (s *Service) DeleteMessage(ctx context.Context, messageID string) error {
	if err := invalid(validateID(criterio.FieldErrorsBuilder{}, "message_id", messageID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	if res := s.timeline.ApplyDeletion("", messageID); res.Applied {
		s.notify()
	}
	return nil
}

// StartConversation opens a conversation with participants. A direct conversation
// with a single user that already exists is returned instead of creating a new one.
func (s *Service) StartConversation(ctx context.Context, participants []string, name string) (chat.Conversation, error) {
	var errs criterio.FieldErrorsBuilder
	if len(participants) == 0 {
		errs = errs.Append("participants", fmt.Errorf("at least one participant is required"))
	}
	for i, p := range participants {
		errs = validateID(errs, fmt.Sprintf("participants[%d]", i), p)
	}
	if err := invalid(errs); err != nil {
		return chat.Conversation{}, fmt.Errorf("start conversation: %w", err)
	}

	group := len(participants) > 1 || name != ""
	if !group {
		if conv, ok := s.findDirect(participants[0]); ok {
			return conv, nil
		}
	}

	conv, err := s.api.CreateChat(ctx, api.CreateChatInput{
		Participants: participants,
		Name:         name,
		IsGroup:      group,
	})
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("start conversation: %w", err)
	}

	s.timeline.UpsertConversation(conv)
	s.presence.Seed(conv.Participants)
	s.notify()
	return conv, nil
}

func (s *Service) findDirect(userID string) (chat.Conversation, bool) {
	for _, c := range s.timeline.Conversations() {
		if c.IsGroup {
			continue
		}
		if slices.ContainsFunc(c.Participants, func(u chat.User) bool { return u.ID == userID }) {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// RenameConversation sets a conversation's name.
func (s *Service) RenameConversation(ctx context.Context, id, name string) (chat.Conversation, error) {
	var errs criterio.FieldErrorsBuilder
	errs = validateID(errs, "chat_id", id)
	errs = validateID(errs, "name", name)
	if err := invalid(errs); err != nil {
		return chat.Conversation{}, fmt.Errorf("rename conversation: %w", err)
	}

	conv, err := s.api.UpdateChat(ctx, id, api.UpdateChatInput{Name: name})
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("rename conversation: %w", err)
	}
	if conv.ID == "" {
		conv.ID = id
	}

	s.timeline.UpsertConversation(conv)
	s.notify()
	return conv, nil
}

// DeleteConversation removes a conversation.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	if err := invalid(validateID(criterio.FieldErrorsBuilder{}, "chat_id", id)); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	if err := s.api.DeleteChat(ctx, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	if s.timeline.ActiveID() == id {
		s.leave(id)
	}
	if s.timeline.RemoveConversation(id) {
		s.notify()
	}
	return nil
}

// SearchUsers looks up users by name. page is 1-based.
func (s *Service) SearchUsers(ctx context.Context, query string, page int) (chat.UserPage, error) {
	res, err := s.api.Users(ctx, api.UserQuery{
		Search: query,
		Page:   max(page, 1),
		Limit:  s.cfg.Timeline.PageSize,
	})
	if err != nil {
		return chat.UserPage{}, fmt.Errorf("search users: %w", err)
	}

	s.presence.Seed(res.Users)
	return res, nil
}

// User fetches one user's profile. While the push channel is connected its
// presence view is more recent than the server's flag and wins.
func (s *Service) User(ctx context.Context, id string) (chat.User, error) {
	if err := invalid(validateID(criterio.FieldErrorsBuilder{}, "user_id", id)); err != nil {
		return chat.User{}, fmt.Errorf("get user: %w", err)
	}

	u, err := s.api.User(ctx, id)
	if err != nil {
		return chat.User{}, fmt.Errorf("get user: %w", err)
	}
	if u.ID == "" {
		u.ID = id
	}

	if state, _ := s.ConnectionState(); state == push.Connected {
		u.IsOnline = s.presence.Online(u.ID)
	} else {
		s.presence.Seed([]chat.User{u})
	}
	return u, nil
}

// UpdateProfile edits the authenticated user's profile.
func (s *Service) UpdateProfile(ctx context.Context, in api.UpdateUserInput) (chat.User, error) {
	me, ok := s.CurrentUser()
	if !ok || me.ID == "" {
		return chat.User{}, fmt.Errorf("update profile: %w", chat.ErrUnauthenticated)
	}

	if in == (api.UpdateUserInput{}) {
		return chat.User{}, fmt.Errorf("update profile: %w",
			invalid(criterio.FieldErrorsBuilder{}.Append("profile", fmt.Errorf("no fields to update"))))
	}

	user, err := s.api.UpdateUser(ctx, me.ID, in)
	if err != nil {
		return chat.User{}, fmt.Errorf("update profile: %w", err)
	}
	if user.ID == "" {
		user.ID = me.ID
	}

	if err := s.session.SetUser(ctx, user); err != nil {
		return chat.User{}, fmt.Errorf("update profile: %w", err)
	}
	s.notify()
	return user, nil
}

// Typing records local typing activity in conversationID.
func (s *Service) Typing(conversationID string) {
	s.typing.Touch(conversationID)
}
