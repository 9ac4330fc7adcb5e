// Package tui implements the Bubble Tea chat client.
package tui

import (
	"context"
	"errors"
	"slices"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hay-kot/chatsync/internal/chatsync"
	"github.com/hay-kot/chatsync/internal/core/chat"
	"github.com/hay-kot/chatsync/internal/push"
)

// Backend is the part of chatsync.Service the TUI reads from and drives.
type Backend interface {
	Conversations() []chat.Conversation
	ActiveTimeline() (chat.Timeline, bool)
	TypingUsers(conversationID string) []string
	OnlineUsers() []string
	ConnectionState() (push.State, error)
	CurrentUser() (chat.User, bool)
	Changes() <-chan struct{}

	RefreshConversations(ctx context.Context) ([]chat.Conversation, error)
	SelectConversation(ctx context.Context, id string) (chat.Timeline, error)
	LoadOlderMessages(ctx context.Context) (chat.Timeline, error)
	SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error)
	Typing(conversationID string)
}

// Options configures the TUI behavior.
type Options struct {
	InitialChat string // conversation to open on start (optional)
}

// pane is the focused half of the screen.
type pane int

const (
	paneList pane = iota
	paneChat
)

// listWidth is the width of the conversation list column.
const listWidth = 32

// Model is the main Bubble Tea model for the TUI.
type Model struct {
	ctx     context.Context
	backend Backend
	opts    Options
	keys    keyMap
	help    help.Model

	width  int
	height int
	focus  pane

	self     chat.User
	convs    []chat.Conversation
	cursor   int
	active   string
	timeline chat.Timeline
	typing   []string
	online   map[string]bool
	state    push.State

	viewport viewport.Model
	input    textinput.Model

	loadingOlder bool
	sending      bool
	status       string
	err          error
}

// changedMsg is sent when the backend reports a state change.
type changedMsg struct{}

// conversationsLoadedMsg is sent when the conversation list is fetched.
type conversationsLoadedMsg struct {
	err error
}

// selectedMsg is sent when a conversation has been opened.
type selectedMsg struct {
	id  string
	err error
}

// olderLoadedMsg is sent when an older history page has been merged.
type olderLoadedMsg struct {
	err error
}

// sentMsg is sent when a submission completes.
type sentMsg struct {
	conversationID string
	err            error
}

// New creates a new TUI model.
func New(ctx context.Context, backend Backend, opts Options) Model {
	in := textinput.New()
	in.Placeholder = "Type a message"
	in.Prompt = "› "
	in.CharLimit = 0
	in.PromptStyle = inputPromptStyle
	in.PlaceholderStyle = mutedStyle

	h := help.New()
	h.Styles.ShortKey = helpStyle
	h.Styles.ShortDesc = helpStyle
	h.Styles.ShortSeparator = helpStyle
	h.ShortSeparator = " • "

	m := Model{
		ctx:      ctx,
		backend:  backend,
		opts:     opts,
		keys:     newKeyMap(),
		help:     h,
		online:   make(map[string]bool),
		viewport: viewport.New(0, 0),
		input:    in,
	}
	m.sync()
	return m
}

// Init starts the change listener and the initial load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForChange(m.backend.Changes()),
		loadConversations(m.ctx, m.backend),
		textinput.Blink,
	)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.renderTimeline(true)
		return m, nil

	case changedMsg:
		atBottom := m.viewport.AtBottom()
		m.sync()
		m.renderTimeline(atBottom)
		return m, waitForChange(m.backend.Changes())

	case conversationsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.sync()
		if m.opts.InitialChat != "" && m.active == "" {
			id := m.opts.InitialChat
			m.opts.InitialChat = ""
			return m.open(id)
		}
		return m, nil

	case selectedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.sync()
		m.renderTimeline(true)
		return m, nil

	case olderLoadedMsg:
		m.loadingOlder = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.sync()
		m.renderTimeline(false)
		return m, nil

	case sentMsg:
		m.sending = false
		if msg.err != nil {
			m.err = msg.err
			// Restore the draft unless the user already started a new one.
			var se *chatsync.SubmitError
			if errors.As(msg.err, &se) && m.input.Value() == "" && msg.conversationID == m.active {
				m.input.SetValue(se.Content)
				m.input.CursorEnd()
			}
			return m, nil
		}
		m.err = nil
		m.sync()
		m.renderTimeline(true)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQuit) {
		return m, tea.Quit
	}

	if m.focus == paneChat {
		return m.handleChatKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.convs)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Refresh):
		return m, loadConversations(m.ctx, m.backend)
	case key.Matches(msg, m.keys.Open):
		if m.cursor < len(m.convs) {
			return m.open(m.convs[m.cursor].ID)
		}
	case key.Matches(msg, m.keys.SwitchPane):
		if m.active != "" {
			return m.focusChat()
		}
	}
	return m, nil
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.SwitchPane):
		m.focus = paneList
		m.input.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Send):
		content := m.input.Value()
		if content == "" || m.sending || m.active == "" {
			return m, nil
		}
		m.sending = true
		m.input.Reset()
		return m, sendMessage(m.ctx, m.backend, m.active, content)

	case key.Matches(msg, m.keys.Older):
		if m.viewport.AtTop() && m.timeline.HasMore && !m.loadingOlder {
			m.loadingOlder = true
			return m, loadOlder(m.ctx, m.backend)
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case key.Matches(msg, m.keys.Newer):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before && m.input.Value() != "" && m.active != "" {
		m.backend.Typing(m.active)
	}
	return m, cmd
}

// open selects conversation id and moves focus to the composer.
func (m Model) open(id string) (tea.Model, tea.Cmd) {
	if idx := slices.IndexFunc(m.convs, func(c chat.Conversation) bool { return c.ID == id }); idx >= 0 {
		m.cursor = idx
	}
	if id != m.active {
		m.input.Reset()
	}
	m.status = "loading…"
	model, focusCmd := m.focusChat()
	return model, tea.Batch(focusCmd, selectConversation(m.ctx, m.backend, id))
}

func (m Model) focusChat() (Model, tea.Cmd) {
	m.focus = paneChat
	return m, m.input.Focus()
}

// sync copies the backend's snapshots into the model.
func (m *Model) sync() {
	if me, ok := m.backend.CurrentUser(); ok {
		m.self = me
	}

	m.convs = m.backend.Conversations()
	if m.cursor >= len(m.convs) {
		m.cursor = max(len(m.convs)-1, 0)
	}

	if tl, ok := m.backend.ActiveTimeline(); ok {
		m.timeline = tl
		m.active = tl.ConversationID
		m.status = ""
	} else {
		m.timeline = chat.Timeline{}
		m.active = ""
	}

	m.typing = nil
	if m.active != "" {
		m.typing = m.backend.TypingUsers(m.active)
	}

	clear(m.online)
	for _, id := range m.backend.OnlineUsers() {
		m.online[id] = true
	}

	m.state, _ = m.backend.ConnectionState()
}

// layout sizes the viewport and input to the window.
func (m *Model) layout() {
	chatWidth := max(m.width-listWidth-3, 10)
	// header, typing line, input, status bar and borders
	m.viewport.Width = chatWidth
	m.viewport.Height = max(m.height-7, 1)
	m.input.Width = chatWidth - 4
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return changedMsg{}
	}
}

func loadConversations(ctx context.Context, b Backend) tea.Cmd {
	return func() tea.Msg {
		_, err := b.RefreshConversations(ctx)
		return conversationsLoadedMsg{err: err}
	}
}

func selectConversation(ctx context.Context, b Backend, id string) tea.Cmd {
	return func() tea.Msg {
		_, err := b.SelectConversation(ctx, id)
		return selectedMsg{id: id, err: err}
	}
}

func loadOlder(ctx context.Context, b Backend) tea.Cmd {
	return func() tea.Msg {
		_, err := b.LoadOlderMessages(ctx)
		return olderLoadedMsg{err: err}
	}
}

func sendMessage(ctx context.Context, b Backend, conversationID, content string) tea.Cmd {
	return func() tea.Msg {
		_, err := b.SendMessage(ctx, conversationID, content)
		return sentMsg{conversationID: conversationID, err: err}
	}
}
