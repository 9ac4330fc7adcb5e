package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/chatsync/internal/core/chat"
	"github.com/hay-kot/chatsync/internal/push"
	"github.com/hay-kot/chatsync/internal/styles"
)

// View renders the screen.
func (m Model) View() string {
	if m.width == 0 {
		return "loading…"
	}

	bodyHeight := max(m.height-3, 3)

	list := m.renderList(listWidth, bodyHeight)
	conv := m.renderChat(max(m.width-listWidth-4, 10), bodyHeight)

	listPane, chatPane := paneStyle, paneStyle
	if m.focus == paneList {
		listPane = focusedPaneStyle
	} else {
		chatPane = focusedPaneStyle
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		listPane.Width(listWidth).Height(bodyHeight).Render(list),
		chatPane.Width(max(m.width-listWidth-4, 10)).Height(bodyHeight).Render(conv),
	)

	return lipgloss.JoinVertical(lipgloss.Left, body, m.statusBar())
}

func (m Model) renderList(width, height int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Chats"))
	b.WriteString("\n")

	if len(m.convs) == 0 {
		b.WriteString(mutedStyle.Render(" no conversations"))
		return b.String()
	}

	// Each entry is two lines; keep the cursor visible.
	now := time.Now()
	visible := max((height-1)/2, 1)
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}

	for i := start; i < len(m.convs) && i < start+visible; i++ {
		c := m.convs[i]

		title := c.Title(m.self.ID)
		if m.directPeerOnline(c) {
			title = onlineStyle.Render(iconOnline) + " " + title
		}
		if c.UnreadCount > 0 {
			title += " " + styles.UnreadStyle.Render("("+strconv.Itoa(c.UnreadCount)+")")
		}

		sub := "no messages"
		if c.LastMessage != nil {
			sub = c.LastMessage.Content
		}
		if when := relative(c.LastActivity(), now); when != "" {
			sub = when + " " + iconDot + " " + sub
		}
		sub = clip(sub, width-4)

		prefix, style := "  ", normalStyle
		if i == m.cursor {
			prefix, style = selectedStyle.Render(iconCursor)+" ", selectedStyle
		}
		if c.ID == m.active {
			style = style.Underline(true)
		}

		b.WriteString(prefix + style.Render(clip(title, width-3)) + "\n")
		b.WriteString("  " + mutedStyle.Render(sub) + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderChat(width, _ int) string {
	if m.active == "" {
		return mutedStyle.Render(" select a conversation")
	}

	conv := m.activeConversation()
	header := titleStyle.Render(conv.Title(m.self.ID))
	if m.status != "" {
		header += " " + mutedStyle.Render(m.status)
	} else if m.loadingOlder {
		header += " " + mutedStyle.Render("loading older messages…")
	} else if m.timeline.HasMore {
		header += " " + mutedStyle.Render(fmt.Sprintf("%d of %d", len(m.timeline.Messages), m.timeline.Total))
	}

	typing := " "
	if line := typingLine(conv, m.typing); line != "" {
		typing = typingStyle.Render(line)
	}

	input := m.input.View()
	if m.sending {
		input = mutedStyle.Render("sending…")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		typing,
		lipgloss.NewStyle().Width(width).Render(input),
	)
}

func (m Model) statusBar() string {
	var state string
	switch m.state {
	case push.Connected:
		state = onlineStyle.Render(iconOnline + " live")
	case push.Connecting:
		state = mutedStyle.Render(iconOnline + " connecting")
	case push.Failed:
		state = errorStyle.Render(iconOnline + " offline")
	default:
		state = mutedStyle.Render(iconOnline + " disconnected")
	}

	parts := []string{state}
	if m.self.Username != "" {
		parts = append(parts, mutedStyle.Render(m.self.Username))
	}
	if m.err != nil {
		parts = append(parts, errorStyle.Render(clip(m.err.Error(), max(m.width/2, 20))))
	}

	bindings := m.keys.listHelp()
	if m.focus == paneChat {
		bindings = m.keys.chatHelp()
	}
	parts = append(parts, m.help.ShortHelpView(bindings))

	return " " + strings.Join(parts, mutedStyle.Render(" "+iconDot+" "))
}

// renderTimeline refreshes the viewport content from the timeline snapshot.
func (m *Model) renderTimeline(gotoBottom bool) {
	if m.viewport.Width == 0 {
		return
	}

	conv := m.activeConversation()
	m.viewport.SetContent(renderMessages(m.timeline.Messages, conv, m.self.ID, m.viewport.Width))
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

func (m Model) activeConversation() chat.Conversation {
	for _, c := range m.convs {
		if c.ID == m.active {
			return c
		}
	}
	return chat.Conversation{ID: m.active}
}

func (m Model) directPeerOnline(c chat.Conversation) bool {
	if c.IsGroup {
		return false
	}
	for _, p := range c.Participants {
		if p.ID != m.self.ID && m.online[p.ID] {
			return true
		}
	}
	return false
}

func renderMessages(msgs []chat.Message, conv chat.Conversation, self string, width int) string {
	if len(msgs) == 0 {
		return mutedStyle.Render("No messages yet. Say hello!")
	}

	body := lipgloss.NewStyle().Width(max(width-2, 1)).PaddingLeft(2)

	var b strings.Builder
	var lastDay string
	for _, msg := range msgs {
		day := msg.CreatedAt.Local().Format("Mon Jan 2")
		if day != lastDay {
			b.WriteString(styles.DividerStyle.Render("── "+day+" ──") + "\n")
			lastDay = day
		}

		name := styles.SenderStyle.Render(displayName(conv, msg, self))
		if msg.SenderID == self {
			name = styles.SelfStyle.Render("you")
		}

		header := styles.TimestampStyle.Render(msg.CreatedAt.Local().Format("15:04")) + " " + name
		if msg.EditedAt != nil {
			header += styles.TimestampStyle.Render(" (edited)")
		}

		content := msg.Content
		if msg.Type != chat.MessageText && msg.Type != "" {
			content = mutedStyle.Render("["+string(msg.Type)+"] ") + content
		}

		b.WriteString(header + "\n")
		b.WriteString(body.Render(content) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func displayName(conv chat.Conversation, msg chat.Message, self string) string {
	if msg.Sender != nil && msg.Sender.ID != self {
		if name := msg.Sender.DisplayName(); name != "" {
			return name
		}
	}
	if name := participantName(conv, msg.SenderID); name != "" {
		return name
	}
	return msg.SenderID
}

func participantName(conv chat.Conversation, id string) string {
	for _, u := range conv.Participants {
		if u.ID == id {
			return u.DisplayName()
		}
	}
	return ""
}

// typingLine describes who is typing, e.g. "bob is typing…".
func typingLine(conv chat.Conversation, ids []string) string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name := participantName(conv, id)
		if name == "" {
			name = "someone"
		}
		names = append(names, name)
	}

	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return strconv.Itoa(len(names)) + " people are typing…"
	}
}

// clip shortens s to at most n runes on a single line.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// relative formats t as a short age, e.g. "5m", relative to now.
func relative(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case t.IsZero():
		return ""
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return strconv.Itoa(int(d.Minutes())) + "m"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d.Hours())) + "h"
	default:
		return t.Local().Format("Jan 2")
	}
}
