package printer

import (
	"strconv"
	"strings"
	"time"

	"github.com/hay-kot/chatsync/internal/core/chat"
	"github.com/hay-kot/chatsync/internal/push"
)

// Timestamp formats t relative to now: clock time within the last day, the full
// date otherwise. A zero time renders as "-".
func Timestamp(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	t = t.Local()
	if now.Sub(t) < 24*time.Hour {
		return t.Format("15:04")
	}
	return t.Format("2006-01-02 15:04")
}

// Truncate collapses whitespace and shortens s to at most limit runes.
func Truncate(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit || limit < 1 {
		return s
	}
	return string(r[:limit-1]) + "…"
}

// Preview renders a conversation's last message for a list row.
func Preview(m *chat.Message, limit int) string {
	if m == nil {
		return Dim("no messages")
	}
	if m.Type != chat.MessageText && m.Type != "" {
		return Dim("[" + string(m.Type) + "]")
	}
	return Truncate(m.Content, limit)
}

// Unread renders an unread count, or nothing when there is none.
func Unread(n int) string {
	if n <= 0 {
		return ""
	}
	return Highlight(strconv.Itoa(n))
}

// Presence renders a user's online status as a word.
func Presence(online bool) string {
	if online {
		return Highlight("online")
	}
	return Dim("offline")
}

// OnlineMark appends a green dot to name when the user is online.
func OnlineMark(name string, online bool) string {
	if online {
		return name + " " + Highlight(Dot)
	}
	return name
}

// ConnState prints a push channel transition.
func (p *Printer) ConnState(state push.State, err error) {
	switch state {
	case push.Connected:
		p.Successf("Live updates connected")
	case push.Connecting:
		p.Infof("Connecting to live updates")
	case push.Failed:
		p.Errorf("Live updates failed: %v", err)
	default:
		if err != nil {
			p.Warnf("Live updates lost: %v", err)
			return
		}
		p.Infof("Live updates disconnected")
	}
}
