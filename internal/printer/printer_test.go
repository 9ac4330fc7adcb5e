package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/chatsync/internal/core/chat"
	"github.com/hay-kot/chatsync/internal/push"
)

// plain strips ANSI sequences so assertions read like terminal output.
func plain(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			for i < len(s) && s[i] != 'm' {
				i++
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func TestCtx(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	assert.Same(t, p, Ctx(NewContext(context.Background(), p)))
	assert.NotNil(t, Ctx(context.Background()))
}

func TestFatalError(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		var buf bytes.Buffer
		New(&buf).FatalError(errors.New("conversation c1: not found"))

		assert.Equal(t, "╭ Error\n│ conversation c1: not found\n╵\n", plain(buf.String()))
	})

	t.Run("field errors keep their context", func(t *testing.T) {
		var buf bytes.Buffer
		var errs criterio.FieldErrorsBuilder
		errs = errs.Append("email", errors.New("is required"))
		errs = errs.Append("password", errors.New("is required"))
		fe := errs.ToError()

		New(&buf).FatalError(fmt.Errorf("login: %w", fe))

		out := plain(buf.String())
		assert.True(t, strings.HasPrefix(out, "╭ Validation Error\n│ login\n│\n"), out)
		assert.Contains(t, out, "│ ✘ email: is required\n")
		assert.Contains(t, out, "│ ✘ password: is required\n")
	})

	t.Run("nil prints nothing", func(t *testing.T) {
		var buf bytes.Buffer
		New(&buf).FatalError(nil)
		assert.Empty(t, buf.String())
	})
}

func TestCreated(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Created(`Conversation "bob" ready`, "c9")
	assert.Equal(t, "✔ Conversation \"bob\" ready\n  c9\n", plain(buf.String()))
}

func TestTimestamp(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.Local)

	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"zero", time.Time{}, "-"},
		{"same day", now.Add(-time.Hour), "11:00"},
		{"older", now.Add(-48 * time.Hour), "2025-01-08 12:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Timestamp(tt.in, now))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short", "hello", 10, "hello"},
		{"whitespace collapsed", "hello\n  there", 20, "hello there"},
		{"cut", "abcdefghij", 5, "abcd…"},
		{"runes", "héllo wörld", 6, "héllo…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.limit))
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "no messages", plain(Preview(nil, 10)))
	assert.Equal(t, "[image]", plain(Preview(&chat.Message{Type: chat.MessageImage, Content: "x.png"}, 10)))
	assert.Equal(t, "see you…", Preview(&chat.Message{Type: chat.MessageText, Content: "see you tomorrow"}, 8))
}

func TestPresenceHelpers(t *testing.T) {
	assert.Equal(t, "online", plain(Presence(true)))
	assert.Equal(t, "offline", plain(Presence(false)))
	assert.Equal(t, "bob •", plain(OnlineMark("bob", true)))
	assert.Equal(t, "bob", OnlineMark("bob", false))
	assert.Empty(t, Unread(0))
	assert.Equal(t, "3", plain(Unread(3)))
}

func TestConnState(t *testing.T) {
	lost := errors.New("connection reset")

	tests := []struct {
		state push.State
		err   error
		want  string
	}{
		{push.Connected, nil, "✔ Live updates connected\n"},
		{push.Connecting, nil, "• Connecting to live updates\n"},
		{push.Disconnected, nil, "• Live updates disconnected\n"},
		{push.Disconnected, lost, "• Live updates lost: connection reset\n"},
		{push.Failed, push.ErrPersistentDisconnect, "✘ Live updates failed: " + push.ErrPersistentDisconnect.Error() + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			var buf bytes.Buffer
			New(&buf).ConnState(tt.state, tt.err)
			require.NotEmpty(t, buf.String())
			assert.Equal(t, tt.want, plain(buf.String()))
		})
	}
}
