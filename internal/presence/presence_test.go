package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/chatsync/internal/core/chat"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestAggregator() (*Aggregator, *clock) {
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := NewAggregator(3 * time.Second)
	a.now = c.Now
	return a, c
}

func TestAggregator_TypingExpires(t *testing.T) {
	a, c := newTestAggregator()

	assert.True(t, a.TypingStart("c1", "bob"))
	assert.Equal(t, []string{"bob"}, a.Typing("c1"))

	c.Advance(2 * time.Second)
	assert.False(t, a.TypingStart("c1", "bob"), "refresh of a live entry")

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"bob"}, a.Typing("c1"), "refresh extended expiry")

	c.Advance(1500 * time.Millisecond)
	assert.Empty(t, a.Typing("c1"), "expired entries are filtered before sweep")
	assert.Equal(t, 1, a.Sweep())
	assert.Equal(t, 0, a.Sweep())
}

func TestAggregator_TypingStop(t *testing.T) {
	a, _ := newTestAggregator()

	a.TypingStart("c1", "bob")
	a.TypingStart("c1", "carol")
	a.TypingStart("c2", "bob")

	assert.True(t, a.TypingStop("c1", "bob"))
	assert.False(t, a.TypingStop("c1", "bob"))

	assert.Equal(t, []string{"carol"}, a.Typing("c1"))
	assert.Equal(t, []string{"bob"}, a.Typing("c2"))
}

func TestAggregator_Online(t *testing.T) {
	a, _ := newTestAggregator()

	a.Seed([]chat.User{{ID: "u1", IsOnline: true}, {ID: "u2"}, {ID: "u3", IsOnline: true}})
	assert.Equal(t, []string{"u1", "u3"}, a.OnlineUsers())

	assert.True(t, a.SetOnline("u2", true))
	assert.False(t, a.SetOnline("u2", true))
	assert.True(t, a.SetOnline("u1", false))

	assert.Equal(t, []string{"u2", "u3"}, a.OnlineUsers())
	assert.True(t, a.Online("u3"))
	assert.False(t, a.Online("u1"))

	a.Reset()
	assert.Empty(t, a.OnlineUsers())
}

func TestAggregator_Run(t *testing.T) {
	a, c := newTestAggregator()
	a.TypingStart("c1", "bob")
	c.Advance(4 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expired := make(chan struct{}, 1)
	go a.Run(ctx, 5*time.Millisecond, func() {
		select {
		case expired <- struct{}{}:
		default:
		}
	})

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not report expiry")
	}
	assert.Empty(t, a.Typing("c1"))
}

type event struct {
	name string
	chat string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Emit(_ context.Context, name string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{name: name, chat: payload.(typingPayload).ChatID})
	return nil
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func TestEmitter_OneStartPerBurst(t *testing.T) {
	rec := &recorder{}
	e := NewEmitter(rec, 50*time.Millisecond, 0, zerolog.Nop())

	for range 5 {
		e.Touch("c1")
	}
	assert.Equal(t, []event{{EventTypingStart, "c1"}}, rec.snapshot())

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, event{EventTypingStop, "c1"}, rec.snapshot()[1])

	// The burst ended, so the next keystroke starts a new one.
	e.Touch("c1")
	assert.Equal(t, event{EventTypingStart, "c1"}, rec.snapshot()[2])
}

func TestEmitter_StopIsImmediate(t *testing.T) {
	rec := &recorder{}
	e := NewEmitter(rec, time.Minute, 0, zerolog.Nop())

	e.Touch("c1")
	e.Touch("c2")
	e.Stop("c1")
	e.Stop("c1")

	assert.Equal(t, []event{
		{EventTypingStart, "c1"},
		{EventTypingStart, "c2"},
		{EventTypingStop, "c1"},
	}, rec.snapshot())

	e.StopAll()
	assert.Len(t, rec.snapshot(), 4)
	assert.Equal(t, event{EventTypingStop, "c2"}, rec.snapshot()[3])

	e.StopAll()
	assert.Len(t, rec.snapshot(), 4, "nothing left to stop")
}

func TestEmitter_ThrottlesStarts(t *testing.T) {
	rec := &recorder{}
	e := NewEmitter(rec, time.Minute, time.Hour, zerolog.Nop())

	e.Touch("c1")
	e.Stop("c1")
	e.Touch("c1")

	assert.Equal(t, []event{
		{EventTypingStart, "c1"},
		{EventTypingStop, "c1"},
	}, rec.snapshot())
}
