package timeline

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/chatsync/internal/core/chat"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func msg(id, conv string, sec int) chat.Message {
	return chat.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       "peer",
		Content:        "body " + id,
		Type:           chat.MessageText,
		CreatedAt:      epoch.Add(time.Duration(sec) * time.Second),
	}
}

func ids(t chat.Timeline) []string {
	out := make([]string, len(t.Messages))
	for i, m := range t.Messages {
		out[i] = m.ID
	}
	return out
}

func newStore(convs ...string) *Store {
	s := New()
	s.SetSelf("me")
	list := make([]chat.Conversation, len(convs))
	for i, id := range convs {
		list[i] = chat.Conversation{ID: id, CreatedAt: epoch}
	}
	s.SetConversations(list)
	return s
}

func TestLoadPage_IdempotentMerge(t *testing.T) {
	s := newStore("c1")
	s.Select("c1")

	page := []chat.Message{msg("m3", "c1", 3), msg("m1", "c1", 1), msg("m2", "c1", 2)}

	res := s.LoadPage("c1", 1, 50, 3, page)
	assert.True(t, res.Applied)
	first, ok := s.Active()
	require.True(t, ok)

	res = s.LoadPage("c1", 1, 50, 3, page)
	assert.False(t, res.Applied)
	second, _ := s.Active()

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(second))

	res = s.ApplyPushed(msg("m2", "c1", 2))
	assert.False(t, res.Applied)
}

func TestApply_OrderConvergesUnderAnyInterleaving(t *testing.T) {
	history := []chat.Message{msg("a", "c1", 1), msg("b", "c1", 2), msg("c", "c1", 3)}
	live := []chat.Message{msg("d", "c1", 4), msg("c", "c1", 3), msg("e", "c1", 4)}
	mine := chat.Message{ID: "f", ConversationID: "c1", SenderID: "me", CreatedAt: epoch.Add(5 * time.Second)}

	ops := []func(*Store){
		func(s *Store) { s.LoadPage("c1", 1, 50, 5, history) },
		func(s *Store) { s.ApplyPushed(live[0]) },
		func(s *Store) { s.ApplyPushed(live[1]) },
		func(s *Store) { s.ApplyPushed(live[2]) },
		func(s *Store) { s.ApplySubmission(mine) },
		func(s *Store) { s.ApplyPushed(mine) },
	}

	want := []string{"a", "b", "c", "d", "e", "f"}

	rng := rand.New(rand.NewPCG(1, 2))
	for i := range 50 {
		s := newStore("c1")
		s.Select("c1")

		order := rng.Perm(len(ops))
		for _, j := range order {
			ops[j](s)
		}

		got, _ := s.Active()
		assert.Equal(t, want, ids(got), "permutation %d: %v", i, order)
	}
}

func TestLoadPage_Pagination(t *testing.T) {
	s := newStore("c1")
	s.Select("c1")

	page := func(n, start int) []chat.Message {
		out := make([]chat.Message, n)
		for i := range n {
			sec := 1000 - (start + i)
			out[i] = msg(fmt.Sprintf("m%03d", start+i), "c1", sec)
		}
		return out
	}

	tl, _ := s.Active()
	assert.False(t, tl.HasMore)
	assert.Equal(t, 1, tl.NextPage)

	s.LoadPage("c1", 1, 50, 120, page(50, 0))
	tl, _ = s.Active()
	assert.Len(t, tl.Messages, 50)
	assert.True(t, tl.HasMore)
	assert.Equal(t, 2, tl.NextPage)

	s.LoadPage("c1", 2, 50, 120, page(50, 50))
	tl, _ = s.Active()
	assert.Len(t, tl.Messages, 100)
	assert.True(t, tl.HasMore)
	assert.Equal(t, 3, tl.NextPage)

	s.LoadPage("c1", 3, 50, 120, page(20, 100))
	tl, _ = s.Active()
	assert.Len(t, tl.Messages, 120)
	assert.False(t, tl.HasMore)
	assert.Equal(t, 4, tl.NextPage)

	for i := 1; i < len(tl.Messages); i++ {
		assert.LessOrEqual(t, chat.Compare(tl.Messages[i-1], tl.Messages[i]), 0)
	}
}

func TestApplyPushed_InactiveConversation(t *testing.T) {
	s := newStore("c1", "c2")
	s.Select("c1")

	m := msg("x1", "c2", 10)
	res := s.ApplyPushed(m)
	assert.True(t, res.Applied)
	assert.False(t, res.Active)

	res = s.ApplyPushed(m)
	assert.False(t, res.Applied, "same id counted once")

	c2, ok := s.Conversation("c2")
	require.True(t, ok)
	assert.Equal(t, 1, c2.UnreadCount)
	require.NotNil(t, c2.LastMessage)
	assert.Equal(t, "x1", c2.LastMessage.ID)

	tl, _ := s.Active()
	assert.Empty(t, tl.Messages, "not materialized into the active window")

	s.Select("c2")
	c2, _ = s.Conversation("c2")
	assert.Equal(t, 0, c2.UnreadCount)
}

func TestApplyPushed_EchoDropped(t *testing.T) {
	s := newStore("c1")
	s.Select("c1")

	own := msg("m1", "c1", 1)
	own.SenderID = "me"

	res := s.ApplyPushed(own)
	assert.False(t, res.Applied)

	tl, _ := s.Active()
	assert.Empty(t, tl.Messages)

	res = s.ApplySubmission(own)
	assert.True(t, res.Applied)
	tl, _ = s.Active()
	assert.Equal(t, []string{"m1"}, ids(tl))
}

func TestApplyPushed_UnknownConversation(t *testing.T) {
	s := newStore("c1")

	res := s.ApplyPushed(msg("m1", "c9", 1))
	assert.True(t, res.NewConversation)

	c9, ok := s.Conversation("c9")
	require.True(t, ok)
	assert.Equal(t, 1, c9.UnreadCount)

	// Full metadata arrives later; the newer local preview survives.
	s.UpsertConversation(chat.Conversation{ID: "c9", Name: "team", IsGroup: true, CreatedAt: epoch})
	c9, _ = s.Conversation("c9")
	assert.Equal(t, "team", c9.Name)
	assert.Equal(t, 1, c9.UnreadCount)
	require.NotNil(t, c9.LastMessage)
	assert.Equal(t, "m1", c9.LastMessage.ID)
}

func TestLoadPage_LateResponseForPreviousConversation(t *testing.T) {
	s := newStore("c1", "c2")
	s.Select("c1")
	s.Select("c2")
	s.LoadPage("c2", 1, 50, 1, []chat.Message{msg("b1", "c2", 1)})

	res := s.LoadPage("c1", 1, 50, 2, []chat.Message{msg("a1", "c1", 1), msg("a2", "c1", 2)})
	assert.True(t, res.Applied)
	assert.False(t, res.Active)

	tl, _ := s.Active()
	assert.Equal(t, "c2", tl.ConversationID)
	assert.Equal(t, []string{"b1"}, ids(tl))

	c1, _ := s.Conversation("c1")
	require.NotNil(t, c1.LastMessage)
	assert.Equal(t, "a2", c1.LastMessage.ID)
}

func TestSelect_EvictsPreviousWindow(t *testing.T) {
	s := newStore("c1", "c2")
	s.Select("c1")
	s.LoadPage("c1", 1, 50, 1, []chat.Message{msg("a1", "c1", 1)})

	assert.True(t, s.Select("c2"))
	assert.False(t, s.Select("c2"))

	s.Select("c1")
	tl, _ := s.Active()
	assert.Empty(t, tl.Messages)

	c1, _ := s.Conversation("c1")
	require.NotNil(t, c1.LastMessage, "summary kept")
}

func TestApplyEdit(t *testing.T) {
	s := newStore("c1")
	s.Select("c1")
	s.LoadPage("c1", 1, 50, 2, []chat.Message{msg("m1", "c1", 1), msg("m2", "c1", 2)})

	t.Run("absent id is a no-op", func(t *testing.T) {
		before, _ := s.Active()
		res := s.ApplyEdit(chat.Message{ID: "nope", ConversationID: "c1", Content: "x"})
		assert.False(t, res.Applied)
		after, _ := s.Active()
		assert.Equal(t, before, after)
	})

	t.Run("replaces content in place", func(t *testing.T) {
		at := epoch.Add(time.Hour)
		res := s.ApplyEdit(chat.Message{ID: "m1", Content: "fixed", EditedAt: &at, CreatedAt: epoch.Add(99 * time.Second)})
		assert.True(t, res.Applied)

		tl, _ := s.Active()
		assert.Equal(t, []string{"m1", "m2"}, ids(tl))
		assert.Equal(t, "fixed", tl.Messages[0].Content)
		require.NotNil(t, tl.Messages[0].EditedAt)
	})

	t.Run("updates preview", func(t *testing.T) {
		s.ApplyEdit(chat.Message{ID: "m2", ConversationID: "c1", Content: "latest"})
		c1, _ := s.Conversation("c1")
		require.NotNil(t, c1.LastMessage)
		assert.Equal(t, "latest", c1.LastMessage.Content)
	})
}

func TestApplyDeletion(t *testing.T) {
	s := newStore("c1", "c2")
	s.Select("c1")
	s.LoadPage("c1", 1, 50, 2, []chat.Message{msg("m1", "c1", 1), msg("m2", "c1", 2)})

	res := s.ApplyDeletion("", "missing")
	assert.False(t, res.Applied)

	res = s.ApplyDeletion("", "m2")
	assert.True(t, res.Applied)

	tl, _ := s.Active()
	assert.Equal(t, []string{"m1"}, ids(tl))

	c1, _ := s.Conversation("c1")
	require.NotNil(t, c1.LastMessage)
	assert.Equal(t, "m1", c1.LastMessage.ID)

	s.ApplyPushed(msg("x1", "c2", 5))
	s.ApplyDeletion("c2", "x1")
	c2, _ := s.Conversation("c2")
	assert.Equal(t, 0, c2.UnreadCount)
	assert.Nil(t, c2.LastMessage)
}

func TestApplyDeletion_LatePageDoesNotRestore(t *testing.T) {
	page := []chat.Message{msg("a", "c1", 1), msg("b", "c1", 2)}

	tests := []struct {
		name string
		ops  func(s *Store)
	}{
		{
			name: "page then delete then same page",
			ops: func(s *Store) {
				s.LoadPage("c1", 1, 50, 2, page)
				s.ApplyDeletion("c1", "b")
				s.LoadPage("c1", 1, 50, 2, page)
			},
		},
		{
			name: "delete before page",
			ops: func(s *Store) {
				s.ApplyDeletion("", "b")
				s.LoadPage("c1", 1, 50, 2, page)
			},
		},
		{
			name: "delete then replayed push",
			ops: func(s *Store) {
				s.LoadPage("c1", 1, 50, 2, page)
				s.ApplyDeletion("c1", "b")
				s.ApplyPushed(msg("b", "c1", 2))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore("c1")
			s.Select("c1")
			tt.ops(s)

			tl, ok := s.Active()
			require.True(t, ok)
			assert.Equal(t, []string{"a"}, ids(tl))

			conv, _ := s.Conversation("c1")
			require.NotNil(t, conv.LastMessage)
			assert.Equal(t, "a", conv.LastMessage.ID)
		})
	}
}

func TestSetConversations_EvictsActive(t *testing.T) {
	s := newStore("c1", "c2")
	s.Select("c1")

	assert.Empty(t, s.SetConversations([]chat.Conversation{{ID: "c1"}, {ID: "c2"}}))
	assert.Equal(t, "c1", s.ActiveID())

	assert.Equal(t, "c1", s.SetConversations([]chat.Conversation{{ID: "c2"}}))
	assert.Empty(t, s.ActiveID())
	_, ok := s.Active()
	assert.False(t, ok)
}

func TestConversations_Ordering(t *testing.T) {
	s := New()
	s.SetConversations([]chat.Conversation{
		{ID: "old", CreatedAt: epoch},
		{ID: "new", CreatedAt: epoch.Add(time.Minute)},
		{ID: "tie-b", CreatedAt: epoch.Add(time.Second)},
		{ID: "tie-a", CreatedAt: epoch.Add(time.Second)},
	})

	list := s.Conversations()
	got := make([]string, len(list))
	for i, c := range list {
		got[i] = c.ID
	}
	assert.Equal(t, []string{"new", "tie-a", "tie-b", "old"}, got)

	s.ApplyPushed(msg("m1", "old", 3600))
	assert.Equal(t, "old", s.Conversations()[0].ID)
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := newStore("c1")
	s.Select("c1")
	m := msg("m1", "c1", 1)
	m.Sender = &chat.User{ID: "peer", Username: "bob"}
	s.LoadPage("c1", 1, 50, 1, []chat.Message{m})

	tl, _ := s.Active()
	tl.Messages[0].Content = "mutated"
	tl.Messages[0].Sender.Username = "mallory"

	again, _ := s.Active()
	assert.Equal(t, "body m1", again.Messages[0].Content)
	assert.Equal(t, "bob", again.Messages[0].Sender.Username)
}

func TestRemoveConversation(t *testing.T) {
	s := newStore("c1")
	s.Select("c1")

	assert.True(t, s.RemoveConversation("c1"))
	assert.False(t, s.RemoveConversation("c1"))
	assert.Empty(t, s.ActiveID())

	_, ok := s.Active()
	assert.False(t, ok)
}
