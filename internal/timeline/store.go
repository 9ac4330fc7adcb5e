// Package timeline holds the client's canonical view of conversations and the
// message window of the conversation being viewed.
package timeline

import (
	"cmp"
	"slices"
	"sync"

	"github.com/hay-kot/chatsync/internal/core/chat"
)

// window is the loaded slice of the active conversation's history.
type window struct {
	conversationID string
	messages       []chat.Message // ascending, unique by ID
	ids            map[string]struct{}
	deleted        map[string]struct{} // removed while open; never re-inserted
	pagesLoaded    int
	limit          int
	total          int
}

func newWindow(conversationID string) *window {
	return &window{
		conversationID: conversationID,
		ids:            make(map[string]struct{}),
		deleted:        make(map[string]struct{}),
	}
}

// insert adds msg if its id is unseen and not deleted, keeping ascending order.
func (w *window) insert(msg chat.Message) bool {
	if _, ok := w.ids[msg.ID]; ok {
		return false
	}
	if _, ok := w.deleted[msg.ID]; ok {
		return false
	}
	w.ids[msg.ID] = struct{}{}

	i, _ := slices.BinarySearchFunc(w.messages, msg, chat.Compare)
	w.messages = slices.Insert(w.messages, i, msg)
	return true
}

func (w *window) index(id string) int {
	if _, ok := w.ids[id]; !ok {
		return -1
	}
	return slices.IndexFunc(w.messages, func(m chat.Message) bool { return m.ID == id })
}

func (w *window) newest() *chat.Message {
	if len(w.messages) == 0 {
		return nil
	}
	m := w.messages[len(w.messages)-1].Clone()
	return &m
}

func (w *window) snapshot() chat.Timeline {
	msgs := make([]chat.Message, len(w.messages))
	for i, m := range w.messages {
		msgs[i] = m.Clone()
	}
	return chat.Timeline{
		ConversationID: w.conversationID,
		Messages:       msgs,
		HasMore:        w.pagesLoaded > 0 && w.pagesLoaded*w.limit < w.total,
		NextPage:       w.pagesLoaded + 1,
		Total:          w.total,
	}
}

type summary struct {
	conv chat.Conversation
	// counted holds ids already included in UnreadCount.
	counted map[string]struct{}
}

// Store is safe for concurrent use. Every mutation runs in a single critical
// section, so readers never observe a half-applied change.
type Store struct {
	mu     sync.RWMutex
	self   string
	convs  map[string]*summary
	active string
	win    *window
}

// New creates an empty Store.
func New() *Store {
	return &Store{convs: make(map[string]*summary)}
}

// SetSelf records the id of the viewing user. Pushed messages sent by this user are
// ignored; the submission response is authoritative for them.
func (s *Store) SetSelf(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = userID
}

// Reset drops all state, e.g. on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = ""
	s.convs = make(map[string]*summary)
	s.active = ""
	s.win = nil
}

// SetConversations replaces the conversation list. The list is authoritative for
// membership, but a locally known preview that is newer than the server's is kept
// together with its unread count. If the active conversation is no longer listed
// its window is dropped and its id returned.
func (s *Store) SetConversations(convs []chat.Conversation) (evicted string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*summary, len(convs))
	for _, c := range convs {
		if c.ID == "" {
			continue
		}
		next[c.ID] = s.merged(c)
	}
	s.convs = next

	if s.active != "" {
		if _, ok := s.convs[s.active]; !ok {
			evicted = s.active
			s.active = ""
			s.win = nil
		}
	}
	return evicted
}

// UpsertConversation inserts or replaces one conversation's metadata.
func (s *Store) UpsertConversation(c chat.Conversation) {
	if c.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = s.merged(c)
}

// merged combines incoming server metadata with local state. Caller holds mu.
func (s *Store) merged(c chat.Conversation) *summary {
	next := &summary{conv: c.Clone(), counted: make(map[string]struct{})}

	if prev, ok := s.convs[c.ID]; ok && newer(prev.conv.LastMessage, c.LastMessage) {
		next.conv.LastMessage = prev.conv.LastMessage
		next.conv.UnreadCount = prev.conv.UnreadCount
		next.counted = prev.counted
	}
	if c.ID == s.active {
		next.conv.UnreadCount = 0
		next.counted = make(map[string]struct{})
	}
	return next
}

// RemoveConversation deletes a conversation. If it was active, the window is dropped.
func (s *Store) RemoveConversation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; !ok {
		return false
	}
	delete(s.convs, id)
	if s.active == id {
		s.active = ""
		s.win = nil
	}
	return true
}

// Select makes id the active conversation and marks it read. Selecting a different
// conversation evicts the previous window; its summary is kept. An empty id clears
// the selection. It reports whether the active conversation changed.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sum, ok := s.convs[id]; ok {
		sum.conv.UnreadCount = 0
		clear(sum.counted)
	}

	if s.active == id {
		return false
	}

	s.active = id
	s.win = nil
	if id != "" {
		s.win = newWindow(id)
	}
	return true
}

// ActiveID returns the id of the active conversation, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Active returns a snapshot of the active conversation's window.
func (s *Store) Active() (chat.Timeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.win == nil {
		return chat.Timeline{}, false
	}
	return s.win.snapshot(), true
}

// Conversations returns a snapshot of all conversations, most recently active first.
func (s *Store) Conversations() []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Conversation, 0, len(s.convs))
	for _, sum := range s.convs {
		out = append(out, sum.conv.Clone())
	}
	slices.SortFunc(out, func(a, b chat.Conversation) int {
		if c := b.LastActivity().Compare(a.LastActivity()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Conversation returns a snapshot of one conversation.
func (s *Store) Conversation(id string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.convs[id]
	if !ok {
		return chat.Conversation{}, false
	}
	return sum.conv.Clone(), true
}

// LoadPage merges one page of history for conversationID.
func (s *Store) LoadPage(conversationID string, page, limit, total int, msgs []chat.Message) Result {
	return s.Apply(Mutation{
		Kind:           PageLoaded,
		ConversationID: conversationID,
		Page:           page,
		Limit:          limit,
		Total:          total,
		Messages:       msgs,
	})
}

// ApplyPushed applies a message delivered by the push channel.
func (s *Store) ApplyPushed(msg chat.Message) Result {
	return s.Apply(Mutation{Kind: Pushed, ConversationID: msg.ConversationID, Message: msg})
}

// ApplySubmission applies the server's copy of a message the viewer sent.
func (s *Store) ApplySubmission(msg chat.Message) Result {
	return s.Apply(Mutation{Kind: Submitted, ConversationID: msg.ConversationID, Message: msg})
}

// ApplyEdit replaces a known message. Unknown ids are ignored.
func (s *Store) ApplyEdit(msg chat.Message) Result {
	return s.Apply(Mutation{Kind: Edited, ConversationID: msg.ConversationID, Message: msg})
}

// ApplyDeletion removes a message. conversationID may be empty.
func (s *Store) ApplyDeletion(conversationID, messageID string) Result {
	return s.Apply(Mutation{Kind: Deleted, ConversationID: conversationID, MessageID: messageID})
}

// Apply performs m atomically.
func (s *Store) Apply(m Mutation) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m.Kind {
	case PageLoaded:
		return s.applyPage(m)
	case Pushed:
		if m.Message.SenderID != "" && m.Message.SenderID == s.self {
			return Result{}
		}
		return s.applyMessage(m.Message, true)
	case Submitted:
		return s.applyMessage(m.Message, false)
	case Edited:
		return s.applyEdit(m.Message)
	case Deleted:
		return s.applyDelete(m.ConversationID, m.MessageID)
	default:
		return Result{}
	}
}

func (s *Store) applyPage(m Mutation) Result {
	var res Result

	// A page for a conversation that is no longer active only refreshes its preview.
	if s.win == nil || m.ConversationID != s.win.conversationID {
		if sum, ok := s.convs[m.ConversationID]; ok {
			if latest := newestOf(m.Messages); newer(latest, sum.conv.LastMessage) {
				sum.conv.LastMessage = latest
				res.Applied = true
			}
		}
		return res
	}

	w := s.win
	for _, msg := range m.Messages {
		if msg.ID == "" {
			continue
		}
		msg.ConversationID = m.ConversationID
		if w.insert(msg.Clone()) {
			res.Applied = true
		}
	}

	if m.Page > w.pagesLoaded {
		w.pagesLoaded = m.Page
		res.Applied = true
	}
	if m.Limit > 0 {
		w.limit = m.Limit
	}
	if m.Total != w.total {
		w.total = m.Total
		res.Applied = true
	}
	res.Active = res.Applied

	if sum, ok := s.convs[m.ConversationID]; ok {
		if latest := w.newest(); newer(latest, sum.conv.LastMessage) {
			sum.conv.LastMessage = latest
		}
	}
	return res
}

// applyMessage handles pushed and submitted messages. countUnread is false for the
// viewer's own submissions.
func (s *Store) applyMessage(msg chat.Message, countUnread bool) Result {
	var res Result
	if msg.ID == "" || msg.ConversationID == "" {
		return res
	}

	if s.win != nil && s.win.conversationID == msg.ConversationID {
		if _, gone := s.win.deleted[msg.ID]; gone {
			return res
		}
	}

	sum, ok := s.convs[msg.ConversationID]
	if !ok {
		sum = &summary{
			conv:    chat.Conversation{ID: msg.ConversationID, CreatedAt: msg.CreatedAt},
			counted: make(map[string]struct{}),
		}
		s.convs[msg.ConversationID] = sum
		res.NewConversation = true
		res.Applied = true
	}

	if s.win != nil && s.win.conversationID == msg.ConversationID {
		if s.win.insert(msg.Clone()) {
			res.Applied = true
			res.Active = true
		}
	} else if countUnread {
		if _, seen := sum.counted[msg.ID]; !seen {
			sum.counted[msg.ID] = struct{}{}
			sum.conv.UnreadCount++
			res.Applied = true
		}
	}

	if newer(&msg, sum.conv.LastMessage) {
		c := msg.Clone()
		sum.conv.LastMessage = &c
		res.Applied = true
	}
	return res
}

func (s *Store) applyEdit(msg chat.Message) Result {
	var res Result
	if msg.ID == "" {
		return res
	}

	if s.win != nil && (msg.ConversationID == "" || msg.ConversationID == s.win.conversationID) {
		if i := s.win.index(msg.ID); i >= 0 {
			s.win.messages[i] = edited(s.win.messages[i], msg)
			res.Applied = true
			res.Active = true
		}
	}

	for _, sum := range s.convs {
		last := sum.conv.LastMessage
		if last != nil && last.ID == msg.ID {
			e := edited(*last, msg)
			sum.conv.LastMessage = &e
			res.Applied = true
		}
	}
	return res
}

// edited returns prev with the mutable fields of next applied. Identity and
// position in the timeline never change through an edit.
func edited(prev, next chat.Message) chat.Message {
	out := prev.Clone()
	out.Content = next.Content
	if next.Type != "" {
		out.Type = next.Type
	}
	if next.EditedAt != nil {
		t := *next.EditedAt
		out.EditedAt = &t
	}
	return out
}

func (s *Store) applyDelete(conversationID, id string) Result {
	var res Result
	if id == "" {
		return res
	}

	if s.win != nil && (conversationID == "" || conversationID == s.win.conversationID) {
		s.win.deleted[id] = struct{}{}
		if i := s.win.index(id); i >= 0 {
			s.win.messages = slices.Delete(s.win.messages, i, i+1)
			delete(s.win.ids, id)
			res.Applied = true
			res.Active = true
		}
	}

	for convID, sum := range s.convs {
		if conversationID != "" && convID != conversationID {
			continue
		}
		if _, ok := sum.counted[id]; ok {
			delete(sum.counted, id)
			sum.conv.UnreadCount = max(sum.conv.UnreadCount-1, 0)
			res.Applied = true
		}
		if sum.conv.LastMessage != nil && sum.conv.LastMessage.ID == id {
			sum.conv.LastMessage = nil
			if s.win != nil && s.win.conversationID == convID {
				sum.conv.LastMessage = s.win.newest()
			}
			res.Applied = true
		}
	}
	return res
}

// newer reports whether a should replace b as a conversation preview.
func newer(a, b *chat.Message) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return chat.Compare(*a, *b) > 0
}

func newestOf(msgs []chat.Message) *chat.Message {
	var latest *chat.Message
	for i := range msgs {
		if msgs[i].ID == "" {
			continue
		}
		if newer(&msgs[i], latest) {
			m := msgs[i].Clone()
			latest = &m
		}
	}
	return latest
}
