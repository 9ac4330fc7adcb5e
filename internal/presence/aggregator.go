// Package presence tracks who is typing in which conversation and who is online.
package presence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hay-kot/chatsync/internal/core/chat"
)

// Aggregator holds per-conversation typing sets with expiry and the global online
// set. It is safe for concurrent use.
type Aggregator struct {
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	typing map[string]map[string]time.Time // conversation -> user -> expiry
	online map[string]bool
}

// NewAggregator creates an Aggregator whose typing entries live for timeout unless
// refreshed.
func NewAggregator(timeout time.Duration) *Aggregator {
	return &Aggregator{
		timeout: timeout,
		now:     time.Now,
		typing:  make(map[string]map[string]time.Time),
		online:  make(map[string]bool),
	}
}

// TypingStart adds or refreshes userID's typing entry in conversationID. It reports
// whether the user was not already shown as typing.
func (a *Aggregator) TypingStart(conversationID, userID string) bool {
	if conversationID == "" || userID == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	users, ok := a.typing[conversationID]
	if !ok {
		users = make(map[string]time.Time)
		a.typing[conversationID] = users
	}

	exp, existed := users[userID]
	users[userID] = now.Add(a.timeout)
	return !existed || !exp.After(now)
}

// TypingStop removes userID's typing entry immediately.
func (a *Aggregator) TypingStop(conversationID, userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	users, ok := a.typing[conversationID]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(a.typing, conversationID)
	}
	return true
}

// Typing returns the users currently typing in conversationID, sorted. Expired
// entries are filtered even if the sweeper has not removed them yet.
func (a *Aggregator) Typing(conversationID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	var out []string
	for user, exp := range a.typing[conversationID] {
		if exp.After(now) {
			out = append(out, user)
		}
	}
	slices.Sort(out)
	return out
}

// SetOnline records a presence change. It reports whether the value changed.
func (a *Aggregator) SetOnline(userID string, online bool) bool {
	if userID == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.online[userID] == online {
		return false
	}
	if online {
		a.online[userID] = true
	} else {
		delete(a.online, userID)
	}
	return true
}

// Seed initializes presence from users fetched over REST. Later push events win.
func (a *Aggregator) Seed(users []chat.User) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, u := range users {
		if u.ID == "" {
			continue
		}
		if u.IsOnline {
			a.online[u.ID] = true
		} else {
			delete(a.online, u.ID)
		}
	}
}

// Online reports whether userID is online.
func (a *Aggregator) Online(userID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.online[userID]
}

// OnlineUsers returns the ids of all online users, sorted.
func (a *Aggregator) OnlineUsers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.online))
	for id := range a.online {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Sweep removes expired typing entries and returns how many were removed.
func (a *Aggregator) Sweep() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	removed := 0
	for conv, users := range a.typing {
		for user, exp := range users {
			if !exp.After(now) {
				delete(users, user)
				removed++
			}
		}
		if len(users) == 0 {
			delete(a.typing, conv)
		}
	}
	return removed
}

// Reset forgets all presence state.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.typing = make(map[string]map[string]time.Time)
	a.online = make(map[string]bool)
}

// Run sweeps expired typing entries every interval until ctx is done. onExpire, if
// set, is called after a sweep that removed something.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration, onExpire func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.Sweep() > 0 && onExpire != nil {
				onExpire()
			}
		}
	}
}
