package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/chatsync/internal/core/auth"
	"github.com/hay-kot/chatsync/internal/core/chat"
)

type memStore struct {
	mu    sync.Mutex
	state *auth.State
}

func (s *memStore) Load(_ context.Context) (auth.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return auth.State{}, auth.ErrNoSession
	}
	return *s.state, nil
}

func (s *memStore) Save(_ context.Context, st auth.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &st
	return nil
}

func (s *memStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}

func (s *memStore) get() *auth.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// backend is a fake API that accepts exactly one access token.
type backend struct {
	valid        atomic.Value // string
	refreshDelay time.Duration
	refreshOK    bool

	refreshCalls   atomic.Int32
	protectedCalls atomic.Int32
	seenTokens     sync.Map
}

func newBackend(valid string) *backend {
	b := &backend{refreshOK: true}
	b.valid.Store(valid)
	return b
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		time.Sleep(b.refreshDelay)

		if !b.refreshOK {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var body refreshRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.RefreshToken == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(refreshResponse{AccessToken: b.valid.Load().(string)})
	})
	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, r *http.Request) {
		b.protectedCalls.Add(1)
		b.seenTokens.Store(r.Header.Get("Authorization"), true)
		if r.Header.Get("Authorization") != "Bearer "+b.valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	return mux
}

func newTestManager(t *testing.T, srv *httptest.Server, store auth.Store) *Manager {
	t.Helper()
	return New(Options{
		BaseURL:        srv.URL,
		HTTPClient:     srv.Client(),
		Store:          store,
		RefreshTimeout: 5 * time.Second,
		ExpirySkew:     30 * time.Second,
		Logger:         zerolog.Nop(),
	})
}

func establish(t *testing.T, m *Manager, access string) {
	t.Helper()
	err := m.Establish(context.Background(), auth.Credential{AccessToken: access, RefreshToken: "r1"}, chat.User{ID: "u1", Username: "alice"})
	require.NoError(t, err)
}

func TestDo_NoSessionSendsNothing(t *testing.T) {
	b := newBackend("fresh")
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	m := newTestManager(t, srv, &memStore{})

	_, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/chats"})
	require.ErrorIs(t, err, chat.ErrUnauthenticated)
	assert.Equal(t, int32(0), b.protectedCalls.Load())
	assert.Equal(t, int32(0), b.refreshCalls.Load())
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	b := newBackend("fresh")
	b.refreshDelay = 50 * time.Millisecond
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	m := newTestManager(t, srv, &memStore{})
	establish(t, m, "stale")

	var tokens []string
	var tokensMu sync.Mutex
	m.OnTokenChange(func(tok string) {
		tokensMu.Lock()
		tokens = append(tokens, tok)
		tokensMu.Unlock()
	})

	const n = 10
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/chats"})
			if !assert.NoError(t, err) {
				return
			}
			drain(resp)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, "fresh", m.AccessToken())
	assert.Equal(t, []string{"fresh"}, tokens)
}

func TestDo_ConcurrentRefreshFailureEndsSessionOnce(t *testing.T) {
	b := newBackend("fresh")
	b.refreshDelay = 50 * time.Millisecond
	b.refreshOK = false
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	store := &memStore{}
	m := newTestManager(t, srv, store)
	establish(t, m, "stale")

	var tokens []string
	var tokensMu sync.Mutex
	m.OnTokenChange(func(tok string) {
		tokensMu.Lock()
		tokens = append(tokens, tok)
		tokensMu.Unlock()
	})

	const n = 10
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/chats"})
			if err == nil {
				drain(resp)
			}
			assert.ErrorIs(t, err, chat.ErrUnauthenticated)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Nil(t, store.get())
	assert.Empty(t, m.AccessToken())
	assert.False(t, m.Authenticated())
	assert.Equal(t, []string{""}, tokens)
}

func TestDo_RetriesOnceWithNewToken(t *testing.T) {
	b := newBackend("fresh")
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	store := &memStore{}
	m := newTestManager(t, srv, store)
	establish(t, m, "stale")

	req := &Request{Method: http.MethodGet, Path: "/chats"}
	resp, err := m.Do(context.Background(), req)
	require.NoError(t, err)
	drain(resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, req.Retried)
	assert.Equal(t, "fresh", req.Token)
	assert.Equal(t, int32(2), b.protectedCalls.Load())
	require.NotNil(t, store.get())
	assert.Equal(t, "r1", store.get().RefreshToken)
}

func TestDo_SecondUnauthorizedEndsSession(t *testing.T) {
	var refreshCalls, protectedCalls atomic.Int32

	// Refresh hands out a token the protected endpoint still rejects.
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		refreshCalls.Add(1)
		_ = json.NewEncoder(w).Encode(refreshResponse{AccessToken: "still-bad"})
	})
	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, _ *http.Request) {
		protectedCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &memStore{}
	m := newTestManager(t, srv, store)
	establish(t, m, "stale")

	var last string
	m.OnTokenChange(func(tok string) { last = tok })

	req := &Request{Method: http.MethodGet, Path: "/chats"}
	_, err := m.Do(context.Background(), req)
	require.ErrorIs(t, err, chat.ErrUnauthenticated)

	assert.True(t, req.Retried)
	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, int32(2), protectedCalls.Load())
	assert.Empty(t, m.AccessToken())
	assert.Empty(t, last)
	assert.Nil(t, store.get())
}

func TestDo_RefreshFailureClearsSession(t *testing.T) {
	b := newBackend("fresh")
	b.refreshOK = false
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	store := &memStore{}
	m := newTestManager(t, srv, store)
	establish(t, m, "stale")

	_, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/chats"})
	require.ErrorIs(t, err, chat.ErrUnauthenticated)

	assert.False(t, m.Authenticated())
	assert.Nil(t, store.get())

	protected := b.protectedCalls.Load()
	refreshes := b.refreshCalls.Load()

	_, err = m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/chats"})
	require.ErrorIs(t, err, chat.ErrUnauthenticated)
	assert.Equal(t, protected, b.protectedCalls.Load(), "no request after session cleared")
	assert.Equal(t, refreshes, b.refreshCalls.Load())
}

func TestDo_RefreshesExpiringTokenFirst(t *testing.T) {
	b := newBackend("fresh")
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	expiring, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Second)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	m := newTestManager(t, srv, &memStore{})
	establish(t, m, expiring)

	req := &Request{Method: http.MethodGet, Path: "/chats"}
	resp, err := m.Do(context.Background(), req)
	require.NoError(t, err)
	drain(resp)

	assert.False(t, req.Retried)
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, int32(1), b.protectedCalls.Load())
	_, sawExpiring := b.seenTokens.Load("Bearer " + expiring)
	assert.False(t, sawExpiring)
}

func TestDo_TransportError(t *testing.T) {
	b := newBackend("fresh")
	srv := httptest.NewServer(b.handler())
	m := newTestManager(t, srv, &memStore{})
	establish(t, m, "fresh")
	srv.Close()

	_, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/chats"})
	require.ErrorIs(t, err, chat.ErrTransport)
	assert.True(t, m.Authenticated(), "transport failures keep the session")
}

func TestRestore(t *testing.T) {
	b := newBackend("fresh")
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	t.Run("no stored session", func(t *testing.T) {
		m := newTestManager(t, srv, &memStore{})
		_, err := m.Restore(context.Background())
		require.ErrorIs(t, err, chat.ErrUnauthenticated)
		assert.False(t, m.Authenticated())
	})

	t.Run("restored session refreshes on first request", func(t *testing.T) {
		store := &memStore{state: &auth.State{RefreshToken: "r1", User: &chat.User{ID: "u1", Username: "alice"}}}
		m := newTestManager(t, srv, store)

		user, err := m.Restore(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.Empty(t, m.AccessToken())

		before := b.refreshCalls.Load()
		resp, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/chats"})
		require.NoError(t, err)
		drain(resp)

		assert.Equal(t, before+1, b.refreshCalls.Load())
		assert.Equal(t, "fresh", m.AccessToken())
	})
}

func TestEstablish(t *testing.T) {
	store := &memStore{}
	m := New(Options{Store: store, Logger: zerolog.Nop()})

	var got []string
	m.OnTokenChange(func(tok string) { got = append(got, tok) })

	err := m.Establish(context.Background(), auth.Credential{AccessToken: "a"}, chat.User{})
	require.ErrorIs(t, err, chat.ErrUnauthenticated)

	establish(t, m, "a1")
	require.NoError(t, m.Clear(context.Background()))

	assert.Equal(t, []string{"a1", ""}, got)
	assert.Nil(t, store.get())

	_, ok := m.User()
	assert.False(t, ok)
}
