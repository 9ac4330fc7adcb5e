// Package session owns the authentication credential and authorizes every outbound
// API request with it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hay-kot/chatsync/internal/core/auth"
	"github.com/hay-kot/chatsync/internal/core/chat"
)

// TokenListener is notified with the new access token whenever the credential
// changes. An empty token means the session ended.
type TokenListener func(accessToken string)

// Options configures a Manager.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Store          auth.Store
	RefreshTimeout time.Duration
	ExpirySkew     time.Duration
	Logger         zerolog.Logger
}

// Manager is the single owner of the credential. Readers call AccessToken and never
// hold a copy.
type Manager struct {
	baseURL        string
	client         *http.Client
	store          auth.Store
	refreshTimeout time.Duration
	skew           time.Duration
	log            zerolog.Logger
	now            func() time.Time

	mu   sync.RWMutex
	cred auth.Credential
	user *chat.User

	// notifyMu serializes credential changes with their notifications so listeners
	// observe changes in the order they happened.
	notifyMu  sync.Mutex
	listeners []TokenListener

	flight singleflight.Group
}

// New creates a Manager. The session starts empty; call Restore or Establish.
func New(opts Options) *Manager {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{
		baseURL:        opts.BaseURL,
		client:         client,
		store:          opts.Store,
		refreshTimeout: opts.RefreshTimeout,
		skew:           opts.ExpirySkew,
		log:            opts.Logger,
		now:            time.Now,
	}
}

// OnTokenChange registers a listener for credential changes.
func (m *Manager) OnTokenChange(fn TokenListener) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// AccessToken returns the current access token, or "" when none is held.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred.AccessToken
}

// Authenticated reports whether a refresh token is held.
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred.RefreshToken != ""
}

// User returns the last-known profile of the authenticated user.
func (m *Manager) User() (chat.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return chat.User{}, false
	}
	return *m.user, true
}

// Restore loads the persisted refresh token and profile. The access token stays
// empty until the first request refreshes it.
func (m *Manager) Restore(ctx context.Context) (chat.User, error) {
	state, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			return chat.User{}, fmt.Errorf("restore session: %w", chat.ErrUnauthenticated)
		}
		return chat.User{}, fmt.Errorf("restore session: %w", err)
	}

	m.mu.Lock()
	m.cred = auth.Credential{RefreshToken: state.RefreshToken}
	m.user = state.User
	m.mu.Unlock()

	m.log.Debug().Msg("restored persisted session")

	if state.User == nil {
		return chat.User{}, nil
	}
	return *state.User, nil
}

// Establish installs a freshly issued credential after login or registration.
func (m *Manager) Establish(ctx context.Context, cred auth.Credential, user chat.User) error {
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		return fmt.Errorf("establish session: missing token: %w", chat.ErrUnauthenticated)
	}

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.cred = cred
	m.user = &user
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		return err
	}

	m.notify(cred.AccessToken)
	return nil
}

// SetUser replaces the stored profile, e.g. after a profile update.
func (m *Manager) SetUser(ctx context.Context, user chat.User) error {
	m.mu.Lock()
	if m.cred.RefreshToken == "" {
		m.mu.Unlock()
		return chat.ErrUnauthenticated
	}
	m.user = &user
	m.mu.Unlock()

	return m.persist(ctx)
}

// Clear ends the session in memory and on disk, then notifies listeners with an
// empty token.
func (m *Manager) Clear(ctx context.Context) error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	had := m.cred.RefreshToken != "" || m.cred.AccessToken != ""
	m.cred = auth.Credential{}
	m.user = nil
	m.mu.Unlock()

	err := m.store.Clear(ctx)
	if had {
		m.log.Info().Msg("session cleared")
		m.notify("")
	}
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Do sends req with the current access token. A 401 triggers one coordinated
// refresh and a single retry; a second 401 or a failed refresh clears the session
// and returns chat.ErrUnauthenticated. Without a session no request is sent.
func (m *Manager) Do(ctx context.Context, req *Request) (*http.Response, error) {
	m.mu.RLock()
	token, refresh := m.cred.AccessToken, m.cred.RefreshToken
	m.mu.RUnlock()

	if refresh == "" {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, chat.ErrUnauthenticated)
	}

	if token == "" || m.expiring(token) {
		var err error
		token, err = m.refresh(ctx, token)
		if err != nil {
			return nil, err
		}
	}

	resp, err := m.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	if req.Retried {
		return nil, m.terminate(ctx, req)
	}

	m.log.Debug().Str("path", req.Path).Msg("access token rejected, refreshing")

	token, err = m.refresh(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	req.Retried = true
	resp, err = m.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return nil, m.terminate(ctx, req)
	}
	return resp, nil
}

// Send performs an unauthenticated request (login, register).
func (m *Manager) Send(ctx context.Context, req *Request) (*http.Response, error) {
	return m.send(ctx, req, "")
}

// Refresh forces a credential refresh, coalescing with any refresh in flight.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	return m.refresh(ctx, m.AccessToken())
}

func (m *Manager) send(ctx context.Context, req *Request, token string) (*http.Response, error) {
	hr, err := req.build(ctx, m.baseURL, token)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", req.Method, req.Path, chat.ErrTransport, err)
	}
	return resp, nil
}

func (m *Manager) terminate(ctx context.Context, req *Request) error {
	m.log.Warn().Str("path", req.Path).Msg("request rejected after refresh, ending session")
	if err := m.Clear(ctx); err != nil {
		m.log.Error().Err(err).Msg("failed to clear session")
	}
	return fmt.Errorf("%s %s: %w", req.Method, req.Path, chat.ErrUnauthenticated)
}

func (m *Manager) expiring(token string) bool {
	exp, ok := auth.ExpiresAt(token)
	if !ok {
		return false
	}
	return !m.now().Add(m.skew).Before(exp)
}

// refresh returns a usable access token. stale is the token the caller saw fail (or
// "" if it had none). If another caller already replaced it, the current token is
// returned without a network call.
func (m *Manager) refresh(ctx context.Context, stale string) (string, error) {
	ch := m.flight.DoChan("refresh", func() (any, error) {
		m.mu.RLock()
		current := m.cred.AccessToken
		m.mu.RUnlock()

		if current != "" && current != stale && !m.expiring(current) {
			return current, nil
		}
		return m.exchange(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("refresh session: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// exchange trades the refresh token for a new access token. Any failure ends the
// session.
func (m *Manager) exchange(ctx context.Context) (string, error) {
	m.mu.RLock()
	refresh := m.cred.RefreshToken
	m.mu.RUnlock()

	if refresh == "" {
		return "", fmt.Errorf("refresh session: %w", chat.ErrUnauthenticated)
	}

	if m.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.refreshTimeout)
		defer cancel()
	}

	out, err := m.postRefresh(ctx, refresh)
	if err != nil {
		m.log.Warn().Err(err).Msg("token refresh failed")
		if clearErr := m.Clear(ctx); clearErr != nil {
			m.log.Error().Err(clearErr).Msg("failed to clear session")
		}
		return "", fmt.Errorf("refresh session: %w: %w", chat.ErrUnauthenticated, err)
	}

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.cred.RefreshToken != refresh {
		// Session was cleared or replaced while the exchange was in flight.
		m.mu.Unlock()
		return "", fmt.Errorf("refresh session: %w", chat.ErrUnauthenticated)
	}
	m.cred.AccessToken = out.AccessToken
	if out.RefreshToken != "" {
		m.cred.RefreshToken = out.RefreshToken
	}
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		m.log.Error().Err(err).Msg("failed to persist refreshed session")
	}

	m.log.Debug().Msg("access token refreshed")
	m.notify(out.AccessToken)
	return out.AccessToken, nil
}

func (m *Manager) postRefresh(ctx context.Context, refresh string) (refreshResponse, error) {
	req, err := NewRequest(http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refresh})
	if err != nil {
		return refreshResponse{}, err
	}

	resp, err := m.send(ctx, req, "")
	if err != nil {
		return refreshResponse{}, err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return refreshResponse{}, fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}

	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return refreshResponse{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if out.AccessToken == "" {
		return refreshResponse{}, errors.New("refresh response missing access token")
	}
	return out, nil
}

func (m *Manager) persist(ctx context.Context) error {
	m.mu.RLock()
	state := auth.State{RefreshToken: m.cred.RefreshToken, UpdatedAt: m.now()}
	if m.user != nil {
		u := *m.user
		state.User = &u
	}
	m.mu.RUnlock()

	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// notify must be called with notifyMu held.
func (m *Manager) notify(token string) {
	for _, fn := range m.listeners {
		fn(token)
	}
}
