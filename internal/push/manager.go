// Package push manages the client's single real-time connection to the server.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	// ErrPersistentDisconnect is reported once reconnection attempts are exhausted.
	ErrPersistentDisconnect = errors.New("push channel persistently disconnected")
	// ErrNotConnected is returned by Emit while no connection is open.
	ErrNotConnected = errors.New("push channel not connected")
)

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// Failed is terminal for the current credential. A new Connect call restarts.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a Manager.
type Options struct {
	URL               string
	Dialer            Dialer
	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	Logger            zerolog.Logger

	// OnEvent receives every inbound and lifecycle event of the current connection,
	// on the connection's read goroutine.
	OnEvent func(Event)
	// OnState receives state transitions. err is set for Disconnected after a
	// failure and for Failed (wrapping ErrPersistentDisconnect).
	OnState func(State, error)
	// OnUnauthorized is called when the server rejects the token during the
	// handshake. It is expected to obtain a new token and call Connect with it.
	OnUnauthorized func()
}

// Manager owns at most one live connection, bound to one access token. It is safe
// for concurrent use.
type Manager struct {
	opts Options
	log  zerolog.Logger

	// gen identifies the current connection lifecycle. Work from an older
	// generation is discarded.
	gen atomic.Uint64

	mu     sync.Mutex
	token  string
	state  State
	conn   Conn
	cancel context.CancelFunc
	rooms  map[string]struct{}
	closed bool

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a Manager. Nothing is dialed until Connect.
func New(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	return &Manager{
		opts:  opts,
		log:   opts.Logger,
		rooms: make(map[string]struct{}),
	}
}

// Connect binds the manager to token. The same token while a connection lifecycle
// is running is a no-op; a different token tears the old connection down before the
// new one is dialed; an empty token disconnects and forgets every room.
func (m *Manager) Connect(token string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if token == "" {
		clear(m.rooms)
	}
	if token == m.token && (token == "" || m.cancel != nil) {
		m.mu.Unlock()
		return
	}

	m.teardownLocked()
	m.token = token

	if token == "" {
		m.state = Disconnected
		m.mu.Unlock()
		m.log.Debug().Msg("push channel disconnected")
		m.notifyState(Disconnected, nil)
		return
	}

	gen := m.gen.Load()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, gen, token)
}

// Subscribe records interest in a conversation room and joins it if connected. The
// room is re-joined after every reconnect.
func (m *Manager) Subscribe(conversationID string) {
	m.mu.Lock()
	m.rooms[conversationID] = struct{}{}
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		if err := m.write(context.Background(), conn, EventJoinChat, RoomPayload{ChatID: conversationID}); err != nil {
			m.log.Warn().Err(err).Str("chat", conversationID).Msg("join failed")
		}
	}
}

// Unsubscribe forgets a conversation room and leaves it if connected.
func (m *Manager) Unsubscribe(conversationID string) {
	m.mu.Lock()
	_, had := m.rooms[conversationID]
	delete(m.rooms, conversationID)
	conn := m.conn
	m.mu.Unlock()

	if had && conn != nil {
		if err := m.write(context.Background(), conn, EventLeaveChat, RoomPayload{ChatID: conversationID}); err != nil {
			m.log.Warn().Err(err).Str("chat", conversationID).Msg("leave failed")
		}
	}
}

// Rooms returns the subscribed conversation ids.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rooms))
	for r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// Emit sends an event on the current connection.
func (m *Manager) Emit(ctx context.Context, event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return m.write(ctx, conn, event, payload)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close tears down the connection and waits for background work to stop. The
// manager cannot be reused.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.teardownLocked()
	m.state = Disconnected
	m.mu.Unlock()

	m.wg.Wait()
}

// teardownLocked ends the current lifecycle. Caller holds mu.
func (m *Manager) teardownLocked() {
	m.gen.Add(1)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) run(ctx context.Context, gen uint64, token string) {
	defer m.wg.Done()

	var lastErr error
	for attempt := 0; ; {
		if attempt > 0 {
			if attempt > m.opts.ReconnectAttempts {
				m.fail(gen, lastErr)
				return
			}
			m.setState(gen, Disconnected, lastErr)

			delay := m.backoff(attempt)
			m.log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		m.setState(gen, Connecting, nil)

		conn, err := m.dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			lastErr = err

			if errors.Is(err, ErrHandshakeUnauthorized) && m.opts.OnUnauthorized != nil {
				m.log.Warn().Msg("push handshake rejected, requesting new credential")
				m.release(gen)
				m.setState(gen, Disconnected, err)
				m.opts.OnUnauthorized()
				return
			}

			m.log.Warn().Err(err).Int("attempt", attempt).Msg("push connect failed")
			m.deliverError(gen, err)
			attempt++
			continue
		}

		if !m.attach(gen, conn) {
			_ = conn.Close()
			return
		}

		attempt = 0
		m.log.Info().Msg("push channel connected")
		m.rejoin(conn)
		m.setState(gen, Connected, nil)
		m.deliver(gen, Event{Type: EventConnect})

		lastErr = m.readLoop(gen, conn)
		m.detach(conn)

		if ctx.Err() != nil {
			return
		}

		m.log.Warn().Err(lastErr).Msg("push channel lost")
		m.deliver(gen, Event{Type: EventDisconnect})
		attempt = 1
	}
}

func (m *Manager) dial(ctx context.Context, token string) (Conn, error) {
	if m.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()
	}
	return m.opts.Dialer.Dial(ctx, m.opts.URL, token)
}

// backoff returns the delay before reconnect attempt n (1-based): the base delay
// doubled per attempt, capped at the max delay.
func (m *Manager) backoff(n int) time.Duration {
	delay := m.opts.ReconnectDelay * time.Duration(1<<uint(min(n-1, 30)))
	if m.opts.ReconnectMaxDelay > 0 && (delay > m.opts.ReconnectMaxDelay || delay <= 0) {
		delay = m.opts.ReconnectMaxDelay
	}
	return delay
}

func (m *Manager) readLoop(gen uint64, conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			m.log.Debug().Msg("dropping malformed push frame")
			continue
		}
		m.deliver(gen, ev)
	}
}

func (m *Manager) attach(gen uint64, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen.Load() != gen {
		return false
	}
	m.conn = conn
	return true
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

// release marks the lifecycle of gen as finished so the same token may be
// connected again.
func (m *Manager) release(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen.Load() == gen && m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Manager) rejoin(conn Conn) {
	for _, room := range m.Rooms() {
		if err := m.write(context.Background(), conn, EventJoinChat, RoomPayload{ChatID: room}); err != nil {
			m.log.Warn().Err(err).Str("chat", room).Msg("rejoin failed")
			return
		}
	}
}

func (m *Manager) fail(gen uint64, cause error) {
	err := ErrPersistentDisconnect
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrPersistentDisconnect, cause)
	}
	m.log.Error().Err(cause).Msg("push channel giving up")
	m.release(gen)
	m.setState(gen, Failed, err)
}

func (m *Manager) setState(gen uint64, state State, err error) {
	m.mu.Lock()
	if m.gen.Load() != gen {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	m.notifyState(state, err)
}

func (m *Manager) notifyState(state State, err error) {
	if m.opts.OnState != nil {
		m.opts.OnState(state, err)
	}
}

// deliver hands ev to OnEvent unless the connection it came from was superseded.
func (m *Manager) deliver(gen uint64, ev Event) {
	if m.gen.Load() != gen || m.opts.OnEvent == nil {
		return
	}
	m.opts.OnEvent(ev)
}

func (m *Manager) deliverError(gen uint64, err error) {
	ev, encErr := NewEvent(EventError, ErrorPayload{Message: err.Error()})
	if encErr != nil {
		return
	}
	m.deliver(gen, ev)
}

type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (m *Manager) write(ctx context.Context, conn Conn, event string, payload any) error {
	ev, err := NewEvent(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if d, ok := conn.(deadliner); ok {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(10 * time.Second)
		}
		_ = d.SetWriteDeadline(deadline)
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}
