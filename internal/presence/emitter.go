package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Outbound typing events.
const (
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
)

// Sender delivers an outbound event on the push channel.
type Sender interface {
	Emit(ctx context.Context, event string, payload any) error
}

type typingPayload struct {
	ChatID string `json:"chatId"`
}

type burst struct {
	timer *time.Timer
}

// Emitter turns local keystrokes into typing_start/typing_stop events: one start per
// burst of typing and a stop after the burst has been idle for the timeout.
type Emitter struct {
	sender      Sender
	timeout     time.Duration
	minInterval time.Duration
	log         zerolog.Logger

	mu       sync.Mutex
	bursts   map[string]*burst
	limiters map[string]*rate.Limiter
}

// NewEmitter creates an Emitter. minInterval bounds how often typing_start may be
// sent for the same conversation.
func NewEmitter(sender Sender, timeout, minInterval time.Duration, log zerolog.Logger) *Emitter {
	return &Emitter{
		sender:      sender,
		timeout:     timeout,
		minInterval: minInterval,
		log:         log,
		bursts:      make(map[string]*burst),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Touch records local typing activity in conversationID.
func (e *Emitter) Touch(conversationID string) {
	if conversationID == "" {
		return
	}

	e.mu.Lock()
	if b, ok := e.bursts[conversationID]; ok {
		b.timer.Reset(e.timeout)
		e.mu.Unlock()
		return
	}

	if !e.limiter(conversationID).Allow() {
		e.mu.Unlock()
		return
	}

	b := &burst{}
	b.timer = time.AfterFunc(e.timeout, func() { e.expire(conversationID, b) })
	e.bursts[conversationID] = b
	e.mu.Unlock()

	e.emit(EventTypingStart, conversationID)
}

// Stop ends the current burst in conversationID immediately, if any.
func (e *Emitter) Stop(conversationID string) {
	e.mu.Lock()
	b, ok := e.bursts[conversationID]
	if !ok {
		e.mu.Unlock()
		return
	}
	b.timer.Stop()
	delete(e.bursts, conversationID)
	e.mu.Unlock()

	e.emit(EventTypingStop, conversationID)
}

// StopAll ends every active burst.
func (e *Emitter) StopAll() {
	e.mu.Lock()
	convs := make([]string, 0, len(e.bursts))
	for conv := range e.bursts {
		convs = append(convs, conv)
	}
	e.mu.Unlock()

	for _, conv := range convs {
		e.Stop(conv)
	}
}

func (e *Emitter) expire(conversationID string, b *burst) {
	e.mu.Lock()
	if e.bursts[conversationID] != b {
		e.mu.Unlock()
		return
	}
	delete(e.bursts, conversationID)
	e.mu.Unlock()

	e.emit(EventTypingStop, conversationID)
}

// limiter must be called with mu held.
func (e *Emitter) limiter(conversationID string) *rate.Limiter {
	l, ok := e.limiters[conversationID]
	if !ok {
		limit := rate.Inf
		if e.minInterval > 0 {
			limit = rate.Every(e.minInterval)
		}
		l = rate.NewLimiter(limit, 1)
		e.limiters[conversationID] = l
	}
	return l
}

func (e *Emitter) emit(event, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := e.sender.Emit(ctx, event, typingPayload{ChatID: conversationID}); err != nil {
		e.log.Debug().Err(err).Str("event", event).Str("chat", conversationID).Msg("typing event not sent")
	}
}
