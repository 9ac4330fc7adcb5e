package chatsync

import (
	"context"
	"time"

	"github.com/hay-kot/chatsync/internal/api"
	"github.com/hay-kot/chatsync/internal/push"
)

func (s *Service) now() time.Time {
	return time.Now()
}

// handleEvent applies one push event. It runs on the push channel's read goroutine,
// so anything that needs the network is started in the background.
func (s *Service) handleEvent(ev push.Event) {
	changed := false

	switch ev.Type {
	case push.EventConnect:
		s.mu.Lock()
		resync := s.connected
		s.connected = true
		s.mu.Unlock()

		if resync {
			s.background(s.resync)
		}

	case push.EventNewMessage:
		msg, err := api.DecodeMessage(ev.Payload)
		if err != nil || msg.ID == "" || msg.ConversationID == "" {
			s.log.Warn().Err(err).Msg("dropping malformed new_message")
			break
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = s.now()
		}

		res := s.timeline.ApplyPushed(msg)
		changed = res.Applied
		if s.presence.TypingStop(msg.ConversationID, msg.SenderID) {
			changed = true
		}
		if res.NewConversation {
			id := msg.ConversationID
			s.background(func(ctx context.Context) { s.fetchConversation(ctx, id) })
		}

	case push.EventMessageUpdated:
		msg, err := api.DecodeMessage(ev.Payload)
		if err != nil || msg.ID == "" {
			s.log.Warn().Err(err).Msg("dropping malformed message_updated")
			break
		}
		if msg.EditedAt == nil {
			now := s.now()
			msg.EditedAt = &now
		}
		changed = s.timeline.ApplyEdit(msg).Applied

	case push.EventMessageDeleted:
		var p push.MessageDeletedPayload
		if err := ev.Decode(&p); err != nil || p.MessageID == "" {
			s.log.Warn().Err(err).Msg("dropping malformed message_deleted")
			break
		}
		changed = s.timeline.ApplyDeletion(p.ChatID, p.MessageID).Applied

	case push.EventUserTyping, push.EventUserStoppedTyping:
		var p push.TypingPayload
		if err := ev.Decode(&p); err != nil || p.ChatID == "" || p.UserID == "" {
			s.log.Warn().Err(err).Str("event", ev.Type).Msg("dropping malformed typing event")
			break
		}
		if me, ok := s.CurrentUser(); ok && me.ID == p.UserID {
			break
		}
		if ev.Type == push.EventUserTyping {
			changed = s.presence.TypingStart(p.ChatID, p.UserID)
		} else {
			changed = s.presence.TypingStop(p.ChatID, p.UserID)
		}

	case push.EventUserOnline, push.EventUserOffline:
		id, err := push.UserID(ev)
		if err != nil {
			s.log.Warn().Err(err).Str("event", ev.Type).Msg("dropping malformed presence event")
			break
		}
		changed = s.presence.SetOnline(id, ev.Type == push.EventUserOnline)

	case push.EventDisconnect, push.EventError:
		// state transitions are reported through handleState

	default:
		s.log.Debug().Str("event", ev.Type).Msg("ignoring unknown event")
	}

	if changed {
		s.notify()
	}

	s.mu.RLock()
	taps := s.taps
	s.mu.RUnlock()
	for _, fn := range taps {
		fn(ev)
	}
}

func (s *Service) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Server.RequestTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// fetchConversation loads metadata for a conversation first seen through a pushed
// message.
func (s *Service) fetchConversation(ctx context.Context, id string) {
	conv, err := s.api.Chat(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("chat", id).Msg("failed to load conversation")
		return
	}

	// The stub created for the message carries the preview and unread count;
	// UpsertConversation keeps whichever preview is newer.
	s.timeline.UpsertConversation(conv)
	s.presence.Seed(conv.Participants)
	s.notify()
}

// resync reconciles state after the push channel reconnects, since events sent
// while disconnected are not replayed.
func (s *Service) resync(ctx context.Context) {
	if _, err := s.RefreshConversations(ctx); err != nil {
		s.log.Warn().Err(err).Msg("resync conversations failed")
		return
	}

	id := s.timeline.ActiveID()
	if id == "" {
		return
	}

	res, err := s.api.Messages(ctx, id, 1, s.cfg.Timeline.PageSize)
	if err != nil {
		s.log.Warn().Err(err).Str("chat", id).Msg("resync messages failed")
		return
	}

	// Merging page 1 again is idempotent and fills in anything missed.
	if s.timeline.LoadPage(id, 1, s.cfg.Timeline.PageSize, res.Total, res.Messages).Applied {
		s.notify()
	}
}
