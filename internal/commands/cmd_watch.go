package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/chatsync/internal/api"
	"github.com/hay-kot/chatsync/internal/printer"
	"github.com/hay-kot/chatsync/internal/push"
)

type WatchCmd struct {
	flags *Flags

	chatID  string
	json    bool
	timeout time.Duration
}

// NewWatchCmd creates a new watch command
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Stream live events",
		UsageText: "chatsync watch [--chat <chat-id>] [--json] [--timeout 5m]",
		Description: `Connects to the push channel and prints events as they arrive.

With --chat the conversation's room is joined, so typing indicators for it are
received too. With --json each event is printed as one JSON object per line.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "chat",
				Usage:       "conversation to join",
				Destination: &cmd.chatID,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print raw events as JSON lines",
				Destination: &cmd.json,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "stop after this long (0 waits until interrupted)",
				Destination: &cmd.timeout,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)
	svc := cmd.flags.Service
	out := c.Root().Writer

	events := make(chan push.Event, 64)
	svc.Tap(func(ev push.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	svc.Listen()

	if _, err := cmd.flags.restore(ctx); err != nil {
		return err
	}
	if _, err := svc.RefreshConversations(ctx); err != nil {
		return err
	}
	if cmd.chatID != "" {
		if _, err := svc.SelectConversation(ctx, cmd.chatID); err != nil {
			return err
		}
	}

	if cmd.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.timeout)
		defer cancel()
	}

	p.Infof("Watching for events, press ctrl+c to stop")

	last, _ := svc.ConnectionState()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-svc.Changes():
			state, err := svc.ConnectionState()
			if state != last {
				last = state
				p.ConnState(state, err)
			}
			if state == push.Failed {
				return fmt.Errorf("live updates: %w", err)
			}
		case ev := <-events:
			if cmd.json {
				if err := json.NewEncoder(out).Encode(ev); err != nil {
					return err
				}
				continue
			}
			cmd.describe(out, ev)
		}
	}
}

func (cmd *WatchCmd) describe(w io.Writer, ev push.Event) {
	stamp := time.Now().Format("15:04:05")
	line := ev.Type

	switch ev.Type {
	case push.EventNewMessage, push.EventMessageUpdated:
		if m, err := api.DecodeMessage(ev.Payload); err == nil {
			line = fmt.Sprintf("%s %s/%s from %s: %s", ev.Type, m.ConversationID, m.ID, m.SenderID, printer.Truncate(m.Content, 60))
		}
	case push.EventMessageDeleted:
		var d push.MessageDeletedPayload
		if ev.Decode(&d) == nil {
			line = fmt.Sprintf("%s %s/%s", ev.Type, d.ChatID, d.MessageID)
		}
	case push.EventUserTyping, push.EventUserStoppedTyping:
		var t push.TypingPayload
		if ev.Decode(&t) == nil {
			line = fmt.Sprintf("%s %s in %s", ev.Type, t.UserID, t.ChatID)
		}
	case push.EventUserOnline, push.EventUserOffline:
		if id, err := push.UserID(ev); err == nil {
			line = fmt.Sprintf("%s %s", ev.Type, id)
		}
	case push.EventError:
		var e push.ErrorPayload
		if ev.Decode(&e) == nil {
			line = fmt.Sprintf("%s %s", ev.Type, e.Message)
		}
	}

	_, _ = fmt.Fprintf(w, "%s %s\n", printer.Dim(stamp), line)
}
