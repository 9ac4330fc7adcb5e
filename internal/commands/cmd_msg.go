package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/chatsync/internal/chatsync"
	"github.com/hay-kot/chatsync/internal/core/chat"
	"github.com/hay-kot/chatsync/internal/printer"
	"github.com/hay-kot/chatsync/internal/styles"
)

type MsgCmd struct {
	flags *Flags

	// ls flags
	lsPages    int
	lsMarkdown bool
	lsJSON     bool

	// send flags
	sendFile string
}

// NewMsgCmd creates a new msg command.
func NewMsgCmd(flags *Flags) *MsgCmd {
	return &MsgCmd{flags: flags}
}

// Register adds the msg command to the application.
func (cmd *MsgCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:    "msg",
		Aliases: []string{"m"},
		Usage:   "Read and write messages",
		Commands: []*cli.Command{
			cmd.lsCmd(),
			cmd.sendCmd(),
			{
				Name:      "edit",
				Usage:     "Replace the content of a message",
				UsageText: "chatsync msg edit <message-id> <content>",
				Action:    cmd.runEdit,
			},
			{
				Name:      "rm",
				Usage:     "Delete a message",
				UsageText: "chatsync msg rm <message-id>",
				Action:    cmd.runRemove,
			},
		},
	})

	return app
}

func (cmd *MsgCmd) lsCmd() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "Show a conversation's history",
		UsageText: "chatsync msg ls [--pages N] [--markdown] [--json] <chat-id>",
		Description: `Prints the newest page of a conversation's history, oldest first.

Use --pages to walk further back. Viewing a conversation marks it read.

Examples:
  chatsync msg ls 65f0c2
  chatsync msg ls --pages 3 --markdown 65f0c2
  chatsync msg ls --json 65f0c2 | jq '.messages[].content'`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "pages",
				Aliases:     []string{"n"},
				Usage:       "number of history pages to load",
				Value:       1,
				Destination: &cmd.lsPages,
			},
			&cli.BoolFlag{
				Name:        "markdown",
				Usage:       "render message bodies as markdown",
				Destination: &cmd.lsMarkdown,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the timeline as JSON",
				Destination: &cmd.lsJSON,
			},
		},
		Action: cmd.runList,
	}
}

func (cmd *MsgCmd) sendCmd() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a message",
		UsageText: "chatsync msg send <chat-id> [message]",
		Description: `Sends a text message to a conversation.

The message can be provided as:
- A command-line argument
- From a file with -f/--file
- From stdin if no argument is provided

Examples:
  chatsync msg send 65f0c2 "on my way"
  git log -1 --format=%B | chatsync msg send 65f0c2`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "read message from file",
				Destination: &cmd.sendFile,
			},
		},
		Action: cmd.runSend,
	}
}

func (cmd *MsgCmd) runList(ctx context.Context, c *cli.Command) error {
	id, err := requireArg(c, 0, "chat-id")
	if err != nil {
		return err
	}

	me, err := cmd.flags.restore(ctx)
	if err != nil {
		return err
	}

	svc := cmd.flags.Service
	if _, err := svc.RefreshConversations(ctx); err != nil {
		return err
	}

	tl, err := svc.SelectConversation(ctx, id)
	if err != nil {
		return err
	}
	for i := 1; i < cmd.lsPages && tl.HasMore; i++ {
		if tl, err = svc.LoadOlderMessages(ctx); err != nil {
			return err
		}
	}

	if cmd.lsJSON {
		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(tl)
	}

	conv, _ := svc.Conversation(id)
	if len(tl.Messages) == 0 {
		printer.Ctx(ctx).Infof("No messages in %s", conv.Title(me.ID))
		return nil
	}

	var render func(string) string
	if cmd.lsMarkdown {
		render = markdownRenderer()
	}

	out := c.Root().Writer
	for _, m := range tl.Messages {
		writeMessage(out, m, senderName(conv, m, me.ID), render)
	}

	if tl.HasMore {
		_, _ = fmt.Fprintln(out)
		printer.Ctx(ctx).Hint("%d of %d messages shown, use --pages %d for more", len(tl.Messages), tl.Total, tl.NextPage)
	}
	return nil
}

func (cmd *MsgCmd) runSend(ctx context.Context, c *cli.Command) error {
	id, err := requireArg(c, 0, "chat-id")
	if err != nil {
		return err
	}

	var content string
	switch {
	case c.NArg() >= 2:
		content = strings.Join(c.Args().Slice()[1:], " ")
	case cmd.sendFile != "":
		data, err := os.ReadFile(cmd.sendFile)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		content = string(data)
	default:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		content = string(data)
	}
	content = strings.TrimRight(content, "\n")

	if _, err := cmd.flags.restore(ctx); err != nil {
		return err
	}

	msg, err := cmd.flags.Service.SendMessage(ctx, id, content)
	if err != nil {
		var se *chatsync.SubmitError
		if errors.As(err, &se) && !errors.Is(err, chat.ErrValidation) {
			printer.Ctx(ctx).Warnf("message not sent, content kept below")
			_, _ = fmt.Fprintln(c.Root().ErrWriter, se.Content)
		}
		return err
	}

	printer.Ctx(ctx).Successf("Sent %s", msg.ID)
	return nil
}

func (cmd *MsgCmd) runEdit(ctx context.Context, c *cli.Command) error {
	id, err := requireArg(c, 0, "message-id")
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return fmt.Errorf("missing argument <content>, usage: %s", c.UsageText)
	}

	if _, err := cmd.flags.restore(ctx); err != nil {
		return err
	}

	msg, err := cmd.flags.Service.EditMessage(ctx, id, strings.Join(c.Args().Slice()[1:], " "))
	if err != nil {
		return err
	}

	printer.Ctx(ctx).Successf("Edited %s", msg.ID)
	return nil
}

func (cmd *MsgCmd) runRemove(ctx context.Context, c *cli.Command) error {
	id, err := requireArg(c, 0, "message-id")
	if err != nil {
		return err
	}

	if _, err := cmd.flags.restore(ctx); err != nil {
		return err
	}

	if err := cmd.flags.Service.DeleteMessage(ctx, id); err != nil {
		return err
	}

	printer.Ctx(ctx).Successf("Deleted %s", id)
	return nil
}

// senderName resolves a display name for m from the message itself or the
// conversation's participants.
func senderName(conv chat.Conversation, m chat.Message, self string) string {
	if m.SenderID == self && self != "" {
		return "you"
	}
	if m.Sender != nil && m.Sender.Username != "" {
		return m.Sender.Username
	}
	for _, u := range conv.Participants {
		if u.ID == m.SenderID && u.Username != "" {
			return u.Username
		}
	}
	return m.SenderID
}

func writeMessage(w io.Writer, m chat.Message, sender string, render func(string) string) {
	name := styles.SenderStyle.Render(sender)
	if sender == "you" {
		name = styles.SelfStyle.Render(sender)
	}

	header := fmt.Sprintf("%s %s", styles.TimestampStyle.Render(printer.Timestamp(m.CreatedAt, time.Now())), name)
	if m.EditedAt != nil {
		header += styles.TimestampStyle.Render(" (edited)")
	}
	header += styles.TimestampStyle.Render("  " + m.ID)

	body := m.Content
	switch {
	case m.Type != chat.MessageText && m.Type != "":
		body = styles.TimestampStyle.Render("[" + string(m.Type) + "] ") + body
	case render != nil:
		body = render(body)
	}

	_, _ = fmt.Fprintln(w, header)
	for line := range strings.SplitSeq(body, "\n") {
		_, _ = fmt.Fprintln(w, "  "+line)
	}
}

// markdownRenderer returns a function that renders markdown, falling back to the
// raw text when glamour fails.
func markdownRenderer() func(string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("tokyo-night"),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil
	}

	return func(s string) string {
		out, err := renderer.Render(s)
		if err != nil {
			return s
		}
		return strings.Trim(out, "\n ")
	}
}
