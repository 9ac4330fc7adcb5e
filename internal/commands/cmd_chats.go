package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/chatsync/internal/core/chat"
	"github.com/hay-kot/chatsync/internal/printer"
)

type ChatsCmd struct {
	flags *Flags

	// new flags
	newName string
}

// NewChatsCmd creates a new chats command
func NewChatsCmd(flags *Flags) *ChatsCmd {
	return &ChatsCmd{flags: flags}
}

// Register adds the chats command to the application
func (cmd *ChatsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:    "chats",
		Aliases: []string{"c"},
		Usage:   "List and manage conversations",
		Commands: []*cli.Command{
			{
				Name:        "ls",
				Usage:       "List conversations, most recently active first",
				UsageText:   "chatsync chats ls",
				Description: "Displays every conversation with its unread count and last message.",
				Action:      cmd.runList,
			},
			{
				Name:      "new",
				Usage:     "Start a conversation",
				UsageText: "chatsync chats new [--name <name>] <user>...",
				Description: `Starts a conversation with one or more users, given by id or username.

A single user without --name reuses an existing direct conversation.
More than one user, or a name, creates a group.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "name",
						Aliases:     []string{"n"},
						Usage:       "group name",
						Destination: &cmd.newName,
					},
				},
				Action: cmd.runNew,
			},
			{
				Name:      "show",
				Usage:     "Show a conversation's details",
				UsageText: "chatsync chats show <chat-id>",
				Action:    cmd.runShow,
			},
			{
				Name:      "rename",
				Usage:     "Rename a conversation",
				UsageText: "chatsync chats rename <chat-id> <name>",
				Action:    cmd.runRename,
			},
			{
				Name:      "rm",
				Usage:     "Delete a conversation",
				UsageText: "chatsync chats rm <chat-id>",
				Action:    cmd.runRemove,
			},
		},
	})

	return app
}

func (cmd *ChatsCmd) runList(ctx context.Context, c *cli.Command) error {
	me, err := cmd.flags.restore(ctx)
	if err != nil {
		return err
	}

	convs, err := cmd.flags.Service.RefreshConversations(ctx)
	if err != nil {
		return err
	}

	if len(convs) == 0 {
		printer.Ctx(ctx).Infof("No conversations yet, start one with 'chatsync chats new <user>'")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tUNREAD\tLAST ACTIVITY\tLAST MESSAGE")

	for _, conv := range convs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			conv.ID,
			conv.Title(me.ID),
			printer.Unread(conv.UnreadCount),
			printer.Timestamp(conv.LastActivity(), now),
			printer.Preview(conv.LastMessage, 48),
		)
	}

	return w.Flush()
}

func (cmd *ChatsCmd) runNew(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	me, err := cmd.flags.restore(ctx)
	if err != nil {
		return err
	}
	if c.NArg() == 0 {
		return fmt.Errorf("missing argument <user>, usage: %s", c.UsageText)
	}

	// Direct conversations are matched against the current list.
	if _, err := cmd.flags.Service.RefreshConversations(ctx); err != nil {
		return err
	}

	participants := make([]string, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		id, err := resolveUser(ctx, cmd.flags, arg)
		if err != nil {
			return err
		}
		participants = append(participants, id)
	}

	conv, err := cmd.flags.Service.StartConversation(ctx, participants, cmd.newName)
	if err != nil {
		return err
	}

	p.Created(fmt.Sprintf("Conversation %q ready", conv.Title(me.ID)), conv.ID)
	return nil
}

func (cmd *ChatsCmd) runShow(ctx context.Context, c *cli.Command) error {
	id, err := requireArg(c, 0, "chat-id")
	if err != nil {
		return err
	}

	me, err := cmd.flags.restore(ctx)
	if err != nil {
		return err
	}

	if _, err := cmd.flags.Service.RefreshConversations(ctx); err != nil {
		return err
	}
	if _, err := cmd.flags.Service.SelectConversation(ctx, id); err != nil {
		return err
	}

	conv, ok := cmd.flags.Service.Conversation(id)
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, chat.ErrNotFound)
	}

	kind := "direct"
	if conv.IsGroup {
		kind = "group"
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\t%s\n", conv.ID)
	_, _ = fmt.Fprintf(w, "TITLE\t%s\n", conv.Title(me.ID))
	_, _ = fmt.Fprintf(w, "TYPE\t%s\n", kind)
	_, _ = fmt.Fprintf(w, "CREATED\t%s\n", printer.Timestamp(conv.CreatedAt, time.Now()))
	if tl, ok := cmd.flags.Service.ActiveTimeline(); ok {
		_, _ = fmt.Fprintf(w, "MESSAGES\t%d\n", tl.Total)
	}

	names := make([]string, 0, len(conv.Participants))
	for _, u := range conv.Participants {
		name := u.Username
		if name == "" {
			name = u.ID
		}
		names = append(names, printer.OnlineMark(name, u.IsOnline))
	}
	_, _ = fmt.Fprintf(w, "MEMBERS\t%s\n", strings.Join(names, ", "))

	return w.Flush()
}

func (cmd *ChatsCmd) runRename(ctx context.Context, c *cli.Command) error {
	id, err := requireArg(c, 0, "chat-id")
	if err != nil {
		return err
	}
	name, err := requireArg(c, 1, "name")
	if err != nil {
		return err
	}

	if _, err := cmd.flags.restore(ctx); err != nil {
		return err
	}

	conv, err := cmd.flags.Service.RenameConversation(ctx, id, name)
	if err != nil {
		return err
	}

	printer.Ctx(ctx).Successf("Renamed %s to %q", conv.ID, name)
	return nil
}

func (cmd *ChatsCmd) runRemove(ctx context.Context, c *cli.Command) error {
	id, err := requireArg(c, 0, "chat-id")
	if err != nil {
		return err
	}

	if _, err := cmd.flags.restore(ctx); err != nil {
		return err
	}

	if err := cmd.flags.Service.DeleteConversation(ctx, id); err != nil {
		return err
	}

	printer.Ctx(ctx).Successf("Deleted conversation %s", id)
	return nil
}

// resolveUser maps a username to a user id. Anything that does not match a
// username exactly is treated as an id.
func resolveUser(ctx context.Context, flags *Flags, arg string) (string, error) {
	page, err := flags.Service.SearchUsers(ctx, arg, 1)
	if err != nil {
		return "", err
	}
	for _, u := range page.Users {
		if strings.EqualFold(u.Username, arg) || u.ID == arg {
			return u.ID, nil
		}
	}
	return arg, nil
}
