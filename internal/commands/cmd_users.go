package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/chatsync/internal/api"
	"github.com/hay-kot/chatsync/internal/printer"
)

type UsersCmd struct {
	flags *Flags

	// search flags
	searchPage int

	// update flags
	update api.UpdateUserInput
}

// NewUsersCmd creates a new users command
func NewUsersCmd(flags *Flags) *UsersCmd {
	return &UsersCmd{flags: flags}
}

// Register adds the users command to the application
func (cmd *UsersCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:    "users",
		Aliases: []string{"u"},
		Usage:   "Find people and manage your profile",
		Commands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "Search the user directory",
				UsageText: "chatsync users search [--page N] [query]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:        "page",
						Usage:       "result page",
						Value:       1,
						Destination: &cmd.searchPage,
					},
				},
				Action: cmd.runSearch,
			},
			{
				Name:      "show",
				Usage:     "Show one user's profile and presence",
				UsageText: "chatsync users show <user-id>",
				Action:    cmd.runShow,
			},
			{
				Name:      "update",
				Usage:     "Update your profile",
				UsageText: "chatsync users update [--username <name>] [--first-name <name>] [--last-name <name>] [--avatar <url>]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Usage: "new username", Destination: &cmd.update.Username},
					&cli.StringFlag{Name: "first-name", Usage: "new first name", Destination: &cmd.update.FirstName},
					&cli.StringFlag{Name: "last-name", Usage: "new last name", Destination: &cmd.update.LastName},
					&cli.StringFlag{Name: "avatar", Usage: "avatar URL", Destination: &cmd.update.Avatar},
				},
				Action: cmd.runUpdate,
			},
		},
	})

	return app
}

func (cmd *UsersCmd) runSearch(ctx context.Context, c *cli.Command) error {
	if _, err := cmd.flags.restore(ctx); err != nil {
		return err
	}

	page, err := cmd.flags.Service.SearchUsers(ctx, c.Args().First(), cmd.searchPage)
	if err != nil {
		return err
	}

	if len(page.Users) == 0 {
		printer.Ctx(ctx).Infof("No users found")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tSTATUS")
	for _, u := range page.Users {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Username, u.DisplayName(), printer.Presence(u.IsOnline))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if shown := cmd.searchPage * cmd.flags.Config.Timeline.PageSize; shown < page.Total {
		printer.Ctx(ctx).Hint("%d users match, use --page %d for more", page.Total, cmd.searchPage+1)
	}
	return nil
}

func (cmd *UsersCmd) runShow(ctx context.Context, c *cli.Command) error {
	id, err := requireArg(c, 0, "user-id")
	if err != nil {
		return err
	}

	if _, err := cmd.flags.restore(ctx); err != nil {
		return err
	}

	u, err := cmd.flags.Service.User(ctx, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\t%s\n", u.ID)
	_, _ = fmt.Fprintf(w, "USERNAME\t%s\n", u.Username)
	_, _ = fmt.Fprintf(w, "NAME\t%s\n", u.DisplayName())
	_, _ = fmt.Fprintf(w, "STATUS\t%s\n", printer.Presence(u.IsOnline))
	if u.Avatar != "" {
		_, _ = fmt.Fprintf(w, "AVATAR\t%s\n", u.Avatar)
	}
	return w.Flush()
}

func (cmd *UsersCmd) runUpdate(ctx context.Context, _ *cli.Command) error {
	if _, err := cmd.flags.restore(ctx); err != nil {
		return err
	}

	me, err := cmd.flags.Service.UpdateProfile(ctx, cmd.update)
	if err != nil {
		return err
	}

	printer.Ctx(ctx).Successf("Profile updated for %s", me.DisplayName())
	return nil
}
