package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

type WhoamiCmd struct {
	flags *Flags
}

// NewWhoamiCmd creates a new whoami command
func NewWhoamiCmd(flags *Flags) *WhoamiCmd {
	return &WhoamiCmd{flags: flags}
}

// Register adds the whoami command to the application
func (cmd *WhoamiCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "whoami",
		Usage:     "Show the signed-in user",
		UsageText: "chatsync whoami",
		Action:    cmd.run,
	})

	return app
}

func (cmd *WhoamiCmd) run(ctx context.Context, c *cli.Command) error {
	me, err := cmd.flags.restore(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\t%s\n", me.ID)
	_, _ = fmt.Fprintf(w, "USERNAME\t%s\n", me.Username)
	_, _ = fmt.Fprintf(w, "NAME\t%s\n", me.DisplayName())
	if me.Email != "" {
		_, _ = fmt.Fprintf(w, "EMAIL\t%s\n", me.Email)
	}
	_, _ = fmt.Fprintf(w, "SERVER\t%s\n", cmd.flags.Config.Server.BaseURL)
	return w.Flush()
}
