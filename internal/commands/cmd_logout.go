package commands

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/chatsync/internal/core/chat"
	"github.com/hay-kot/chatsync/internal/printer"
)

type LogoutCmd struct {
	flags *Flags
}

// NewLogoutCmd creates a new logout command
func NewLogoutCmd(flags *Flags) *LogoutCmd {
	return &LogoutCmd{flags: flags}
}

// Register adds the logout command to the application
func (cmd *LogoutCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "logout",
		Usage:       "Sign out and forget stored credentials",
		UsageText:   "chatsync logout",
		Description: "Ends the session on the server (best effort) and removes the stored refresh credential.",
		Action:      cmd.run,
	})

	return app
}

func (cmd *LogoutCmd) run(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)

	if _, err := cmd.flags.Service.Restore(ctx); err != nil && !errors.Is(err, chat.ErrUnauthenticated) {
		// The stored credential is unusable; clearing it is still correct.
		p.Warnf("could not restore session: %v", err)
	}

	if err := cmd.flags.Service.Logout(ctx); err != nil {
		return err
	}

	p.Successf("Signed out")
	return nil
}
