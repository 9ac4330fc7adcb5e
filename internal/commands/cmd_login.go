package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/chatsync/internal/api"
	"github.com/hay-kot/chatsync/internal/core/validate"
	"github.com/hay-kot/chatsync/internal/printer"
	"github.com/hay-kot/chatsync/internal/styles"
)

type LoginCmd struct {
	flags *Flags

	email    string
	password string
}

// NewLoginCmd creates a new login command
func NewLoginCmd(flags *Flags) *LoginCmd {
	return &LoginCmd{flags: flags}
}

// Register adds the login command to the application
func (cmd *LoginCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "login",
		Usage:     "Sign in to the chat server",
		UsageText: "chatsync login [--email <email>] [--password <password>]",
		Description: `Signs in with email and password and stores the refresh credential in the
data directory so later commands stay signed in.

Missing values are prompted for when running in a terminal.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "email",
				Aliases:     []string{"e"},
				Usage:       "account email",
				Sources:     cli.EnvVars("CHATSYNC_EMAIL"),
				Destination: &cmd.email,
			},
			&cli.StringFlag{
				Name:        "password",
				Aliases:     []string{"p"},
				Usage:       "account password",
				Sources:     cli.EnvVars("CHATSYNC_PASSWORD"),
				Destination: &cmd.password,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *LoginCmd) run(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)

	in := api.LoginInput{Email: cmd.email, Password: cmd.password}
	if (in.Email == "" || in.Password == "") && interactive() {
		if err := loginForm(&in).Run(); err != nil {
			return fmt.Errorf("login form: %w", err)
		}
	}

	me, err := cmd.flags.Service.Login(ctx, in)
	if err != nil {
		return err
	}

	p.Successf("Signed in as %s", me.DisplayName())
	p.Hint("credentials stored in %s", cmd.flags.Config.CredentialsFile())
	return nil
}

func loginForm(in *api.LoginInput) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&in.Email).
				Validate(field("email", validate.Email)),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&in.Password).
				Validate(field("password", func(s string) error {
					if s == "" {
						return fmt.Errorf("is required")
					}
					return nil
				})),
		),
	).WithTheme(styles.FormTheme()).WithOutput(os.Stderr)
}

// field adapts a validator to a huh input, prefixing errors with the field name.
func field(name string, fn func(string) error) func(string) error {
	return func(s string) error {
		if err := fn(s); err != nil {
			return fmt.Errorf("%s %w", name, err)
		}
		return nil
	}
}
