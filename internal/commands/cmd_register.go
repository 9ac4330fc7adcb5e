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

type RegisterCmd struct {
	flags *Flags
	in    api.RegisterInput
}

// NewRegisterCmd creates a new register command
func NewRegisterCmd(flags *Flags) *RegisterCmd {
	return &RegisterCmd{flags: flags}
}

// Register adds the register command to the application
func (cmd *RegisterCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "register",
		Usage:       "Create an account and sign in",
		UsageText:   "chatsync register [--username <name>] [--email <email>] [--password <password>] [--first-name <name>] [--last-name <name>]",
		Description: "Creates an account on the chat server and signs in with it. Missing values are prompted for when running in a terminal.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "username (at least 3 characters)", Destination: &cmd.in.Username},
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "account email", Destination: &cmd.in.Email},
			&cli.StringFlag{
				Name:        "password",
				Aliases:     []string{"p"},
				Usage:       "password (at least 6 characters)",
				Sources:     cli.EnvVars("CHATSYNC_PASSWORD"),
				Destination: &cmd.in.Password,
			},
			&cli.StringFlag{Name: "first-name", Usage: "first name", Destination: &cmd.in.FirstName},
			&cli.StringFlag{Name: "last-name", Usage: "last name", Destination: &cmd.in.LastName},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *RegisterCmd) run(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)

	in := cmd.in
	if incomplete(in) && interactive() {
		if err := registerForm(&in).Run(); err != nil {
			return fmt.Errorf("register form: %w", err)
		}
	}

	me, err := cmd.flags.Service.Register(ctx, in)
	if err != nil {
		return err
	}

	p.Successf("Account created, signed in as %s", me.Username)
	return nil
}

func incomplete(in api.RegisterInput) bool {
	return in.Username == "" || in.Email == "" || in.Password == "" || in.FirstName == "" || in.LastName == ""
}

func registerForm(in *api.RegisterInput) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Username").Value(&in.Username).Validate(field("username", func(s string) error {
				return validate.MinLength(s, 3)
			})),
			huh.NewInput().Title("Email").Value(&in.Email).Validate(field("email", validate.Email)),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&in.Password).Validate(func(s string) error {
				if len(s) < 6 {
					return fmt.Errorf("password must be at least 6 characters")
				}
				return nil
			}),
		),
		huh.NewGroup(
			huh.NewInput().Title("First name").Value(&in.FirstName).Validate(field("first name", validate.Required)),
			huh.NewInput().Title("Last name").Value(&in.LastName).Validate(field("last name", validate.Required)),
		),
	).WithTheme(styles.FormTheme()).WithOutput(os.Stderr)
}
