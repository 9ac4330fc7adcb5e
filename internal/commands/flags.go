package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/chatsync/internal/chatsync"
	"github.com/hay-kot/chatsync/internal/core/chat"
	"github.com/hay-kot/chatsync/internal/core/config"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// Service is the chatsync service for all client operations
	Service *chatsync.Service
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "chatsync", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "chatsync")
}

// errNotLoggedIn is returned by commands that need a session when none is stored.
var errNotLoggedIn = errors.New("not logged in, run 'chatsync login' first")

// restore resumes the persisted session for commands that need one.
func (f *Flags) restore(ctx context.Context) (chat.User, error) {
	me, err := f.Service.Restore(ctx)
	if errors.Is(err, chat.ErrUnauthenticated) {
		return chat.User{}, fmt.Errorf("%w: %w", errNotLoggedIn, err)
	}
	return me, err
}

// interactive reports whether both stdin and stdout are terminals, so forms can
// be shown.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// requireArg returns the n-th positional argument or a usage error naming it.
func requireArg(c *cli.Command, n int, name string) (string, error) {
	if c.NArg() <= n {
		return "", fmt.Errorf("missing argument <%s>, usage: %s", name, c.UsageText)
	}
	return c.Args().Get(n), nil
}
