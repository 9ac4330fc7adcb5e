package doctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hay-kot/chatsync/internal/core/auth"
	"github.com/hay-kot/chatsync/internal/core/chat"
)

// Restorer resumes a persisted session against the server.
type Restorer interface {
	Restore(ctx context.Context) (chat.User, error)
}

// SessionCheck verifies the stored credential and that the server accepts it.
type SessionCheck struct {
	store    auth.Store
	restorer Restorer
}

// NewSessionCheck creates a new session check.
func NewSessionCheck(store auth.Store, restorer Restorer) *SessionCheck {
	return &SessionCheck{store: store, restorer: restorer}
}

func (c *SessionCheck) Name() string {
	return "Session"
}

func (c *SessionCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	state, err := c.store.Load(ctx)
	switch {
	case errors.Is(err, auth.ErrNoSession):
		result.warn("Stored credential", "not logged in")
		return result
	case err != nil:
		result.fail("Stored credential", err.Error())
		return result
	}

	detail := ""
	if !state.UpdatedAt.IsZero() {
		detail = "saved " + state.UpdatedAt.Local().Format(time.DateTime)
	}
	result.pass("Stored credential", detail)

	me, err := c.restorer.Restore(ctx)
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		result.pass("Server reachable", "")
		result.fail("Session valid", "refresh token rejected, log in again")
	case err != nil:
		result.fail("Server reachable", err.Error())
	default:
		result.pass("Server reachable", "")
		result.pass("Session valid", fmt.Sprintf("signed in as %s", me.DisplayName()))
	}

	return result
}
