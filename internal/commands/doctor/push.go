package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/hay-kot/chatsync/internal/push"
)

// Listener is the part of the service that drives the push channel.
type Listener interface {
	Authenticated() bool
	Listen()
	ConnectionState() (push.State, error)
	Changes() <-chan struct{}
}

// PushCheck opens the push channel and waits for it to connect.
type PushCheck struct {
	listener Listener
	url      string
	timeout  time.Duration
}

// NewPushCheck creates a new push channel check.
func NewPushCheck(listener Listener, url string, timeout time.Duration) *PushCheck {
	return &PushCheck{listener: listener, url: url, timeout: timeout}
}

func (c *PushCheck) Name() string {
	return "Live Updates"
}

func (c *PushCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if !c.listener.Authenticated() {
		result.warn("Push channel", "skipped, not logged in")
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.listener.Listen()

	for {
		state, err := c.listener.ConnectionState()
		switch state {
		case push.Connected:
			result.pass("Push channel", c.url)
			return result
		case push.Failed:
			detail := "connection failed"
			if err != nil {
				detail = err.Error()
			}
			result.fail("Push channel", detail)
			return result
		}

		select {
		case <-c.listener.Changes():
		case <-ctx.Done():
			detail := fmt.Sprintf("no connection after %s", c.timeout)
			if _, err := c.listener.ConnectionState(); err != nil {
				detail += ": " + err.Error()
			}
			result.fail("Push channel", detail)
			return result
		}
	}
}
