// Package auth defines credential types and the persistence contract for the session.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hay-kot/chatsync/internal/core/chat"
)

// ErrNoSession is returned by Store.Load when nothing has been persisted.
var ErrNoSession = errors.New("no stored session")

// Credential is the token pair issued by the server. AccessToken is short-lived and
// only ever held in memory; RefreshToken is long-lived and persisted.
type Credential struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"refresh_token"`
}

// State is what survives a process restart: the refresh token and the last-known
// profile of the authenticated user.
type State struct {
	RefreshToken string     `json:"refresh_token"`
	User         *chat.User `json:"user,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Store defines persistence operations for the session state.
type Store interface {
	// Load returns the persisted state. Returns ErrNoSession if nothing is stored.
	Load(ctx context.Context) (State, error)
	// Save replaces the persisted state.
	Save(ctx context.Context, s State) error
	// Clear removes the persisted state. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// ExpiresAt reads the exp claim of a JWT access token without verifying its
// signature; the client never holds the signing key. ok is false for opaque tokens
// or tokens without an expiry.
func ExpiresAt(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
