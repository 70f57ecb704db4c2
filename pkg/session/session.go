// Package session provides server-side sessions bound to a user's provider
// tokens. Sessions live in process memory only and heal themselves by
// refreshing the access token when it expires.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/owenisas/please-touch-grass/pkg/provider"
)

var (
	// ErrNotFound is returned when no live session exists for an id.
	ErrNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a refresh was attempted and failed.
	// The session is gone afterwards; it matches ErrNotFound.
	ErrSessionExpired = fmt.Errorf("session expired: %w", ErrNotFound)
)

// Session represents an authenticated browser session.
type Session struct {
	// ID is the only credential handed to the browser.
	ID string

	// Username is the provider account name cached at login.
	Username string

	// Tokens are the provider credentials backing this session.
	Tokens provider.TokenPair

	// CreatedAt is when the user logged in.
	CreatedAt time.Time

	// ExpiresAt is when the access token must be refreshed.
	ExpiresAt time.Time
}

// Store defines the session operations the rest of the system uses.
type Store interface {
	// Create stores a new session and returns its id.
	Create(ctx context.Context, username string, tokens provider.TokenPair) (string, error)

	// Get returns a live session, refreshing the access token if it expired.
	// Returns ErrNotFound (or ErrSessionExpired) when there is no usable session.
	Get(ctx context.Context, id string) (*Session, error)

	// Peek returns the stored session without refreshing it.
	Peek(ctx context.Context, id string) (*Session, error)

	// Invalidate removes a session. Removing an unknown id is not an error.
	Invalidate(ctx context.Context, id string) error

	// Close stops background routines.
	Close() error
}

// Refresher mints a new access token from a refresh token.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*provider.TokenPair, error)
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context, refreshToken string) (*provider.TokenPair, error)

// RefreshToken calls f.
func (f RefreshFunc) RefreshToken(ctx context.Context, refreshToken string) (*provider.TokenPair, error) {
	return f(ctx, refreshToken)
}

// LogID returns a short, non-reversible fingerprint of a session id for
// logs and audit records.
func LogID(id string) string {
	if id == "" {
		return ""
	}
	h := sha256.Sum256([]byte(id))
	return hex.EncodeToString(h[:8])
}

func (s *Session) clone() *Session {
	c := *s
	return &c
}
