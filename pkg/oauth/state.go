// Package oauth provides the client side of the OAuth authorization-code flow:
// single-use CSRF state tokens and the keys that protect them.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultStateTTL bounds how long a pending state stays valid.
	DefaultStateTTL = 10 * time.Minute

	// stateBytes is the entropy of a state nonce.
	stateBytes = 32
)

// StateConfig configures a StateRegistry.
type StateConfig struct {
	// TTL is the maximum age of a pending state. Defaults to DefaultStateTTL.
	TTL time.Duration

	// Signer, when set, wraps each nonce in a signed token so forged values
	// are rejected without consulting the registry.
	Signer *StateSigner
}

// StateRegistry issues and validates single-use state tokens for the
// authorization redirect. It is safe for concurrent use.
type StateRegistry struct {
	mu      sync.Mutex
	pending map[string]time.Time
	ttl     time.Duration
	signer  *StateSigner
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStateRegistry creates an empty registry.
func NewStateRegistry(cfg StateConfig) *StateRegistry {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultStateTTL
	}
	return &StateRegistry{
		pending: make(map[string]time.Time),
		ttl:     cfg.TTL,
		signer:  cfg.Signer,
		now:     time.Now,
	}
}

// Issue generates a new state token and records it as pending.
func (r *StateRegistry) Issue() (string, error) {
	nonce, err := randomToken(stateBytes)
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	now := r.now()
	token := nonce
	if r.signer != nil {
		token, err = r.signer.Sign(nonce, now, r.ttl)
		if err != nil {
			return "", fmt.Errorf("signing state: %w", err)
		}
	}

	r.mu.Lock()
	r.pending[nonce] = now
	r.mu.Unlock()

	return token, nil
}

// ValidateAndConsume reports whether token is a pending, unexpired state and
// removes it. Every other case (unknown, already consumed, expired, forged)
// returns false without saying which.
func (r *StateRegistry) ValidateAndConsume(token string) bool {
	if token == "" {
		return false
	}

	nonce := token
	if r.signer != nil {
		var err error
		nonce, err = r.signer.Verify(token, r.now)
		if err != nil {
			return false
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	createdAt, ok := r.pending[nonce]
	if !ok {
		return false
	}
	delete(r.pending, nonce)

	return r.now().Sub(createdAt) <= r.ttl
}

// Len returns the number of pending states.
func (r *StateRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Cleanup removes pending states older than the TTL and returns how many
// were dropped.
func (r *StateRegistry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	removed := 0
	for nonce, createdAt := range r.pending {
		if createdAt.Before(cutoff) {
			delete(r.pending, nonce)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine periodically drops abandoned states until Close is called.
func (r *StateRegistry) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup()
			}
		}
	}()
}

// Close stops the cleanup goroutine, if any, and waits for it to exit.
func (r *StateRegistry) Close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
		r.cancel = nil
	}
	return nil
}

// randomToken returns n random bytes, base64url encoded without padding.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
