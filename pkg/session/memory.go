package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/owenisas/please-touch-grass/pkg/provider"
)

const (
	// DefaultAccessTokenTTL matches the provider's access token lifetime.
	DefaultAccessTokenTTL = time.Hour

	// sessionIDBytes is the number of random bytes in a session id.
	sessionIDBytes = 32

	// slogKeyError is the slog attribute key for error values.
	slogKeyError = "error"
)

// RefreshOutcome describes what happened when an expired session was read.
type RefreshOutcome string

// Refresh outcomes.
const (
	RefreshSucceeded        RefreshOutcome = "succeeded"
	RefreshFailed           RefreshOutcome = "failed"
	RefreshLifetimeExceeded RefreshOutcome = "lifetime_exceeded"
)

// RefreshEvent is passed to Config.OnRefresh.
type RefreshEvent struct {
	SessionID string
	Username  string
	Outcome   RefreshOutcome
	Err       error
}

// Config configures a MemoryStore.
type Config struct {
	// AccessTokenTTL is how long an access token is trusted before refresh.
	// Defaults to DefaultAccessTokenTTL.
	AccessTokenTTL time.Duration

	// MaxLifetime caps the total age of a session regardless of refreshes.
	// Zero disables the cap.
	MaxLifetime time.Duration

	// Refresher renews expired access tokens. Without one, expired sessions
	// are dropped on read.
	Refresher Refresher

	// OnRefresh, if set, is called after every refresh attempt.
	OnRefresh func(RefreshEvent)
}

// MemoryStore implements Store using an in-memory map. Stored sessions are
// never mutated in place; updates swap in a new value.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	ttl         time.Duration
	maxLifetime time.Duration
	refresher   Refresher
	onRefresh   func(RefreshEvent)
	now         func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(cfg Config) *MemoryStore {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		ttl:         cfg.AccessTokenTTL,
		maxLifetime: cfg.MaxLifetime,
		refresher:   cfg.Refresher,
		onRefresh:   cfg.OnRefresh,
		now:         time.Now,
	}
}

// Create stores a new session for username and returns its id.
func (s *MemoryStore) Create(_ context.Context, username string, tokens provider.TokenPair) (string, error) {
	id, err := generateSessionID()
	if err != nil {
		return "", err
	}

	now := s.now()
	if tokens.IssuedAt.IsZero() {
		tokens.IssuedAt = now
	}
	sess := &Session{
		ID:        id,
		Username:  username,
		Tokens:    tokens,
		CreatedAt: now,
		ExpiresAt: tokens.IssuedAt.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id] = sess
	return id, nil
}

// Get returns the session for id, refreshing its access token first if it
// has expired. The refresh call happens without holding the lock.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	sess, ok := s.load(id)
	if !ok {
		return nil, ErrNotFound
	}

	now := s.now()
	if s.maxLifetime > 0 && now.Sub(sess.CreatedAt) > s.maxLifetime {
		s.removeIfCurrent(id, sess)
		s.report(sess, RefreshLifetimeExceeded, nil)
		return nil, ErrSessionExpired
	}
	if !now.After(sess.ExpiresAt) {
		return sess.clone(), nil
	}

	return s.refresh(ctx, id, sess)
}

func (s *MemoryStore) refresh(ctx context.Context, id string, sess *Session) (*Session, error) {
	pair, err := s.callRefresher(ctx, sess.Tokens.RefreshToken)
	if err != nil {
		// A caller that went away says nothing about the refresh token.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("refreshing session: %w", ctxErr)
		}
		s.removeIfCurrent(id, sess)
		s.report(sess, RefreshFailed, err)
		slog.Info("session: refresh failed, session dropped",
			"session", LogID(id), "user", sess.Username, slogKeyError, err)
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	now := s.now()
	updated := sess.clone()
	updated.Tokens.AccessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		updated.Tokens.RefreshToken = pair.RefreshToken
	}
	updated.Tokens.IssuedAt = now
	updated.Tokens.ExpiresIn = pair.ExpiresIn
	updated.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	cur, ok := s.sessions[id]
	switch {
	case !ok:
		// Invalidated while the refresh was in flight.
		s.mu.Unlock()
		return nil, ErrNotFound
	case cur != sess && !now.After(cur.ExpiresAt):
		// A concurrent Get already stored a fresher token.
		s.mu.Unlock()
		return cur.clone(), nil
	}
	s.sessions[id] = updated
	s.mu.Unlock()

	s.report(sess, RefreshSucceeded, nil)
	slog.Debug("session: access token refreshed", "session", LogID(id), "user", sess.Username)
	return updated.clone(), nil
}

func (s *MemoryStore) callRefresher(ctx context.Context, refreshToken string) (*provider.TokenPair, error) {
	if s.refresher == nil {
		return nil, errors.New("no refresher configured")
	}
	if refreshToken == "" {
		return nil, errors.New("session has no refresh token")
	}
	pair, err := s.refresher.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if pair == nil || pair.AccessToken == "" {
		return nil, errors.New("refresh returned no access token")
	}
	return pair, nil
}

// Peek returns the stored session without refreshing it, expired or not.
func (s *MemoryStore) Peek(_ context.Context, id string) (*Session, error) {
	sess, ok := s.load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return sess.clone(), nil
}

// Invalidate removes a session.
func (s *MemoryStore) Invalidate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Cleanup removes sessions older than MaxLifetime and returns how many were
// dropped. Sessions with an expired access token are kept; they may still
// refresh.
func (s *MemoryStore) Cleanup() int {
	if s.maxLifetime <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.maxLifetime)
	removed := 0
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// sessions past their maximum lifetime. The goroutine is stopped when Close
// is called.
func (s *MemoryStore) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Cleanup(); n > 0 {
					slog.Debug("session: cleanup removed sessions", "count", n)
				}
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *MemoryStore) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	return nil
}

func (s *MemoryStore) load(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// removeIfCurrent deletes id only if it still maps to observed, so a failed
// refresh never removes a session another caller already refreshed.
func (s *MemoryStore) removeIfCurrent(id string, observed *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[id]; ok && cur == observed {
		delete(s.sessions, id)
	}
}

func (s *MemoryStore) report(sess *Session, outcome RefreshOutcome, err error) {
	if s.onRefresh == nil {
		return
	}
	s.onRefresh(RefreshEvent{
		SessionID: sess.ID,
		Username:  sess.Username,
		Outcome:   outcome,
		Err:       err,
	})
}

// generateSessionID creates a random 256-bit hex session id.
func generateSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
