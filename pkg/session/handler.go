package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

const (
	// HeaderSessionID carries the session id for non-browser clients.
	HeaderSessionID = "X-Session-Id"

	bearerPrefix = "Bearer "
)

type contextKey struct{}

// WithSession returns a context carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session attached by Middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(contextKey{}).(*Session)
	return sess, ok && sess != nil
}

// IDFromRequest resolves the session id from, in order, the session cookie,
// an Authorization bearer token, or the X-Session-Id header.
func IDFromRequest(r *http.Request, cookies *CookieCodec) string {
	if cookies != nil {
		if id := cookies.Read(r); id != "" {
			return id
		}
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		if id := strings.TrimSpace(auth[len(bearerPrefix):]); id != "" {
			return id
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderSessionID))
}

// ErrorWriter renders a session lookup failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	Store   Store
	Cookies *CookieCodec

	// OnError renders failures. Defaults to a plain 401.
	OnError ErrorWriter
}

// Middleware resolves the request's session through Store.Get, refreshing
// it if needed, and stores it in the request context. Requests without a
// usable session are rejected.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	onError := cfg.OnError
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IDFromRequest(r, cfg.Cookies)
			if id == "" {
				onError(w, r, ErrNotFound)
				return
			}

			sess, err := cfg.Store.Get(r.Context(), id)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					slog.Warn("session: lookup failed", "session", LogID(id), slogKeyError, err)
				}
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}
