package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	// DefaultCookieName is the name of the session cookie.
	DefaultCookieName = "touchgrass_session"

	// cookieValueKey is the key under which the session id is stored.
	cookieValueKey = "sid"
)

// CookieConfig configures a CookieCodec.
type CookieConfig struct {
	Name     string
	HashKey  []byte
	BlockKey []byte
	Path     string
	Domain   string
	MaxAge   int
	Secure   bool
	SameSite http.SameSite
}

// CookieCodec stores the session id in a signed and encrypted cookie.
type CookieCodec struct {
	store *sessions.CookieStore
	name  string
}

// NewCookieCodec creates a cookie codec. HashKey authenticates the cookie,
// BlockKey (optional) encrypts it.
func NewCookieCodec(cfg CookieConfig) (*CookieCodec, error) {
	if len(cfg.HashKey) == 0 {
		return nil, errors.New("cookie hash key is required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultCookieName
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}

	keys := [][]byte{cfg.HashKey}
	if len(cfg.BlockKey) > 0 {
		keys = append(keys, cfg.BlockKey)
	}
	store := sessions.NewCookieStore(keys...)
	store.Options = &sessions.Options{
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   cfg.MaxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}
	if cfg.MaxAge > 0 {
		store.MaxAge(cfg.MaxAge)
	}

	return &CookieCodec{store: store, name: cfg.Name}, nil
}

// Write sets the session cookie carrying id.
func (c *CookieCodec) Write(w http.ResponseWriter, r *http.Request, id string) error {
	sess, _ := c.store.New(r, c.name) // a stale or forged cookie is simply replaced
	sess.Values[cookieValueKey] = id
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("saving session cookie: %w", err)
	}
	return nil
}

// Read returns the session id from the request cookie, or "" when the
// cookie is missing or fails verification.
func (c *CookieCodec) Read(r *http.Request) string {
	sess, err := c.store.New(r, c.name)
	if err != nil || sess.IsNew {
		return ""
	}
	id, _ := sess.Values[cookieValueKey].(string)
	return id
}

// Clear expires the session cookie.
func (c *CookieCodec) Clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := c.store.New(r, c.name)
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("clearing session cookie: %w", err)
	}
	return nil
}
