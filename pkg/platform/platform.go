// Package platform loads configuration and wires the touch grass service
// together: provider client, OAuth state, sessions, activity collection,
// audit trail, metrics and the HTTP API.
package platform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/owenisas/please-touch-grass/pkg/activity"
	"github.com/owenisas/please-touch-grass/pkg/api"
	"github.com/owenisas/please-touch-grass/pkg/audit"
	auditpostgres "github.com/owenisas/please-touch-grass/pkg/audit/postgres"
	"github.com/owenisas/please-touch-grass/pkg/auth"
	"github.com/owenisas/please-touch-grass/pkg/database/migrate"
	"github.com/owenisas/please-touch-grass/pkg/health"
	"github.com/owenisas/please-touch-grass/pkg/metrics"
	"github.com/owenisas/please-touch-grass/pkg/oauth"
	"github.com/owenisas/please-touch-grass/pkg/provider"
	"github.com/owenisas/please-touch-grass/pkg/provider/reddit"
	"github.com/owenisas/please-touch-grass/pkg/session"
)

const slogKeyError = "error"

// Platform is the assembled service.
type Platform struct {
	config    *Config
	lifecycle *Lifecycle

	db      *sql.DB
	auditDB *auditpostgres.Store

	provider     provider.Client
	states       *oauth.StateRegistry
	sessions     *session.MemoryStore
	cookies      *session.CookieCodec
	collector    *activity.Collector
	orchestrator *auth.Orchestrator
	auditLogger  audit.Logger

	metrics *metrics.Metrics
	health  *health.Checker
	handler *api.Handler
}

// New creates a new platform instance.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		config:    options.Config,
		lifecycle: NewLifecycle(),
		metrics:   metrics.New(),
		health:    health.NewChecker(),
	}

	if err := p.initializeComponents(options); err != nil {
		_ = p.lifecycle.stopFrom(context.Background(), len(p.lifecycle.hooks)-1)
		return nil, fmt.Errorf("initializing components: %w", err)
	}

	return p, nil
}

// initializeComponents initializes all platform components.
func (p *Platform) initializeComponents(opts *Options) error {
	if err := p.initDatabase(opts); err != nil {
		return err
	}
	p.initAudit(opts)
	if err := p.initProvider(opts); err != nil {
		return err
	}
	if err := p.initAuth(); err != nil {
		return err
	}
	p.initHandler()
	p.registerLifecycle()
	return nil
}

// initDatabase opens the database and applies migrations when configured.
func (p *Platform) initDatabase(opts *Options) error {
	switch {
	case opts.DB != nil:
		p.db = opts.DB
	case p.config.Database.DSN != "":
		db, err := sql.Open("postgres", p.config.Database.DSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(p.config.Database.MaxOpenConns)
		db.SetMaxIdleConns(p.config.Database.MaxIdleConns)
		db.SetConnMaxLifetime(p.config.Database.ConnMaxLifetime)
		p.db = db
		p.lifecycle.RegisterCloser("database", db)
	default:
		return nil
	}

	p.health.AddCheck("database", p.db.PingContext)

	if p.config.Database.AutoMigrate {
		if err := migrate.Run(p.db); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}
	return nil
}

// initAudit selects the audit sink: an injected logger, PostgreSQL when a
// database is available, or a bounded in-memory ring.
func (p *Platform) initAudit(opts *Options) {
	if !p.config.Audit.Enabled {
		return
	}
	switch {
	case opts.AuditLogger != nil:
		p.auditLogger = opts.AuditLogger
	case p.db != nil:
		p.auditDB = auditpostgres.New(p.db, auditpostgres.Config{RetentionDays: p.config.Audit.RetentionDays})
		p.auditLogger = p.auditDB
		p.health.AddCheck("audit", p.auditDB.Ping)
	default:
		p.auditLogger = audit.NewMemoryLogger(p.config.Audit.MemoryCapacity)
	}
}

func (p *Platform) initProvider(opts *Options) error {
	if opts.Provider != nil {
		p.provider = opts.Provider
		return nil
	}

	rc := p.config.Reddit
	client, err := reddit.New(reddit.Config{
		ClientID:     rc.ClientID,
		ClientSecret: rc.ClientSecret,
		RedirectURI:  rc.RedirectURI,
		Scopes:       rc.Scopes,
		UserAgent:    rc.UserAgent,
		AuthURL:      rc.AuthURL,
		TokenURL:     rc.TokenURL,
		APIBaseURL:   rc.APIBaseURL,
		Timeout:      rc.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating reddit client: %w", err)
	}
	p.provider = client
	return nil
}

// initAuth builds the state registry, session store, cookie codec, collector
// and orchestrator. Every key is derived from security.secret_key.
func (p *Platform) initAuth() error {
	secret := []byte(p.config.Security.SecretKey)
	stateKey, err := oauth.DeriveKey(secret, oauth.PurposeStateSigning)
	if err != nil {
		return err
	}
	hashKey, err := oauth.DeriveKey(secret, oauth.PurposeCookieHash)
	if err != nil {
		return err
	}
	blockKey, err := oauth.DeriveKey(secret, oauth.PurposeCookieCrypt)
	if err != nil {
		return err
	}

	signer, err := oauth.NewStateSigner(stateKey)
	if err != nil {
		return fmt.Errorf("creating state signer: %w", err)
	}
	p.states = oauth.NewStateRegistry(oauth.StateConfig{TTL: p.config.State.TTL, Signer: signer})

	p.cookies, err = session.NewCookieCodec(session.CookieConfig{
		Name:     p.config.Session.CookieName,
		HashKey:  hashKey,
		BlockKey: blockKey,
		MaxAge:   int(p.config.Session.MaxLifetime.Seconds()),
		Secure:   p.config.Server.CookieSecure,
	})
	if err != nil {
		return fmt.Errorf("creating cookie codec: %w", err)
	}

	p.sessions = session.NewMemoryStore(session.Config{
		AccessTokenTTL: p.config.Session.AccessTokenTTL,
		MaxLifetime:    p.config.Session.MaxLifetime,
		Refresher:      p.provider,
		OnRefresh:      p.onRefresh,
	})

	p.collector = activity.NewCollector(p.provider, activity.CollectorConfig{
		PageLimit:  p.config.Activity.PageLimit,
		Sort:       p.config.Activity.Sort,
		TimeWindow: p.config.Activity.TimeWindow,
		OnFetch:    p.metrics.ActivityFetch,
	})

	p.orchestrator = auth.NewOrchestrator(auth.Config{
		Provider:   p.provider,
		States:     p.states,
		Sessions:   p.sessions,
		Collector:  p.collector,
		Audit:      p.auditLogger,
		OnComplete: func(code auth.Code) { p.metrics.Login(string(code)) },
	})

	p.metrics.RegisterGauge("sessions_active", "Sessions currently held in memory", func() float64 {
		return float64(p.sessions.Len())
	})
	p.metrics.RegisterGauge("oauth_pending_states", "Authorization states awaiting a callback", func() float64 {
		return float64(p.states.Len())
	})
	return nil
}

func (p *Platform) initHandler() {
	p.handler = api.NewHandler(api.Deps{
		Orchestrator: p.orchestrator,
		Identity:     p.provider,
		Collector:    p.collector,
		Sessions:     p.sessions,
		Cookies:      p.cookies,
		Audit:        p.auditLogger,
		Metrics:      p.metrics,
		Health:       p.health,
		FrontendURL:  p.config.Server.FrontendURL,
		CORS:         api.CORSConfig{AllowedOrigins: p.config.Server.CORSOrigins},
	})
}

// registerLifecycle registers the background sweepers and the readiness
// transitions. Stop steps run in reverse, so readiness drains first.
func (p *Platform) registerLifecycle() {
	p.lifecycle.Append("oauth states",
		func(context.Context) error {
			p.states.StartCleanupRoutine(p.config.State.CleanupInterval)
			return nil
		},
		func(context.Context) error { return p.states.Close() },
	)
	p.lifecycle.Append("sessions",
		func(context.Context) error {
			p.sessions.StartCleanupRoutine(p.config.Session.CleanupInterval)
			return nil
		},
		func(context.Context) error { return p.sessions.Close() },
	)
	if p.auditDB != nil {
		p.lifecycle.Append("audit retention",
			func(context.Context) error {
				p.auditDB.StartCleanupRoutine(p.config.Audit.CleanupInterval)
				return nil
			},
			func(context.Context) error { return p.auditDB.Close() },
		)
	}
	p.lifecycle.Append("readiness",
		func(context.Context) error {
			p.health.SetReady()
			return nil
		},
		func(context.Context) error {
			p.health.SetDraining()
			return nil
		},
	)
}

// onRefresh feeds session refresh outcomes to metrics and the audit trail.
func (p *Platform) onRefresh(ev session.RefreshEvent) {
	p.metrics.Refresh(string(ev.Outcome))

	event := audit.NewEvent(audit.EventSessionRefreshed).
		WithUser(ev.Username).
		WithSession(session.LogID(ev.SessionID))
	if ev.Outcome != session.RefreshSucceeded {
		event.Type = audit.EventSessionExpired
		event.WithError(string(ev.Outcome), ev.Err)
	}
	if err := audit.Record(context.Background(), p.auditLogger, event); err != nil {
		slog.Warn("platform: audit write failed", slogKeyError, err)
	}
}

// Start starts background routines and marks the service ready.
func (p *Platform) Start(ctx context.Context) error {
	return p.lifecycle.Start(ctx)
}

// Stop marks the service draining and releases resources.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// Handler returns the HTTP API.
func (p *Platform) Handler() http.Handler {
	return p.handler
}

// Health returns the readiness tracker.
func (p *Platform) Health() *health.Checker {
	return p.health
}

// Metrics returns the metrics collectors.
func (p *Platform) Metrics() *metrics.Metrics {
	return p.metrics
}

// Sessions returns the session store.
func (p *Platform) Sessions() *session.MemoryStore {
	return p.sessions
}

// AuditLogger returns the audit sink, nil when auditing is disabled.
func (p *Platform) AuditLogger() audit.Logger {
	return p.auditLogger
}

// Orchestrator returns the authorization flow.
func (p *Platform) Orchestrator() *auth.Orchestrator {
	return p.orchestrator
}
