// Package api exposes the touch grass HTTP surface: the OAuth redirect and
// callback, the session-scoped user endpoints and the operational probes.
//
// @title           Touch Grass API
// @version         1.0
// @description     Sign in with Reddit and get a touch grass index computed from recent activity.
// @BasePath        /
//
// @securityDefinitions.apikey  SessionCookie
// @in                          cookie
// @name                        touchgrass_session
//
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/owenisas/please-touch-grass/pkg/audit"
	"github.com/owenisas/please-touch-grass/pkg/auth"
	"github.com/owenisas/please-touch-grass/pkg/health"
	"github.com/owenisas/please-touch-grass/pkg/metrics"
	"github.com/owenisas/please-touch-grass/pkg/provider"
	"github.com/owenisas/please-touch-grass/pkg/session"
)

const slogKeyError = "error"

// Orchestrator runs the authorization-code flow.
type Orchestrator interface {
	BeginAuth() (*auth.AuthorizationRequest, error)
	CompleteAuth(ctx context.Context, code, state string) (*auth.Result, error)
	RejectCallback(ctx context.Context, state string, cause error) error
}

// IdentityFetcher looks up the user behind an access token.
type IdentityFetcher interface {
	FetchIdentity(ctx context.Context, accessToken string) (*provider.UserIdentity, error)
}

// Deps holds the components the API is served from. Audit, Metrics, Health
// and Cookies are optional.
type Deps struct {
	Orchestrator Orchestrator
	Identity     IdentityFetcher
	Collector    auth.Collector
	Sessions     session.Store
	Cookies      *session.CookieCodec
	Audit        audit.Logger
	Metrics      *metrics.Metrics
	Health       *health.Checker

	// FrontendURL, when set, turns the callback into a redirect to the
	// frontend instead of a JSON response.
	FrontendURL string

	CORS CORSConfig
}

// Handler serves the API.
type Handler struct {
	deps     Deps
	router   chi.Router
	validate *validator.Validate
}

// NewHandler builds the router.
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	h.router = h.routes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	if h.deps.Metrics != nil {
		r.Use(h.deps.Metrics.Middleware)
	}
	if cors := corsHandler(h.deps.CORS); cors != nil {
		r.Use(cors)
	}

	if h.deps.Health != nil {
		r.Get("/healthz", h.deps.Health.LivenessHandler())
		r.Get("/readyz", h.deps.Health.ReadinessHandler())
	}
	if h.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.deps.Metrics.Handler())
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Get("/auth/login", h.login)
	r.Get("/auth/callback", h.callback)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/auth/url", h.authURL)
		r.Post("/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(session.Middleware(session.MiddlewareConfig{
				Store:   h.deps.Sessions,
				Cookies: h.deps.Cookies,
				OnError: writeSessionError,
			}))
			r.Get("/me", h.me)
			r.Get("/me/events", h.events)
			r.Get("/activity", h.activity)
		})
	})

	return r
}
