package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/owenisas/please-touch-grass/internal/apidocs" // register swagger docs
	"github.com/owenisas/please-touch-grass/pkg/activity"
	"github.com/owenisas/please-touch-grass/pkg/audit"
	"github.com/owenisas/please-touch-grass/pkg/auth"
	"github.com/owenisas/please-touch-grass/pkg/health"
	"github.com/owenisas/please-touch-grass/pkg/metrics"
	"github.com/owenisas/please-touch-grass/pkg/oauth"
	"github.com/owenisas/please-touch-grass/pkg/provider"
	"github.com/owenisas/please-touch-grass/pkg/session"
)

const (
	goodCode    = "good-code"
	alice       = "alice"
	frontendURL = "https://app.example.com/result"
)

type fakeProvider struct {
	identityErr error
	refreshErr  error
	pageErr     error
	pages       map[string][]provider.Item
}

func (*fakeProvider) AuthorizationURL(state string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state)
}

func (*fakeProvider) ExchangeCode(_ context.Context, code string) (*provider.TokenPair, error) {
	if code != goodCode {
		return nil, provider.NewError("exchange code", provider.ErrUnauthorized, http.StatusBadRequest, nil)
	}
	return &provider.TokenPair{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (p *fakeProvider) RefreshToken(context.Context, string) (*provider.TokenPair, error) {
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return &provider.TokenPair{AccessToken: "access"}, nil
}

func (p *fakeProvider) FetchIdentity(_ context.Context, accessToken string) (*provider.UserIdentity, error) {
	if p.identityErr != nil {
		return nil, p.identityErr
	}
	if accessToken != "access" {
		return nil, provider.ErrUnauthorized
	}
	return &provider.UserIdentity{Username: alice, TotalKarma: 42}, nil
}

func (p *fakeProvider) FetchPaged(_ context.Context, _, path string, _ provider.PageParams) (*provider.ItemPage, error) {
	if p.pageErr != nil {
		return nil, p.pageErr
	}
	return &provider.ItemPage{Items: p.pages[path]}, nil
}

type testEnv struct {
	handler  *Handler
	provider *fakeProvider
	sessions *session.MemoryStore
	audit    *audit.MemoryLogger
	metrics  *metrics.Metrics
	health   *health.Checker
}

func newTestEnv(t *testing.T, configure ...func(*Deps)) *testEnv {
	t.Helper()

	env := &testEnv{
		provider: &fakeProvider{},
		audit:    audit.NewMemoryLogger(0),
		metrics:  metrics.New(),
		health:   health.NewChecker(),
	}
	env.sessions = session.NewMemoryStore(session.Config{Refresher: env.provider})
	t.Cleanup(func() { _ = env.sessions.Close() })

	cookies, err := session.NewCookieCodec(session.CookieConfig{
		HashKey: []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)

	collector := activity.NewCollector(env.provider, activity.CollectorConfig{})
	deps := Deps{
		Orchestrator: auth.NewOrchestrator(auth.Config{
			Provider:   env.provider,
			States:     oauth.NewStateRegistry(oauth.StateConfig{}),
			Sessions:   env.sessions,
			Collector:  collector,
			Audit:      env.audit,
			OnComplete: func(code auth.Code) { env.metrics.Login(string(code)) },
		}),
		Identity:  env.provider,
		Collector: collector,
		Sessions:  env.sessions,
		Cookies:   cookies,
		Audit:     env.audit,
		Metrics:   env.metrics,
		Health:    env.health,
	}
	for _, fn := range configure {
		fn(&deps)
	}
	env.handler = NewHandler(deps)
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(target string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, target, http.NoBody))
}

func (e *testEnv) getWithSession(target, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	req.Header.Set("Authorization", "Bearer "+id)
	return e.do(req)
}

// state obtains a fresh state through the public endpoint.
func (e *testEnv) state(t *testing.T) string {
	t.Helper()
	rec := e.get("/api/v1/auth/url")
	require.Equal(t, http.StatusOK, rec.Code)

	var body auth.AuthorizationRequest
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.State
}

func (e *testEnv) createSession(t *testing.T, tokens provider.TokenPair) string {
	t.Helper()
	id, err := e.sessions.Create(context.Background(), alice, tokens)
	require.NoError(t, err)
	return id
}

func callbackURL(code, state string) string {
	q := url.Values{}
	if code != "" {
		q.Set("code", code)
	}
	if state != "" {
		q.Set("state", state)
	}
	return "/auth/callback?" + q.Encode()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestAuthURL(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get("/api/v1/auth/url")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body auth.AuthorizationRequest
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.State)
	assert.Contains(t, body.URL, url.QueryEscape(body.State))
}

func TestLogin_Redirects(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get("/auth/login")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://provider.test/authorize?state="))
}

func TestCallback_Success(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(callbackURL(goodCode, env.state(t)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body callbackResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.SessionID)
	assert.Equal(t, alice, body.Username)
	require.NotNil(t, body.Identity)
	assert.Equal(t, 42, body.Identity.TotalKarma)
	assert.Equal(t, 100, body.Activity.TouchGrassIndex)
	assert.Len(t, body.Activity.Metrics.ActiveHours, 24)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, session.DefaultCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// The cookie alone authenticates follow-up requests.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", http.NoBody)
	req.AddCookie(cookies[0])
	me := env.do(req)
	require.Equal(t, http.StatusOK, me.Code)
}

func TestCallback_Failures(t *testing.T) {
	tests := []struct {
		name       string
		target     func(env *testEnv, t *testing.T) string
		wantStatus int
		wantCode   ErrorCode
	}{
		{
			name:       "wrong state",
			target:     func(_ *testEnv, _ *testing.T) string { return callbackURL(goodCode, "forged") },
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidState,
		},
		{
			name:       "rejected code",
			target:     func(env *testEnv, t *testing.T) string { return callbackURL("bad-code", env.state(t)) },
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeTokenExchangeFailed,
		},
		{
			name:       "missing code",
			target:     func(env *testEnv, t *testing.T) string { return callbackURL("", env.state(t)) },
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
		{
			name:       "missing state",
			target:     func(_ *testEnv, _ *testing.T) string { return callbackURL(goodCode, "") },
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidState,
		},
		{
			name:       "oversized state",
			target:     func(_ *testEnv, _ *testing.T) string { return callbackURL(goodCode, strings.Repeat("s", 4096)) },
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidState,
		},
		{
			name:       "missing code and state",
			target:     func(_ *testEnv, _ *testing.T) string { return "/auth/callback" },
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidState,
		},
		{
			name: "consent denied",
			target: func(env *testEnv, t *testing.T) string {
				return "/auth/callback?error=access_denied&state=" + url.QueryEscape(env.state(t))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
		{
			name:       "consent denied without state",
			target:     func(_ *testEnv, _ *testing.T) string { return "/auth/callback?error=access_denied" },
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.get(tt.target(env, t))
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Error)
			assert.Equal(t, 0, env.sessions.Len())
			assert.Empty(t, rec.Result().Cookies())

			events, err := env.audit.Query(context.Background(), audit.QueryFilter{Type: audit.EventLoginFailed})
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, string(tt.wantCode), events[0].ErrorCode)
		})
	}
}

func TestCallback_FailedCallbackConsumesState(t *testing.T) {
	tests := []struct {
		name   string
		target func(state string) string
	}{
		{name: "missing code", target: func(state string) string { return callbackURL("", state) }},
		{name: "consent denied", target: func(state string) string {
			return "/auth/callback?error=access_denied&state=" + url.QueryEscape(state)
		}},
		{name: "rejected code", target: func(state string) string { return callbackURL("bad-code", state) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			state := env.state(t)

			require.Equal(t, http.StatusBadRequest, env.get(tt.target(state)).Code)

			rec := env.get(callbackURL(goodCode, state))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, CodeInvalidState, decodeError(t, rec).Error)
			assert.Equal(t, 0, env.sessions.Len())
		})
	}
}

func TestCallback_RejectionIsCounted(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusBadRequest, env.get(callbackURL("", env.state(t))).Code)
	require.Equal(t, http.StatusBadRequest, env.get("/auth/callback?error=access_denied").Code)

	body := env.get("/metrics").Body.String()
	assert.Contains(t, body, `touchgrass_logins_total{outcome="invalid_request"} 1`)
	assert.Contains(t, body, `touchgrass_logins_total{outcome="invalid_state"} 1`)
}

func TestCallback_IdentityUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.provider.identityErr = provider.ErrUnavailable

	rec := env.get(callbackURL(goodCode, env.state(t)))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, CodeIdentityFetchFailed, decodeError(t, rec).Error)
}

func TestCallback_FrontendRedirect(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.FrontendURL = frontendURL })

	t.Run("success", func(t *testing.T) {
		rec := env.get(callbackURL(goodCode, env.state(t)))
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, frontendURL, rec.Header().Get("Location"))
		assert.NotEmpty(t, rec.Result().Cookies())
	})

	t.Run("failure carries code", func(t *testing.T) {
		rec := env.get(callbackURL(goodCode, "forged"))
		require.Equal(t, http.StatusFound, rec.Code)

		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "app.example.com", loc.Host)
		assert.Equal(t, string(CodeInvalidState), loc.Query().Get("error"))
	})
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, provider.TokenPair{AccessToken: "access", RefreshToken: "refresh"})

	t.Run("bearer", func(t *testing.T) {
		rec := env.getWithSession("/api/v1/me", id)
		require.Equal(t, http.StatusOK, rec.Code)

		var identity provider.UserIdentity
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&identity))
		assert.Equal(t, alice, identity.Username)
	})

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", http.NoBody)
		req.Header.Set(session.HeaderSessionID, id)
		assert.Equal(t, http.StatusOK, env.do(req).Code)
	})

	t.Run("no session", func(t *testing.T) {
		rec := env.get("/api/v1/me")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeUnauthorized, decodeError(t, rec).Error)
	})

	t.Run("unknown session", func(t *testing.T) {
		rec := env.getWithSession("/api/v1/me", "nope")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeUnauthorized, decodeError(t, rec).Error)
	})
}

func TestMe_ProviderErrors(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   ErrorCode
	}{
		{provider.ErrUnavailable, http.StatusBadGateway, CodeProviderUnavailable},
		{provider.ErrRateLimited, http.StatusServiceUnavailable, CodeProviderUnavailable},
		{provider.ErrMalformedResponse, http.StatusBadGateway, CodeMalformedProviderResponse},
		{provider.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newTestEnv(t)
			env.provider.identityErr = tt.err
			id := env.createSession(t, provider.TokenPair{AccessToken: "access", RefreshToken: "refresh"})

			rec := env.getWithSession("/api/v1/me", id)
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Error)
		})
	}
}

func TestExpiredSession(t *testing.T) {
	expired := provider.TokenPair{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		IssuedAt:     time.Now().Add(-2 * session.DefaultAccessTokenTTL),
	}

	t.Run("refreshed transparently", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createSession(t, expired)

		rec := env.getWithSession("/api/v1/me", id)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("refresh rejected", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.refreshErr = provider.ErrUnauthorized
		id := env.createSession(t, expired)

		rec := env.getWithSession("/api/v1/me", id)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeSessionExpired, decodeError(t, rec).Error)

		rec = env.getWithSession("/api/v1/me", id)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeUnauthorized, decodeError(t, rec).Error)
	})
}

func TestActivity(t *testing.T) {
	env := newTestEnv(t)
	env.provider.pages = map[string][]provider.Item{
		provider.SubmittedPath(alice): make([]provider.Item, 5),
		provider.CommentsPath(alice):  make([]provider.Item, 10),
		provider.SubscriptionsPath:    {{Name: "a"}, {Name: "b"}, {Name: "c"}},
	}
	id := env.createSession(t, provider.TokenPair{AccessToken: "access", RefreshToken: "refresh"})

	rec := env.getWithSession("/api/v1/activity", id)
	require.Equal(t, http.StatusOK, rec.Code)

	var report activity.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 88, report.TouchGrassIndex)
	assert.Equal(t, []string{"a", "b", "c"}, report.Metrics.SubredditNames)
	assert.Empty(t, report.Degraded)
}

func TestActivity_AllSourcesFailed(t *testing.T) {
	env := newTestEnv(t)
	env.provider.pageErr = provider.ErrUnavailable
	id := env.createSession(t, provider.TokenPair{AccessToken: "access", RefreshToken: "refresh"})

	rec := env.getWithSession("/api/v1/activity", id)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, CodeActivityFetchFailed, decodeError(t, rec).Error)
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(callbackURL(goodCode, env.state(t)))
	require.Equal(t, http.StatusOK, rec.Code)
	var login callbackResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&login))

	rec = env.getWithSession("/api/v1/me/events?limit=5", login.SessionID)
	require.Equal(t, http.StatusOK, rec.Code)

	var body eventsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, audit.EventLoginSucceeded, body.Data[0].Type)
	assert.Equal(t, alice, body.Data[0].Username)
	assert.NotEmpty(t, body.Data[0].RequestID, "request id comes from the router")
}

func TestEvents_NoAudit(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Audit = nil })
	id := env.createSession(t, provider.TokenPair{AccessToken: "access", RefreshToken: "refresh"})

	rec := env.getWithSession("/api/v1/me/events", id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, provider.TokenPair{AccessToken: "access", RefreshToken: "refresh"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/logout", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+id)
	rec := env.do(req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Negative(t, cookies[0].MaxAge, "cookie is cleared")

	assert.Equal(t, http.StatusUnauthorized, env.getWithSession("/api/v1/me", id).Code)

	events, err := env.audit.Query(context.Background(), audit.QueryFilter{Type: audit.EventLogout})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, alice, events[0].Username)
	assert.Equal(t, session.LogID(id), events[0].SessionID)
}

func TestLogout_WithoutSession(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "no session id"},
		{name: "unknown session", header: "Bearer does-not-exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/logout", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := env.do(req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, CodeUnauthorized, decodeError(t, rec).Error)

			cookies := rec.Result().Cookies()
			require.NotEmpty(t, cookies)
			assert.Negative(t, cookies[0].MaxAge, "cookie is cleared")

			events, err := env.audit.Query(context.Background(), audit.QueryFilter{})
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestLogout_Twice(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, provider.TokenPair{AccessToken: "access", RefreshToken: "refresh"})

	logout := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/logout", http.NoBody)
		req.Header.Set("Authorization", "Bearer "+id)
		return env.do(req).Code
	}
	assert.Equal(t, http.StatusNoContent, logout())
	assert.Equal(t, http.StatusUnauthorized, logout())
}

func TestProbes(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.get("/readyz").Code)

	env.health.SetReady()
	assert.Equal(t, http.StatusOK, env.get("/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.get(callbackURL(goodCode, env.state(t))).Code)

	rec := env.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `touchgrass_logins_total{outcome="success"} 1`)
	assert.Contains(t, body, `touchgrass_http_requests_total{method="GET",route="/auth/callback",status="200"} 1`)
	assert.Contains(t, body, "touchgrass_touch_grass_index_count 1")
}

func TestSwaggerDoc(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get("/swagger/doc.json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Touch Grass API")
	assert.Contains(t, rec.Body.String(), "/api/v1/activity")
}

func TestCORS(t *testing.T) {
	const origin = "https://app.example.com"

	t.Run("allowed origin", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) { d.CORS = CORSConfig{AllowedOrigins: []string{origin}} })

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/me", http.NoBody)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rec := env.do(req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("disabled without origins", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
		req.Header.Set("Origin", origin)
		rec := env.do(req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, defaultEventLimit, parseLimit(""))
	assert.Equal(t, defaultEventLimit, parseLimit("abc"))
	assert.Equal(t, defaultEventLimit, parseLimit("-1"))
	assert.Equal(t, 7, parseLimit("7"))
	assert.Equal(t, maxEventLimit, parseLimit("5000"))
}
