package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owenisas/please-touch-grass/pkg/audit"
	auditpostgres "github.com/owenisas/please-touch-grass/pkg/audit/postgres"
	"github.com/owenisas/please-touch-grass/pkg/provider"
)

const platformTestCode = "good-code"

type stubProvider struct {
	refreshErr error
}

func (*stubProvider) AuthorizationURL(state string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state)
}

func (*stubProvider) ExchangeCode(_ context.Context, code string) (*provider.TokenPair, error) {
	if code != platformTestCode {
		return nil, provider.ErrUnauthorized
	}
	return &provider.TokenPair{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (p *stubProvider) RefreshToken(context.Context, string) (*provider.TokenPair, error) {
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return &provider.TokenPair{AccessToken: "access"}, nil
}

func (*stubProvider) FetchIdentity(context.Context, string) (*provider.UserIdentity, error) {
	return &provider.UserIdentity{Username: "alice"}, nil
}

func (*stubProvider) FetchPaged(context.Context, string, string, provider.PageParams) (*provider.ItemPage, error) {
	return &provider.ItemPage{}, nil
}

func newTestPlatform(t *testing.T, opts ...Option) *Platform {
	t.Helper()
	cfg := validConfig()
	cfg.Audit.Enabled = true

	p, err := New(append([]Option{WithConfig(cfg), WithProvider(&stubProvider{})}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func serve(p *Platform, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New()
	require.Error(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Security.SecretKey = ""

	_, err := New(WithConfig(cfg), WithProvider(&stubProvider{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security.secret_key")
}

func TestNew_BuildsRedditClient(t *testing.T) {
	p, err := New(WithConfig(validConfig()))
	require.NoError(t, err)
	assert.NotNil(t, p.Handler())
	assert.Nil(t, p.AuditLogger(), "audit is off unless enabled")
}

func TestPlatform_LoginFlow(t *testing.T) {
	p := newTestPlatform(t)

	rec := serve(p, httptest.NewRequest(http.MethodGet, "/api/v1/auth/url", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	var authz struct {
		State string `json:"state"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&authz))

	q := url.Values{"code": {platformTestCode}, "state": {authz.State}}
	rec = serve(p, httptest.NewRequest(http.MethodGet, "/auth/callback?"+q.Encode(), http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", http.NoBody)
	req.AddCookie(cookies[0])
	require.Equal(t, http.StatusOK, serve(p, req).Code)

	events, err := p.AuditLogger().Query(context.Background(), audit.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventLoginSucceeded, events[0].Type)

	rec = serve(p, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Contains(t, rec.Body.String(), "touchgrass_sessions_active 1")
	assert.Contains(t, rec.Body.String(), "touchgrass_oauth_pending_states 0")
}

func TestPlatform_RefreshIsAudited(t *testing.T) {
	tests := []struct {
		name       string
		refreshErr error
		wantType   audit.EventType
	}{
		{"refreshed", nil, audit.EventSessionRefreshed},
		{"expired", provider.ErrUnauthorized, audit.EventSessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Audit.Enabled = true
			p, err := New(WithConfig(cfg), WithProvider(&stubProvider{refreshErr: tt.refreshErr}))
			require.NoError(t, err)
			defer func() { _ = p.Stop(context.Background()) }()

			id, err := p.Sessions().Create(context.Background(), "alice", provider.TokenPair{
				AccessToken:  "stale",
				RefreshToken: "refresh",
				IssuedAt:     time.Now().Add(-2 * time.Hour),
			})
			require.NoError(t, err)
			_, _ = p.Sessions().Get(context.Background(), id)

			events, err := p.AuditLogger().Query(context.Background(), audit.QueryFilter{Type: tt.wantType})
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, "alice", events[0].Username)
			assert.Equal(t, tt.refreshErr == nil, events[0].Success)
		})
	}
}

func TestPlatform_Readiness(t *testing.T) {
	cfg := validConfig()
	p, err := New(WithConfig(cfg), WithProvider(&stubProvider{}))
	require.NoError(t, err)

	readyz := func() int {
		return serve(p, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)).Code
	}

	assert.Equal(t, http.StatusServiceUnavailable, readyz())
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, http.StatusOK, readyz())
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, readyz())
	assert.Equal(t, "draining", p.Health().State())
}

func TestPlatform_WithDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	p := newTestPlatform(t, WithDB(db))

	_, isPostgres := p.AuditLogger().(*auditpostgres.Store)
	assert.True(t, isPostgres, "audit events go to the database when one is configured")

	// Checks run in name order: audit, then database.
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1 FROM auth_events LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectPing()
	rec := serve(p, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"audit":"ok"`)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlatform_WithDatabase_AuditTableMissing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	p := newTestPlatform(t, WithDB(db))

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1 FROM auth_events LIMIT 1").
		WillReturnError(errors.New(`relation "auth_events" does not exist`))
	mock.ExpectPing()
	rec := serve(p, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)
	assert.Contains(t, rec.Body.String(), "reading auth_events")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlatform_InjectedAuditLogger(t *testing.T) {
	logger := audit.NewMemoryLogger(10)
	p := newTestPlatform(t, WithAuditLogger(logger))
	assert.Same(t, logger, p.AuditLogger())
}
