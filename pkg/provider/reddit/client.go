// Package reddit implements provider.Client against the Reddit OAuth2 API.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/owenisas/please-touch-grass/pkg/provider"
)

// Defaults for the public Reddit deployment.
const (
	DefaultAuthURL    = "https://www.reddit.com/api/v1/authorize"
	DefaultTokenURL   = "https://www.reddit.com/api/v1/access_token"
	DefaultAPIBaseURL = "https://oauth.reddit.com"
	DefaultUserAgent  = "TouchGrassApp/0.0.1"
	DefaultTimeout    = 10 * time.Second

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 4 << 20
)

// DefaultScopes are the scopes needed for identity, history and subscriptions.
var DefaultScopes = []string{"identity", "read", "history", "mysubreddits"}

// Operation names used in provider errors.
const (
	opExchangeCode  = "exchange_code"
	opRefreshToken  = "refresh_token"
	opFetchIdentity = "fetch_identity"
	opFetchPaged    = "fetch_paged"
)

// Config configures the Reddit client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	// UserAgent is sent on every request, as required by Reddit API rules.
	UserAgent string

	AuthURL    string
	TokenURL   string
	APIBaseURL string

	// Timeout bounds each provider call.
	Timeout time.Duration

	// HTTPClient is the base client; its transport is wrapped to add the
	// User-Agent header. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client talks to Reddit.
type Client struct {
	oauth      *oauth2.Config
	apiBase    string
	timeout    time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// New creates a Reddit client.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("reddit client_id is required")
	}
	if cfg.RedirectURI == "" {
		return nil, fmt.Errorf("reddit redirect_uri is required")
	}
	applyDefaults(&cfg)

	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	httpClient := &http.Client{
		Transport:     &userAgentTransport{next: transport, userAgent: cfg.UserAgent},
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       base.Timeout,
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		apiBase:    strings.TrimSuffix(cfg.APIBaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
}

// AuthorizationURL builds the consent URL. duration=permanent makes Reddit
// issue a refresh token alongside the access token.
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("duration", "permanent"))
}

// ExchangeCode trades an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*provider.TokenPair, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, classifyTokenError(opExchangeCode, err)
	}
	return c.tokenPair(opExchangeCode, tok)
}

// RefreshToken mints a new access token. When Reddit does not rotate the
// refresh token the original one is carried over.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*provider.TokenPair, error) {
	if refreshToken == "" {
		return nil, provider.NewError(opRefreshToken, provider.ErrUnauthorized, 0, errors.New("empty refresh token"))
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyTokenError(opRefreshToken, err)
	}
	return c.tokenPair(opRefreshToken, tok)
}

// meResponse is the subset of /api/v1/me we read.
type meResponse struct {
	Name             string   `json:"name"`
	TotalKarma       int      `json:"total_karma"`
	CommentKarma     int      `json:"comment_karma"`
	LinkKarma        int      `json:"link_karma"`
	CreatedUTC       *float64 `json:"created_utc"`
	HasVerifiedEmail *bool    `json:"has_verified_email"`
}

// FetchIdentity returns the account that owns accessToken.
func (c *Client) FetchIdentity(ctx context.Context, accessToken string) (*provider.UserIdentity, error) {
	var me meResponse
	if err := c.getJSON(ctx, opFetchIdentity, accessToken, "/api/v1/me", nil, &me); err != nil {
		return nil, err
	}

	identity := &provider.UserIdentity{
		Username:     me.Name,
		TotalKarma:   me.TotalKarma,
		CommentKarma: me.CommentKarma,
		LinkKarma:    me.LinkKarma,
	}
	if me.CreatedUTC != nil {
		identity.CreatedUTC = unixSeconds(*me.CreatedUTC)
	}
	if me.HasVerifiedEmail != nil {
		identity.HasVerifiedEmail = *me.HasVerifiedEmail
	}
	return identity, nil
}

// listing is Reddit's generic paginated envelope.
type listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    *string `json:"after"`
		Children []struct {
			Kind string      `json:"kind"`
			Data listingItem `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type listingItem struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Subreddit   string   `json:"subreddit"`
	CreatedUTC  *float64 `json:"created_utc"`
	Score       *int     `json:"score"`
}

// FetchPaged fetches one page of a listing.
func (c *Client) FetchPaged(ctx context.Context, accessToken, resourcePath string, params provider.PageParams) (*provider.ItemPage, error) {
	query := url.Values{}
	limit := params.Limit
	if limit <= 0 || limit > provider.MaxPageLimit {
		limit = provider.MaxPageLimit
	}
	query.Set("limit", strconv.Itoa(limit))
	if params.Sort != "" {
		query.Set("sort", params.Sort)
	}
	if params.TimeWindow != "" {
		query.Set("t", params.TimeWindow)
	}
	query.Set("raw_json", "1")

	var l listing
	if err := c.getJSON(ctx, opFetchPaged, accessToken, resourcePath, query, &l); err != nil {
		return nil, err
	}
	if l.Kind != "Listing" {
		return nil, provider.NewError(opFetchPaged, provider.ErrMalformedResponse, http.StatusOK,
			fmt.Errorf("unexpected kind %q", l.Kind))
	}

	page := &provider.ItemPage{Items: make([]provider.Item, 0, len(l.Data.Children))}
	if l.Data.After != nil {
		page.After = *l.Data.After
	}
	for _, child := range l.Data.Children {
		d := child.Data
		item := provider.Item{
			ID:        d.Name,
			Name:      d.DisplayName,
			Subreddit: d.Subreddit,
			Score:     d.Score,
		}
		if d.CreatedUTC != nil {
			item.Created = unixSeconds(*d.CreatedUTC)
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

// getJSON performs an authenticated GET against the API host and decodes the body.
func (c *Client) getJSON(ctx context.Context, op, accessToken, path string, query url.Values, out any) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	target := c.apiBase + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return provider.NewError(op, provider.ErrMalformedResponse, 0, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Authorization", "bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.NewError(op, provider.ErrUnavailable, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return provider.NewError(op, provider.ErrUnavailable, resp.StatusCode, fmt.Errorf("reading body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return provider.NewError(op, classifyStatus(resp.StatusCode), resp.StatusCode, errors.New(snippet(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return provider.NewError(op, provider.ErrMalformedResponse, resp.StatusCode, fmt.Errorf("decoding body: %w", err))
	}
	return nil
}

// callContext bounds a provider call and routes x/oauth2 through our client.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) tokenPair(op string, tok *oauth2.Token) (*provider.TokenPair, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, provider.NewError(op, provider.ErrMalformedResponse, 0, errors.New("missing access_token"))
	}
	now := c.now()
	pair := &provider.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IssuedAt:     now,
	}
	if !tok.Expiry.IsZero() {
		pair.ExpiresIn = tok.Expiry.Sub(now).Round(time.Second)
	}
	return pair, nil
}

// classifyTokenError maps x/oauth2 failures onto provider error kinds.
func classifyTokenError(op string, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		// Reddit reports a bad code as 200 {"error":"invalid_grant"}.
		if rErr.ErrorCode != "" && status < http.StatusInternalServerError && status != http.StatusTooManyRequests {
			return provider.NewError(op, provider.ErrUnauthorized, status, err)
		}
		return provider.NewError(op, classifyStatus(status), status, err)
	}
	if isNetworkError(err) {
		return provider.NewError(op, provider.ErrUnavailable, 0, err)
	}
	return provider.NewError(op, provider.ErrMalformedResponse, 0, err)
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusBadRequest:
		return provider.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		return provider.ErrRateLimited
	case status >= http.StatusInternalServerError:
		return provider.ErrUnavailable
	default:
		return provider.ErrMalformedResponse
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func unixSeconds(v float64) time.Time {
	sec := int64(v)
	nsec := int64((v - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

func snippet(body []byte) string {
	const maxSnippet = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxSnippet {
		s = s[:maxSnippet]
	}
	return s
}

// userAgentTransport stamps every outgoing request with the application's User-Agent.
type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	resp, err := t.next.RoundTrip(clone)
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}
	return resp, nil
}

// Verify interface compliance.
var _ provider.Client = (*Client)(nil)
