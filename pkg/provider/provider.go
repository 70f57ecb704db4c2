// Package provider defines the contract between the touch grass core and the
// upstream OAuth content provider. Implementations live in subpackages.
package provider

import (
	"context"
	"time"
)

// MaxPageLimit is the largest page size the provider accepts for listings.
const MaxPageLimit = 100

// TokenPair holds the credentials issued by the provider's token endpoint.
type TokenPair struct {
	// AccessToken is the short-lived bearer credential for API calls.
	AccessToken string

	// RefreshToken is the long-lived credential used to mint new access tokens.
	RefreshToken string

	// IssuedAt is when the access token was obtained.
	IssuedAt time.Time

	// ExpiresIn is the lifetime reported by the provider, zero when unknown.
	ExpiresIn time.Duration
}

// UserIdentity is a read-only snapshot of the authenticated user.
type UserIdentity struct {
	Username         string    `json:"username"`
	TotalKarma       int       `json:"total_karma"`
	CommentKarma     int       `json:"comment_karma"`
	LinkKarma        int       `json:"link_karma"`
	CreatedUTC       time.Time `json:"created_utc"`
	HasVerifiedEmail bool      `json:"has_verified_email"`
}

// Item is a single entry of a listing: a post, a comment or a subreddit.
type Item struct {
	// ID is the provider's fullname for the item (e.g. t1_abc).
	ID string

	// Name is the display name for subreddit listings.
	Name string

	// Subreddit is the community a post or comment belongs to.
	Subreddit string

	// Created is the creation instant. The zero value means absent.
	Created time.Time

	// Score is nil when the provider did not report one.
	Score *int
}

// HasCreated reports whether the item carries a creation timestamp.
func (i Item) HasCreated() bool {
	return !i.Created.IsZero()
}

// ItemPage is one page of a listing, in provider order.
type ItemPage struct {
	Items []Item

	// After is the cursor for the next page, empty on the last page.
	After string
}

// PageParams controls a listing request.
type PageParams struct {
	Limit      int
	Sort       string
	TimeWindow string
}

// Client is the set of provider calls the core depends on.
type Client interface {
	// AuthorizationURL returns the provider consent URL embedding state.
	AuthorizationURL(state string) string

	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*TokenPair, error)

	// RefreshToken mints a new access token from a refresh token.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error)

	// FetchIdentity returns the user the access token belongs to.
	FetchIdentity(ctx context.Context, accessToken string) (*UserIdentity, error)

	// FetchPaged fetches a single page of the listing at resourcePath.
	FetchPaged(ctx context.Context, accessToken, resourcePath string, params PageParams) (*ItemPage, error)
}

// SubmittedPath is the listing of posts submitted by username.
func SubmittedPath(username string) string {
	return "/user/" + username + "/submitted"
}

// CommentsPath is the listing of comments written by username.
func CommentsPath(username string) string {
	return "/user/" + username + "/comments"
}

// SubscriptionsPath is the listing of subreddits the token owner subscribes to.
const SubscriptionsPath = "/subreddits/mine/subscriber"
