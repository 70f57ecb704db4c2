package activity

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/owenisas/please-touch-grass/pkg/provider"
)

const (
	// DefaultSort orders listings newest first.
	DefaultSort = "new"

	// DefaultTimeWindow does not restrict listings by age.
	DefaultTimeWindow = "all"

	slogKeyError = "error"
)

// Fetcher is the subset of provider.Client the collector needs.
type Fetcher interface {
	FetchPaged(ctx context.Context, accessToken, path string, params provider.PageParams) (*provider.ItemPage, error)
}

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	// PageLimit is the page size requested per source, capped at
	// provider.MaxPageLimit.
	PageLimit  int
	Sort       string
	TimeWindow string

	// OnFetch, if set, is called once per source with the fetch error, if any.
	OnFetch func(source string, err error)
}

// Collector fetches a user's posts, comments and subscriptions and builds a
// Report. Only the first page of each source is read.
type Collector struct {
	fetcher Fetcher
	cfg     CollectorConfig
}

// NewCollector creates a collector.
func NewCollector(fetcher Fetcher, cfg CollectorConfig) *Collector {
	if cfg.PageLimit <= 0 || cfg.PageLimit > provider.MaxPageLimit {
		cfg.PageLimit = provider.MaxPageLimit
	}
	if cfg.Sort == "" {
		cfg.Sort = DefaultSort
	}
	if cfg.TimeWindow == "" {
		cfg.TimeWindow = DefaultTimeWindow
	}
	return &Collector{fetcher: fetcher, cfg: cfg}
}

// Collect fetches all three sources concurrently. A failed source is logged
// and treated as empty; Collect itself never fails.
func (c *Collector) Collect(ctx context.Context, accessToken, username string) Report {
	listing := provider.PageParams{Limit: c.cfg.PageLimit, Sort: c.cfg.Sort, TimeWindow: c.cfg.TimeWindow}
	subs := provider.PageParams{Limit: c.cfg.PageLimit}

	var posts, comments, subreddits FetchResult

	// Fetches never return an error to the group: one failed source must not
	// cancel its siblings, so failures travel in FetchResult instead.
	var g errgroup.Group
	g.Go(func() error {
		posts = c.fetch(ctx, accessToken, SourcePosts, provider.SubmittedPath(username), listing)
		return nil
	})
	g.Go(func() error {
		comments = c.fetch(ctx, accessToken, SourceComments, provider.CommentsPath(username), listing)
		return nil
	})
	g.Go(func() error {
		subreddits = c.fetch(ctx, accessToken, SourceSubreddits, provider.SubscriptionsPath, subs)
		return nil
	})
	_ = g.Wait()

	return BuildReport(posts, comments, subreddits)
}

func (c *Collector) fetch(ctx context.Context, accessToken, source, path string, params provider.PageParams) FetchResult {
	result := FetchResult{Source: source}

	page, err := c.fetcher.FetchPaged(ctx, accessToken, path, params)
	if err != nil {
		slog.Warn("activity: fetch failed, treating as empty", "source", source, slogKeyError, err)
		result.Err = err
	} else if page != nil {
		result.Items = page.Items
	}

	if c.cfg.OnFetch != nil {
		c.cfg.OnFetch(source, result.Err)
	}
	return result
}
