package activity

import (
	"github.com/owenisas/please-touch-grass/pkg/provider"
)

// Activity sources.
const (
	SourcePosts      = "posts"
	SourceComments   = "comments"
	SourceSubreddits = "subreddits"
)

// sourceCount is the number of sources a report is built from.
const sourceCount = 3

// FetchResult is the outcome of fetching one source. A failed fetch has a
// non-nil Err and contributes no items.
type FetchResult struct {
	Source string
	Items  []provider.Item
	Err    error
}

// Degraded reports whether the fetch failed and was treated as empty.
func (r FetchResult) Degraded() bool {
	return r.Err != nil
}

func (r FetchResult) items() []provider.Item {
	if r.Err != nil {
		return nil
	}
	return r.Items
}

// Report is the computed activity for one user.
type Report struct {
	TouchGrassIndex int      `json:"touch_grass_index"`
	Metrics         Metrics  `json:"metrics"`
	Degraded        []string `json:"degraded"`
}

// AllFailed reports whether every source failed, leaving nothing to aggregate.
func (r Report) AllFailed() bool {
	return len(r.Degraded) == sourceCount
}

// BuildReport computes metrics and the index from the three fetch results.
func BuildReport(posts, comments, subreddits FetchResult) Report {
	names := SubredditNames(subreddits.items())
	m := ComputeMetrics(posts.items(), comments.items(), names)

	degraded := make([]string, 0, sourceCount)
	for _, r := range []FetchResult{posts, comments, subreddits} {
		if r.Degraded() {
			degraded = append(degraded, r.Source)
		}
	}

	return Report{
		TouchGrassIndex: ComputeIndex(m.CommentCount, m.PostCount, len(m.SubredditNames)),
		Metrics:         m,
		Degraded:        degraded,
	}
}
