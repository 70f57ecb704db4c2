// Package activity turns a user's provider content into the touch grass
// index and an hourly activity histogram.
package activity

import (
	"github.com/owenisas/please-touch-grass/pkg/provider"
)

const (
	// indexBase is the index of a user with no activity and no subscriptions.
	indexBase = 100

	// hoursPerDay is the number of histogram buckets.
	hoursPerDay = 24
)

// Metrics summarizes a user's recent activity.
type Metrics struct {
	PostCount      int         `json:"post_count"`
	CommentCount   int         `json:"comment_count"`
	AverageScore   float64     `json:"average_score"`
	SubredditNames []string    `json:"subreddit_names"`
	ActiveHours    map[int]int `json:"active_hours"`
}

// ComputeIndex returns max(0, 100 - (comments + posts) + subreddits).
func ComputeIndex(commentCount, postCount, subredditCount int) int {
	return max(0, indexBase-(commentCount+postCount)+subredditCount)
}

// ComputeMetrics aggregates posts, comments and subscribed subreddit names.
// Items without a score are left out of the average; items without a
// creation time are left out of the histogram. Hours are bucketed in UTC.
func ComputeMetrics(posts, comments []provider.Item, subreddits []string) Metrics {
	m := Metrics{
		PostCount:      len(posts),
		CommentCount:   len(comments),
		SubredditNames: make([]string, len(subreddits)),
		ActiveHours:    make(map[int]int, hoursPerDay),
	}
	copy(m.SubredditNames, subreddits)
	for h := range hoursPerDay {
		m.ActiveHours[h] = 0
	}

	var total, scored int
	for _, items := range [][]provider.Item{posts, comments} {
		for _, item := range items {
			if item.Score != nil {
				total += *item.Score
				scored++
			}
			if item.HasCreated() {
				m.ActiveHours[item.Created.UTC().Hour()]++
			}
		}
	}
	if scored > 0 {
		m.AverageScore = float64(total) / float64(scored)
	}

	return m
}

// SubredditNames extracts display names from a subscription listing,
// skipping entries without one.
func SubredditNames(items []provider.Item) []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		if item.Name != "" {
			names = append(names, item.Name)
		}
	}
	return names
}
