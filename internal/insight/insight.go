// Package insight decides how personas are generated for a review set and
// computes the aggregate statistics the volume strategy works from.
package insight

import (
	"math"

	"pulse/internal/core"
)

// Selector picks a generation strategy. It holds no state beyond its threshold.
type Selector struct {
	MinReviews int // Review sets below this size use the volume strategy
}

// NewSelector creates a selector with the given review threshold
func NewSelector(minReviews int) Selector {
	return Selector{MinReviews: minReviews}
}

// Select returns VOLUME_BASED when the review set is too small or clustering
// reported insufficient data, and CLUSTER_BASED otherwise.
func (s Selector) Select(reviewCount int, insufficientData bool) core.Strategy {
	return Select(reviewCount, insufficientData, s.MinReviews)
}

// Select is the stateless form of Selector.Select
func Select(reviewCount int, insufficientData bool, minReviews int) core.Strategy {
	if reviewCount < minReviews || insufficientData {
		return core.StrategyVolumeBased
	}
	return core.StrategyClusterBased
}

// Stats summarizes a review set without looking at topics
type Stats struct {
	Count         int            // Reviews collected
	RatedCount    int            // Reviews that carried a rating
	AverageRating float64        // Mean of the known ratings rounded to one decimal, 0 when none
	Distribution  map[int]int    // Star rating to review count
	SourceCounts  map[string]int // Source name to review count
}

// HasRating reports whether any review carried a rating
func (s Stats) HasRating() bool {
	return s.RatedCount > 0
}

// Aggregate computes rating and source statistics for reviews
func Aggregate(reviews []core.RawReview) Stats {
	stats := Stats{
		Count:        len(reviews),
		Distribution: make(map[int]int),
		SourceCounts: make(map[string]int),
	}

	var sum float64
	for _, r := range reviews {
		stats.SourceCounts[r.Source]++
		if r.Rating == nil {
			continue
		}
		stats.RatedCount++
		sum += float64(*r.Rating)
		stars := *r.Rating
		if stars < 1 {
			stars = 1
		}
		if stars > 5 {
			stars = 5
		}
		stats.Distribution[stars]++
	}
	if stats.RatedCount > 0 {
		stats.AverageRating = math.Round(sum/float64(stats.RatedCount)*10) / 10
	}
	return stats
}
