package clustering

import (
	"math"
	"sort"

	"pulse/internal/normalize"
)

// clusterKeywords ranks each group's terms by in-group frequency weighted by
// how few groups use the term (class-based TF-IDF). Ties break alphabetically.
func clusterKeywords(texts []string, groups map[int][]int, topN int) map[int][]string {
	termCounts := make(map[int]map[string]int, len(groups))
	groupsWithTerm := make(map[string]int)

	for id, members := range groups {
		counts := make(map[string]int)
		for _, idx := range members {
			for _, tok := range normalize.Tokens(texts[idx]) {
				counts[tok]++
			}
		}
		termCounts[id] = counts
		for tok := range counts {
			groupsWithTerm[tok]++
		}
	}

	numGroups := float64(len(groups))
	out := make(map[int][]string, len(groups))
	for id, counts := range termCounts {
		type scored struct {
			term  string
			score float64
		}
		ranked := make([]scored, 0, len(counts))
		for term, tf := range counts {
			idf := math.Log(1 + numGroups/float64(groupsWithTerm[term]))
			ranked = append(ranked, scored{term, float64(tf) * idf})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].score != ranked[j].score {
				return ranked[i].score > ranked[j].score
			}
			return ranked[i].term < ranked[j].term
		})

		n := topN
		if n > len(ranked) {
			n = len(ranked)
		}
		keywords := make([]string, n)
		for i := 0; i < n; i++ {
			keywords[i] = ranked[i].term
		}
		out[id] = keywords
	}
	return out
}

// TopTerms returns the most frequent terms across all texts
func TopTerms(texts []string, topN int) []string {
	all := make([]int, len(texts))
	for i := range all {
		all[i] = i
	}
	return clusterKeywords(texts, map[int][]int{0: all}, topN)[0]
}
