// Package clustering groups normalized review texts into topics.
package clustering

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"pulse/internal/core"
	"pulse/internal/logger"
)

// Config holds clustering parameters
type Config struct {
	MinTexts         int   // Fewer eligible texts than this is insufficient data
	MinClusterSize   int   // Automatic clusters smaller than this become noise
	KeywordsPerTopic int   // Keywords extracted per cluster
	ReduceDims       int   // Principal components kept before clustering, 0 disables
	MaxAutoK         int   // Upper bound on automatically chosen k
	Seed             int64 // k-means++ seed
}

// DefaultConfig returns the default clustering parameters
func DefaultConfig() Config {
	return Config{
		MinTexts:         10,
		MinClusterSize:   3,
		KeywordsPerTopic: 5,
		ReduceDims:       10,
		MaxAutoK:         10,
		Seed:             42,
	}
}

// Result is the outcome of one clustering run
type Result struct {
	// Assignments maps every input text to exactly one cluster id.
	// Texts that could not be placed, including empty ones, map to core.NoiseClusterID.
	Assignments []int
	Clusters    []core.ReviewCluster // Dense ids 0..k-1 by descending size, then the noise cluster if any
	Silhouette  float64
}

// Topics returns the non-noise clusters
func (r *Result) Topics() []core.ReviewCluster {
	var out []core.ReviewCluster
	for _, c := range r.Clusters {
		if !c.IsNoise() {
			out = append(out, c)
		}
	}
	return out
}

// Engine embeds, reduces and clusters texts
type Engine struct {
	embedder Embedder
	kmeans   *KMeans
	config   Config
	log      zerolog.Logger
}

// NewEngine creates a clustering engine
func NewEngine(embedder Embedder, config Config) *Engine {
	if config.KeywordsPerTopic <= 0 {
		config.KeywordsPerTopic = 5
	}
	if config.MaxAutoK <= 0 {
		config.MaxAutoK = 10
	}
	return &Engine{
		embedder: embedder,
		kmeans:   NewKMeans(KMeansConfig{MaxIterations: 100, Seed: config.Seed}),
		config:   config,
		log:      logger.For("clustering"),
	}
}

// Cluster groups texts into topics. With targetK > 0 exactly that many k-means
// partitions are requested; otherwise k is chosen by silhouette score and
// clusters below the minimum size are folded into noise.
func (e *Engine) Cluster(ctx context.Context, texts []string, targetK int) (*Result, error) {
	var eligible []int
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) < e.config.MinTexts || len(eligible) == 0 {
		return nil, fmt.Errorf("%w: %d eligible texts, need %d", core.ErrInsufficientData, len(eligible), e.config.MinTexts)
	}

	inputs := make([]string, len(eligible))
	for i, idx := range eligible {
		inputs[i] = texts[idx]
	}

	vectors, err := e.embedder.Embed(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to embed texts: %w", err)
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(inputs))
	}

	reduced, err := Reduce(vectors, e.config.ReduceDims)
	if err != nil {
		return nil, err
	}

	var labels []int
	var score float64
	if targetK > 0 {
		k := targetK
		if k > len(reduced) {
			k = len(reduced)
		}
		labels, _, err = e.kmeans.Run(reduced, k)
		if err != nil {
			return nil, err
		}
		score = AverageSilhouetteScore(labels, DistanceMatrix(reduced, CosineDistance))
	} else {
		var k int
		k, labels, score, err = e.kmeans.BestK(reduced, 2, autoMaxK(len(reduced), e.config.MaxAutoK))
		if err != nil {
			return nil, err
		}
		labels = foldSmallClusters(labels, e.config.MinClusterSize)
		e.log.Debug().Int("k", k).Float64("silhouette", score).Msg("Selected k")
	}

	result := e.buildResult(texts, eligible, labels)
	result.Silhouette = score

	e.log.Info().
		Int("texts", len(texts)).
		Int("eligible", len(eligible)).
		Int("clusters", len(result.Topics())).
		Float64("silhouette", score).
		Msg("Clustering finished")
	return result, nil
}

// autoMaxK caps the search at a tenth of the corpus, between 3 and limit
func autoMaxK(n, limit int) int {
	k := n / 10
	if k < 3 {
		k = 3
	}
	if k > limit {
		k = limit
	}
	if k > n-1 {
		k = n - 1
	}
	return k
}

func foldSmallClusters(labels []int, minSize int) []int {
	sizes := make(map[int]int)
	for _, l := range labels {
		sizes[l]++
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		if sizes[l] < minSize {
			out[i] = core.NoiseClusterID
		} else {
			out[i] = l
		}
	}
	return out
}

// buildResult relabels clusters densely by descending size and maps labels of
// eligible texts back onto the full input.
func (e *Engine) buildResult(texts []string, eligible []int, labels []int) *Result {
	assignments := make([]int, len(texts))
	for i := range assignments {
		assignments[i] = core.NoiseClusterID
	}

	groups := make(map[int][]int)
	for i, l := range labels {
		if l != core.NoiseClusterID {
			groups[l] = append(groups[l], eligible[i])
		}
	}

	order := make([]int, 0, len(groups))
	for l := range groups {
		order = append(order, l)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := groups[order[i]], groups[order[j]]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a[0] < b[0]
	})

	dense := make(map[int][]int, len(order))
	for id, l := range order {
		dense[id] = groups[l]
		for _, idx := range groups[l] {
			assignments[idx] = id
		}
	}

	var noise []int
	for i, a := range assignments {
		if a == core.NoiseClusterID {
			noise = append(noise, i)
		}
	}

	keywordGroups := make(map[int][]int, len(dense)+1)
	for id, members := range dense {
		keywordGroups[id] = members
	}
	if len(noise) > 0 {
		keywordGroups[core.NoiseClusterID] = noise
	}
	keywords := clusterKeywords(texts, keywordGroups, e.config.KeywordsPerTopic)

	clusters := make([]core.ReviewCluster, 0, len(dense)+1)
	for id := 0; id < len(order); id++ {
		clusters = append(clusters, core.ReviewCluster{ID: id, Keywords: keywords[id], Members: dense[id]})
	}
	if len(noise) > 0 {
		clusters = append(clusters, core.ReviewCluster{ID: core.NoiseClusterID, Keywords: keywords[core.NoiseClusterID], Members: noise})
	}

	return &Result{Assignments: assignments, Clusters: clusters}
}
