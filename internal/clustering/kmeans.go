package clustering

import (
	"fmt"
	"math"
	"math/rand"
)

// KMeansConfig holds configuration for K-means clustering
type KMeansConfig struct {
	MaxIterations int   // Maximum number of iterations
	Seed          int64 // Seed for k-means++ initialisation, fixed for reproducible runs
}

// DefaultKMeansConfig returns sensible defaults for K-means clustering
func DefaultKMeansConfig() KMeansConfig {
	return KMeansConfig{
		MaxIterations: 100,
		Seed:          42,
	}
}

// KMeans is a cosine-distance k-means with k-means++ seeding
type KMeans struct {
	config KMeansConfig
}

// NewKMeans creates a k-means clusterer
func NewKMeans(config KMeansConfig) *KMeans {
	if config.MaxIterations <= 0 {
		config.MaxIterations = 100
	}
	return &KMeans{config: config}
}

// Run partitions vectors into k groups.
// Returns assignments (cluster labels) and centroids.
func (km *KMeans) Run(vectors [][]float64, k int) ([]int, [][]float64, error) {
	if len(vectors) == 0 {
		return nil, nil, fmt.Errorf("no vectors provided")
	}
	if k <= 0 || k > len(vectors) {
		return nil, nil, fmt.Errorf("invalid k: %d (must be 1-%d)", k, len(vectors))
	}

	rng := rand.New(rand.NewSource(km.config.Seed))
	centroids := initCentroidsPlusPlus(rng, vectors, k)

	var assignments []int
	for iteration := 0; iteration < km.config.MaxIterations; iteration++ {
		next := make([]int, len(vectors))
		for i, v := range vectors {
			next[i] = nearestCentroid(v, centroids)
		}

		converged := assignments != nil && equalInts(assignments, next)
		assignments = next
		if converged {
			break
		}
		centroids = updateCentroids(vectors, assignments, centroids)
	}

	return assignments, centroids, nil
}

// BestK runs k-means for every k in [minK, maxK] and keeps the partition with
// the highest average silhouette score.
func (km *KMeans) BestK(vectors [][]float64, minK, maxK int) (k int, assignments []int, score float64, err error) {
	if maxK > len(vectors) {
		maxK = len(vectors)
	}
	if minK < 1 {
		minK = 1
	}
	if minK > maxK {
		minK = maxK
	}

	distances := DistanceMatrix(vectors, CosineDistance)
	score = -2.0
	for candidate := minK; candidate <= maxK; candidate++ {
		labels, _, runErr := km.Run(vectors, candidate)
		if runErr != nil {
			continue
		}
		s := AverageSilhouetteScore(labels, distances)
		if s > score {
			k, assignments, score = candidate, labels, s
		}
	}
	if assignments == nil {
		return 0, nil, 0, fmt.Errorf("k-means failed for every k in [%d, %d]", minK, maxK)
	}
	return k, assignments, score, nil
}

// initCentroidsPlusPlus picks the first centroid at random and each next one
// with probability proportional to its squared distance from the chosen set.
func initCentroidsPlusPlus(rng *rand.Rand, vectors [][]float64, k int) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(vectors[rng.Intn(len(vectors))]))

	weights := make([]float64, len(vectors))
	for len(centroids) < k {
		total := 0.0
		for j, v := range vectors {
			minDist := math.Inf(1)
			for _, c := range centroids {
				if d := CosineDistance(v, c); d < minDist {
					minDist = d
				}
			}
			weights[j] = minDist * minDist
			total += weights[j]
		}

		if total == 0 {
			centroids = append(centroids, clone(vectors[rng.Intn(len(vectors))]))
			continue
		}

		target := rng.Float64() * total
		cumulative := 0.0
		selected := len(vectors) - 1
		for j, w := range weights {
			cumulative += w
			if cumulative >= target {
				selected = j
				break
			}
		}
		centroids = append(centroids, clone(vectors[selected]))
	}
	return centroids
}

func nearestCentroid(v []float64, centroids [][]float64) int {
	best := 0
	minDist := math.Inf(1)
	for i, c := range centroids {
		if d := CosineDistance(v, c); d < minDist {
			minDist = d
			best = i
		}
	}
	return best
}

// updateCentroids averages each cluster's members. A cluster that lost all
// members keeps its previous centroid.
func updateCentroids(vectors [][]float64, assignments []int, previous [][]float64) [][]float64 {
	dim := len(vectors[0])
	centroids := make([][]float64, len(previous))
	counts := make([]int, len(previous))
	for i := range centroids {
		centroids[i] = make([]float64, dim)
	}

	for i, v := range vectors {
		c := assignments[i]
		counts[c]++
		for j := range v {
			centroids[c][j] += v[j]
		}
	}

	for i := range centroids {
		if counts[i] == 0 {
			centroids[i] = clone(previous[i])
			continue
		}
		for j := range centroids[i] {
			centroids[i][j] /= float64(counts[i])
		}
	}
	return centroids
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
