package clustering

import (
	"math"
)

// SilhouetteScore calculates the silhouette score for a single point.
// Returns a score between -1 and 1:
//
//	-1: point likely in the wrong cluster
//	 0: point on the border between clusters
//	+1: point well matched to its cluster
func SilhouetteScore(pointIdx int, assignments []int, distances [][]float64) float64 {
	n := len(assignments)
	if n == 0 || pointIdx >= n {
		return 0.0
	}

	own := assignments[pointIdx]
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, label := range assignments {
		if i == pointIdx {
			continue
		}
		sums[label] += distances[pointIdx][i]
		counts[label]++
	}

	// A singleton has no cohesion to measure
	if counts[own] == 0 {
		return 0.0
	}
	a := sums[own] / float64(counts[own])

	b := math.MaxFloat64
	for label, count := range counts {
		if label == own || count == 0 {
			continue
		}
		if mean := sums[label] / float64(count); mean < b {
			b = mean
		}
	}
	if b == math.MaxFloat64 {
		return 0.0
	}

	switch {
	case a < b:
		return 1.0 - a/b
	case a > b:
		return b/a - 1.0
	}
	return 0.0
}

// AverageSilhouetteScore calculates the mean silhouette score across all points
func AverageSilhouetteScore(assignments []int, distances [][]float64) float64 {
	n := len(assignments)
	if n == 0 {
		return 0.0
	}

	total := 0.0
	for i := 0; i < n; i++ {
		total += SilhouetteScore(i, assignments, distances)
	}
	return total / float64(n)
}

// DistanceMatrix computes pairwise distances between all points
func DistanceMatrix(vectors [][]float64, distanceFunc func(a, b []float64) float64) [][]float64 {
	n := len(vectors)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := distanceFunc(vectors[i], vectors[j])
			matrix[i][j] = d
			matrix[j][i] = d
		}
	}
	return matrix
}

// CosineDistance returns 1 - cosine similarity, in [0, 2].
// Zero or mismatched vectors are treated as orthogonal.
func CosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1.0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 1.0
	}

	similarity := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	if similarity > 1.0 {
		similarity = 1.0
	} else if similarity < -1.0 {
		similarity = -1.0
	}
	return 1.0 - similarity
}
