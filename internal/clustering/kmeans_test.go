package clustering

import (
	"math"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		a, b []float64
		want float64
	}{
		{[]float64{1, 0}, []float64{1, 0}, 0},
		{[]float64{1, 0}, []float64{0, 1}, 1},
		{[]float64{1, 0}, []float64{-1, 0}, 2},
		{[]float64{0, 0}, []float64{1, 0}, 1},
		{[]float64{1}, []float64{1, 0}, 1},
	}
	for _, tt := range tests {
		if got := CosineDistance(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("CosineDistance(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func blobs() [][]float64 {
	return [][]float64{
		{1, 0.05}, {1, 0.1}, {0.9, 0}, {1, -0.05},
		{0.05, 1}, {0.1, 1}, {0, 0.9}, {-0.05, 1},
	}
}

func TestKMeansRun(t *testing.T) {
	km := NewKMeans(DefaultKMeansConfig())
	labels, centroids, err := km.Run(blobs(), 2)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(centroids) != 2 {
		t.Fatalf("expected 2 centroids, got %d", len(centroids))
	}
	for i := 1; i < 4; i++ {
		if labels[i] != labels[0] {
			t.Errorf("point %d should share a cluster with point 0", i)
		}
	}
	for i := 5; i < 8; i++ {
		if labels[i] != labels[4] {
			t.Errorf("point %d should share a cluster with point 4", i)
		}
	}
	if labels[0] == labels[4] {
		t.Error("the two blobs should be in different clusters")
	}
}

func TestKMeansInvalidK(t *testing.T) {
	km := NewKMeans(DefaultKMeansConfig())
	if _, _, err := km.Run(blobs(), 0); err == nil {
		t.Error("expected error for k=0")
	}
	if _, _, err := km.Run(blobs(), 9); err == nil {
		t.Error("expected error for k > n")
	}
	if _, _, err := km.Run(nil, 1); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestKMeansBestK(t *testing.T) {
	km := NewKMeans(DefaultKMeansConfig())
	k, labels, score, err := km.BestK(blobs(), 2, 4)
	if err != nil {
		t.Fatalf("BestK failed: %v", err)
	}
	if k != 2 {
		t.Errorf("expected k=2 for two blobs, got %d", k)
	}
	if len(labels) != 8 {
		t.Errorf("expected 8 labels, got %d", len(labels))
	}
	if score <= 0.5 {
		t.Errorf("expected a well separated silhouette, got %.3f", score)
	}
}

func TestSilhouetteScore(t *testing.T) {
	vectors := blobs()
	distances := DistanceMatrix(vectors, CosineDistance)
	good := []int{0, 0, 0, 0, 1, 1, 1, 1}
	bad := []int{0, 1, 0, 1, 0, 1, 0, 1}

	if AverageSilhouetteScore(good, distances) <= AverageSilhouetteScore(bad, distances) {
		t.Error("correct partition should score higher than an interleaved one")
	}
	if s := SilhouetteScore(0, []int{0, 1, 1, 1, 1, 1, 1, 1}, distances); s != 0 {
		t.Errorf("singleton cluster should score 0, got %v", s)
	}
}
