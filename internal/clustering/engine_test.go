package clustering

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pulse/internal/core"
	"pulse/internal/llm"
)

func twoTopicCorpus() ([]string, map[int]string) {
	var parking, taste []string
	for _, w := range []string{"골목", "협소", "만차", "요금", "발렛", "입구", "대기", "공간", "자리", "좁음"} {
		parking = append(parking, "주차 주차장 불편 "+w)
	}
	for _, w := range []string{"진하", "부드럽", "푸짐", "깍두기", "시원", "촉촉", "깔끔", "아삭", "최고", "든든"} {
		taste = append(taste, "국물 고기 맛있 "+w)
	}
	var texts []string
	topic := make(map[int]string)
	for _, t := range parking {
		topic[len(texts)] = "parking"
		texts = append(texts, t)
	}
	for _, t := range taste {
		topic[len(texts)] = "taste"
		texts = append(texts, t)
	}
	return texts, topic
}

func testEngine() *Engine {
	cfg := DefaultConfig()
	cfg.MinTexts = 10
	return NewEngine(NewHashEmbedder(256), cfg)
}

func TestCluster_SeparatesTopics(t *testing.T) {
	texts, topic := twoTopicCorpus()

	res, err := testEngine().Cluster(context.Background(), texts, 0)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	if len(res.Assignments) != len(texts) {
		t.Fatalf("expected %d assignments, got %d", len(texts), len(res.Assignments))
	}
	if len(res.Topics()) < 2 {
		t.Fatalf("expected at least 2 topics, got %d", len(res.Topics()))
	}

	for _, c := range res.Topics() {
		first := topic[c.Members[0]]
		for _, m := range c.Members {
			if topic[m] != first {
				t.Errorf("cluster %d mixes %s and %s reviews", c.ID, first, topic[m])
			}
		}
		if len(c.Keywords) == 0 {
			t.Errorf("cluster %d has no keywords", c.ID)
		}
	}
}

func TestCluster_EveryInputMappedOnce(t *testing.T) {
	texts, _ := twoTopicCorpus()
	texts = append(texts, "", "   ")

	res, err := testEngine().Cluster(context.Background(), texts, 0)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	seen := make(map[int]int)
	for _, c := range res.Clusters {
		for _, m := range c.Members {
			seen[m]++
			if res.Assignments[m] != c.ID {
				t.Errorf("text %d listed in cluster %d but assigned %d", m, c.ID, res.Assignments[m])
			}
		}
	}
	for i := range texts {
		if seen[i] != 1 {
			t.Errorf("text %d appears in %d clusters", i, seen[i])
		}
	}
	if res.Assignments[len(texts)-1] != core.NoiseClusterID || res.Assignments[len(texts)-2] != core.NoiseClusterID {
		t.Error("empty texts must be noise")
	}
}

func TestCluster_DenseIDsBySize(t *testing.T) {
	texts, _ := twoTopicCorpus()
	res, err := testEngine().Cluster(context.Background(), texts, 0)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	topics := res.Topics()
	for i, c := range topics {
		if c.ID != i {
			t.Errorf("expected dense id %d, got %d", i, c.ID)
		}
		if i > 0 && c.Size() > topics[i-1].Size() {
			t.Errorf("cluster %d larger than cluster %d", i, i-1)
		}
	}
}

func TestCluster_TargetK(t *testing.T) {
	texts, _ := twoTopicCorpus()
	res, err := testEngine().Cluster(context.Background(), texts, 2)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	if n := len(res.Topics()); n == 0 || n > 2 {
		t.Errorf("expected 1-2 topics for k=2, got %d", n)
	}
}

func TestCluster_Deterministic(t *testing.T) {
	texts, _ := twoTopicCorpus()
	a, err := testEngine().Cluster(context.Background(), texts, 0)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	b, err := testEngine().Cluster(context.Background(), texts, 0)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	for i := range a.Assignments {
		if a.Assignments[i] != b.Assignments[i] {
			t.Fatalf("assignment %d differs between runs: %d vs %d", i, a.Assignments[i], b.Assignments[i])
		}
	}
}

func TestCluster_InsufficientData(t *testing.T) {
	texts := []string{"맛있", "친절", "", "깨끗"}
	_, err := testEngine().Cluster(context.Background(), texts, 0)
	if !errors.Is(err, core.ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float64, error) {
	return nil, fmt.Errorf("quota exceeded")
}

func TestCluster_EmbedderFailure(t *testing.T) {
	texts, _ := twoTopicCorpus()
	_, err := NewEngine(failingEmbedder{}, DefaultConfig()).Cluster(context.Background(), texts, 0)
	if err == nil || errors.Is(err, core.ErrInsufficientData) {
		t.Errorf("expected embedding error, got %v", err)
	}
}

type batchRecorder struct {
	batches []int
}

func (b *batchRecorder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float64, error) {
	b.batches = append(b.batches, len(texts))
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func TestGeminiEmbedderBatches(t *testing.T) {
	rec := &batchRecorder{}
	texts := make([]string, 250)
	vectors, err := NewGeminiEmbedder(rec).Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vectors) != 250 {
		t.Errorf("expected 250 vectors, got %d", len(vectors))
	}
	if len(rec.batches) != 3 || rec.batches[2] != 50 {
		t.Errorf("unexpected batches %v", rec.batches)
	}
}

type flakyEmbedder struct {
	calls    int
	failures int
	err      error
}

func (f *flakyEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = []float64{0, 1}
	}
	return out, nil
}

func TestGeminiEmbedderRetriesTransientFailure(t *testing.T) {
	client := &flakyEmbedder{failures: 1, err: context.DeadlineExceeded}
	embedder := NewGeminiEmbedder(client).WithRetry(2, time.Millisecond)

	vectors, err := embedder.Embed(context.Background(), []string{"국물 맛있", "주차 불편"})
	if err != nil {
		t.Fatalf("Embed failed after a single transient error: %v", err)
	}
	if len(vectors) != 2 {
		t.Errorf("expected 2 vectors, got %d", len(vectors))
	}
	if client.calls != 2 {
		t.Errorf("expected 2 calls, got %d", client.calls)
	}
}

func TestGeminiEmbedderDoesNotRetryUnavailable(t *testing.T) {
	client := &flakyEmbedder{failures: 5, err: llm.ErrUnavailable}
	embedder := NewGeminiEmbedder(client).WithRetry(3, time.Millisecond)

	_, err := embedder.Embed(context.Background(), []string{"국물 맛있"})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if client.calls != 1 {
		t.Errorf("expected a single call, got %d", client.calls)
	}
}

func TestGeminiEmbedderGivesUpAfterRetries(t *testing.T) {
	client := &flakyEmbedder{failures: 10, err: errors.New("503 backend error")}
	embedder := NewGeminiEmbedder(client).WithRetry(2, time.Millisecond)

	if _, err := embedder.Embed(context.Background(), []string{"국물 맛있"}); err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
	if client.calls != 3 {
		t.Errorf("expected 3 calls, got %d", client.calls)
	}
}

func TestTopTerms(t *testing.T) {
	terms := TopTerms([]string{"국물 맛있", "국물 진하", "국물 맛있 고기"}, 2)
	if len(terms) != 2 || terms[0] != "국물" || terms[1] != "맛있" {
		t.Errorf("unexpected top terms %v", terms)
	}
}

func TestReduceKeepsRowsAndCapsDims(t *testing.T) {
	vectors, _ := NewHashEmbedder(64).Embed(context.Background(), []string{"a b", "b c", "c d", "d e", "e f"})
	reduced, err := Reduce(vectors, 3)
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if len(reduced) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(reduced))
	}
	if len(reduced[0]) > 3 {
		t.Errorf("expected at most 3 dims, got %d", len(reduced[0]))
	}
}
