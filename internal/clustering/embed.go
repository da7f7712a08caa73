package clustering

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pulse/internal/llm"
	"pulse/internal/normalize"
)

// Embedder turns texts into vectors, one per text and in input order
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbeddingGenerator is the slice of the LLM client used for embeddings
type EmbeddingGenerator interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error)
}

// GeminiEmbedder embeds texts through the Gemini embedding model in batches.
// Each batch is retried with exponential backoff on transient errors.
type GeminiEmbedder struct {
	client     EmbeddingGenerator
	batchSize  int
	maxRetries int
	baseDelay  time.Duration
}

// NewGeminiEmbedder creates an embedder backed by the given client
func NewGeminiEmbedder(client EmbeddingGenerator) *GeminiEmbedder {
	return &GeminiEmbedder{client: client, batchSize: 100, maxRetries: 3, baseDelay: 500 * time.Millisecond}
}

// WithRetry sets how many times a failed batch is retried and the first delay
func (g *GeminiEmbedder) WithRetry(maxRetries int, baseDelay time.Duration) *GeminiEmbedder {
	if maxRetries >= 0 {
		g.maxRetries = maxRetries
	}
	if baseDelay > 0 {
		g.baseDelay = baseDelay
	}
	return g
}

func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed texts %d-%d: %w", start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", end-start, len(batch))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (g *GeminiEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.baseDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.maxRetries)), ctx)

	var batch [][]float64
	err := backoff.Retry(func() error {
		out, err := g.client.GenerateEmbeddings(ctx, texts)
		if err != nil {
			if errors.Is(err, llm.ErrUnavailable) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		batch = out
		return nil
	}, policy)
	return batch, err
}

// HashEmbedder builds TF-IDF weighted hashed bag-of-words vectors from
// whitespace tokens and their character bigrams. It needs no network and is
// fully deterministic, which makes it the offline and test embedder.
type HashEmbedder struct {
	Dims int
}

// NewHashEmbedder creates a hashed embedder with the given dimensionality
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 512
	}
	return &HashEmbedder{Dims: dims}
}

func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	docs := make([][]string, len(texts))
	df := make(map[string]int)
	for i, text := range texts {
		docs[i] = features(text)
		seen := make(map[string]bool)
		for _, f := range docs[i] {
			if !seen[f] {
				seen[f] = true
				df[f]++
			}
		}
	}

	n := float64(len(texts))
	vectors := make([][]float64, len(texts))
	for i, doc := range docs {
		v := make([]float64, h.Dims)
		for _, f := range doc {
			idf := math.Log((1+n)/(1+float64(df[f]))) + 1
			v[bucket(f, h.Dims)] += idf
		}
		normalizeL2(v)
		vectors[i] = v
	}
	return vectors, nil
}

// features returns the tokens of a normalized text plus the character
// bigrams of each token, so inflected forms of a stem still overlap.
func features(text string) []string {
	var out []string
	for _, tok := range normalize.Tokens(text) {
		out = append(out, "w:"+tok)
		runes := []rune(tok)
		for i := 0; i+1 < len(runes); i++ {
			out = append(out, "b:"+string(runes[i:i+2]))
		}
	}
	return out
}

func bucket(feature string, dims int) int {
	h := fnv.New32a()
	h.Write([]byte(feature))
	return int(h.Sum32() % uint32(dims))
}

func normalizeL2(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}
