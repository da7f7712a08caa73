package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"pulse/internal/logger"
	"pulse/internal/metrics"
)

// TextGenerator produces text, optionally constrained by a response schema
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error)
}

// EmbeddingGenerator produces one vector per input text
type EmbeddingGenerator interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error)
}

// ErrUnavailable is returned while the circuit breaker rejects calls
var ErrUnavailable = errors.New("generative service unavailable")

// BreakerConfig controls when calls to the model are short-circuited
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // Consecutive failures that open the circuit
	OpenTimeout      time.Duration // Time in open state before a trial call
	Interval         time.Duration // Window after which closed-state counts reset
}

// DefaultBreakerConfig returns the breaker used for Gemini calls
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "gemini",
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		Interval:         time.Minute,
	}
}

// TracedClient wraps a model client with a circuit breaker and request metrics
type TracedClient struct {
	generator TextGenerator
	embedder  EmbeddingGenerator
	cb        *gobreaker.CircuitBreaker[interface{}]
	log       zerolog.Logger
}

// NewTracedClient wraps generator and embedder. Either may be nil when the
// corresponding capability is not used.
func NewTracedClient(generator TextGenerator, embedder EmbeddingGenerator, cfg BreakerConfig) *TracedClient {
	if cfg.Name == "" {
		cfg.Name = "gemini"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	log := logger.For("llm")
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
		// Caller cancellation says nothing about the service's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &TracedClient{generator: generator, embedder: embedder, cb: cb, log: log}
}

// NewGeminiTracedClient wraps a Gemini client for both generation and embeddings
func NewGeminiTracedClient(client *Client, cfg BreakerConfig) *TracedClient {
	return NewTracedClient(client, client, cfg)
}

// GenerateText generates text through the breaker
func (tc *TracedClient) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error) {
	if tc.generator == nil {
		return "", fmt.Errorf("text generation is not configured")
	}
	out, err := tc.execute("generate", func() (interface{}, error) {
		return tc.generator.GenerateText(ctx, prompt, options)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// GenerateEmbeddings embeds texts through the breaker
func (tc *TracedClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	if tc.embedder == nil {
		return nil, fmt.Errorf("embedding generation is not configured")
	}
	out, err := tc.execute("embed", func() (interface{}, error) {
		return tc.embedder.GenerateEmbeddings(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return out.([][]float64), nil
}

// State returns the current breaker state
func (tc *TracedClient) State() gobreaker.State {
	return tc.cb.State()
}

func (tc *TracedClient) execute(operation string, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	out, err := tc.cb.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.LLMRequests.WithLabelValues(operation, "rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	case err != nil:
		metrics.LLMRequests.WithLabelValues(operation, "failure").Inc()
		tc.log.Debug().Err(err).Str("operation", operation).Dur("took", time.Since(start)).Msg("Model call failed")
		return nil, err
	}
	metrics.LLMRequests.WithLabelValues(operation, "success").Inc()
	tc.log.Debug().Str("operation", operation).Dur("took", time.Since(start)).Msg("Model call succeeded")
	return out, nil
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
