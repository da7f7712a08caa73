// Package persona synthesizes customer personas from clustered reviews with a
// generative model.
package persona

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pulse/internal/core"
	"pulse/internal/insight"
	"pulse/internal/llm"
	"pulse/internal/logger"
)

// Config controls persona generation
type Config struct {
	MinClusterMembers int           // Clusters smaller than this are skipped when larger ones exist
	MaxPersonas       int           // Upper bound on cluster-based personas
	Concurrency       int           // Parallel model calls
	SampleReviews     int           // Reviews quoted per prompt
	SampleChars       int           // Characters kept per quoted review
	MaxTokens         int32         // Model output budget
	Temperature       float32       // Model temperature
	MaxRetries        int           // Transport retries per call
	RetryBaseDelay    time.Duration // First transport retry delay
}

// DefaultConfig returns the default generation settings
func DefaultConfig() Config {
	return Config{
		MinClusterMembers: 3,
		MaxPersonas:       3,
		Concurrency:       3,
		SampleReviews:     20,
		SampleChars:       200,
		MaxTokens:         4096,
		Temperature:       0.7,
		MaxRetries:        2,
		RetryBaseDelay:    time.Second,
	}
}

// StoreContext describes the analysed store for prompts
type StoreContext struct {
	Name     string
	Stats    insight.Stats
	Keywords []string // Top terms across all reviews
}

// ClusterEvidence pairs a cluster with its member reviews
type ClusterEvidence struct {
	Cluster core.ReviewCluster
	Reviews []core.RawReview
}

// Request is the input of one generation run
type Request struct {
	Strategy core.Strategy
	Store    StoreContext
	Clusters []ClusterEvidence // Used by the cluster strategy
	Reviews  []core.RawReview  // Every collected review
}

// Outcome holds the generated personas and the clusters that failed
type Outcome struct {
	Personas []core.Persona
	Failures map[int]error // Source cluster id to its generation error
}

// Generator calls the model once per qualifying cluster, or once for the
// whole review set under the volume strategy
type Generator struct {
	model  llm.TextGenerator
	config Config
	log    zerolog.Logger
}

// NewGenerator creates a persona generator
func NewGenerator(model llm.TextGenerator, config Config) *Generator {
	if config.MaxPersonas <= 0 {
		config.MaxPersonas = 3
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.SampleReviews <= 0 {
		config.SampleReviews = 20
	}
	if config.SampleChars <= 0 {
		config.SampleChars = 200
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = time.Second
	}
	return &Generator{model: model, config: config, log: logger.For("persona")}
}

// Generate produces personas for req.Strategy. Cluster-based runs succeed when
// at least one cluster yields a persona; failed clusters are reported in
// Outcome.Failures. When nothing succeeds the error wraps
// core.ErrGenerationExhausted.
func (g *Generator) Generate(ctx context.Context, req Request) (*Outcome, error) {
	switch req.Strategy {
	case core.StrategyVolumeBased:
		return g.generateVolume(ctx, req)
	case core.StrategyClusterBased:
		return g.generateClusters(ctx, req)
	}
	return nil, fmt.Errorf("unknown strategy %q", req.Strategy)
}

func (g *Generator) generateVolume(ctx context.Context, req Request) (*Outcome, error) {
	prompt := volumePrompt(req.Store, req.Reviews, g.config)
	p, err := g.generateOne(ctx, prompt)
	if err != nil {
		g.log.Error().Err(err).Str("strategy", string(req.Strategy)).Msg("Volume persona generation failed")
		return &Outcome{Failures: map[int]error{core.VolumeClusterID: err}},
			fmt.Errorf("%w: %v", core.ErrGenerationExhausted, err)
	}

	p.SourceCluster = core.VolumeClusterID
	p.Share = 100
	p.AvatarURL = avatarURL(0)
	return &Outcome{Personas: []core.Persona{p}, Failures: map[int]error{}}, nil
}

func (g *Generator) generateClusters(ctx context.Context, req Request) (*Outcome, error) {
	selected := g.selectClusters(req.Clusters)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no clusters to generate from", core.ErrGenerationExhausted)
	}

	total := len(req.Reviews)
	if total == 0 {
		for _, c := range req.Clusters {
			total += c.Cluster.Size()
		}
	}

	personas := make([]*core.Persona, len(selected))
	failures := make(map[int]error)
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.config.Concurrency)
	for i, c := range selected {
		i, c := i, c
		eg.Go(func() error {
			share := shareOf(c.Cluster.Size(), total)
			p, err := g.generateOne(egCtx, clusterPrompt(req.Store, c, share, g.config))
			if err != nil {
				g.log.Warn().Err(err).Int("cluster", c.Cluster.ID).Msg("Cluster persona generation failed")
				mu.Lock()
				failures[c.Cluster.ID] = err
				mu.Unlock()
				return nil
			}
			p.SourceCluster = c.Cluster.ID
			p.Share = share
			p.AvatarURL = avatarURL(i)
			personas[i] = &p
			return nil
		})
	}
	_ = eg.Wait()

	out := &Outcome{Failures: failures}
	for _, p := range personas {
		if p != nil {
			out.Personas = append(out.Personas, *p)
		}
	}
	if len(out.Personas) == 0 {
		return out, fmt.Errorf("%w: all %d cluster generations failed", core.ErrGenerationExhausted, len(selected))
	}

	g.log.Info().Int("personas", len(out.Personas)).Int("failed", len(failures)).Msg("Generated cluster personas")
	return out, nil
}

// selectClusters keeps non-noise clusters meeting the member minimum, largest
// first, capped at MaxPersonas. If no cluster is large enough the largest
// clusters are used regardless of size.
func (g *Generator) selectClusters(clusters []ClusterEvidence) []ClusterEvidence {
	var topics, qualifying []ClusterEvidence
	for _, c := range clusters {
		if c.Cluster.IsNoise() || c.Cluster.Size() == 0 {
			continue
		}
		topics = append(topics, c)
		if c.Cluster.Size() >= g.config.MinClusterMembers {
			qualifying = append(qualifying, c)
		}
	}
	if len(qualifying) == 0 {
		qualifying = topics
	}

	sort.SliceStable(qualifying, func(i, j int) bool {
		a, b := qualifying[i].Cluster, qualifying[j].Cluster
		if a.Size() != b.Size() {
			return a.Size() > b.Size()
		}
		return a.ID < b.ID
	})
	if len(qualifying) > g.config.MaxPersonas {
		qualifying = qualifying[:g.config.MaxPersonas]
	}
	return qualifying
}

// generateOne calls the model and parses the reply. A reply that does not
// parse is retried once with a stricter instruction.
func (g *Generator) generateOne(ctx context.Context, prompt string) (core.Persona, error) {
	reply, err := g.call(ctx, prompt)
	if err != nil {
		return core.Persona{}, err
	}
	p, err := parsePersona(reply)
	if err == nil {
		return p, nil
	}

	g.log.Debug().Err(err).Msg("Persona reply did not parse, retrying with strict instruction")
	reply, err = g.call(ctx, prompt+strictInstruction)
	if err != nil {
		return core.Persona{}, err
	}
	return parsePersona(reply)
}

// call invokes the model with bounded retries for transport failures
func (g *Generator) call(ctx context.Context, prompt string) (string, error) {
	options := llm.TextGenerationOptions{
		MaxTokens:      g.config.MaxTokens,
		Temperature:    g.config.Temperature,
		ResponseSchema: responseSchema(),
	}
	return g.callWithOptions(ctx, prompt, options)
}

func (g *Generator) callWithOptions(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.config.RetryBaseDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.config.MaxRetries)), ctx)

	var reply string
	err := backoff.Retry(func() error {
		out, err := g.model.GenerateText(ctx, prompt, options)
		if err != nil {
			if errors.Is(err, llm.ErrUnavailable) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		reply = out
		return nil
	}, policy)
	return reply, err
}

// Summarize writes a one sentence store description. It never fails: any
// model error yields "<name> (평점 x.x)".
func (g *Generator) Summarize(ctx context.Context, store StoreContext, reviews []core.RawReview) string {
	fallback := fmt.Sprintf("%s (평점 %.1f)", store.Name, store.Stats.AverageRating)

	out, err := g.callWithOptions(ctx, summaryPrompt(store, reviews), llm.TextGenerationOptions{
		MaxTokens:   256,
		Temperature: g.config.Temperature,
	})
	if err != nil {
		g.log.Warn().Err(err).Msg("Store summary generation failed, using fallback")
		return fallback
	}
	out = strings.Trim(strings.TrimSpace(out), `"`)
	if out == "" {
		return fallback
	}
	return out
}

func shareOf(size, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(size)/float64(total)*1000) / 10
}

var (
	avatarSeeds  = []string{"happy-woman-1", "happy-man-2", "happy-woman-2", "happy-man-1", "happy-woman-3"}
	avatarColors = []string{"fef3c7", "d1fae5", "fce7f3", "e0f2fe", "fef9c3"}
)

// avatarURL returns a DiceBear illustration for the i-th persona
func avatarURL(i int) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/notionists/svg?seed=%s&backgroundColor=%s",
		avatarSeeds[i%len(avatarSeeds)], avatarColors[i%len(avatarColors)])
}
