// Package pipeline runs the stages of one review analysis: collect,
// normalize, cluster, select a strategy and generate personas.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pulse/internal/clustering"
	"pulse/internal/collector"
	"pulse/internal/core"
	"pulse/internal/insight"
	"pulse/internal/logger"
	"pulse/internal/metrics"
	"pulse/internal/normalize"
	"pulse/internal/persona"
)

// Config holds pipeline configuration
type Config struct {
	TargetK       int // Requested topic count, 0 chooses automatically
	MinReviews    int // Below this review count the volume strategy is used
	StoreKeywords int // Store-wide keywords reported in the result
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		TargetK:       0,
		MinReviews:    10,
		StoreKeywords: 10,
	}
}

// Pipeline orchestrates the stages of one analysis task. It holds no
// per-task state and is shared by all workers.
type Pipeline struct {
	collector ReviewCollector
	reviews   ReviewReader
	clusterer TopicClusterer
	generator PersonaGenerator
	selector  insight.Selector
	config    *Config
	closers   []func()
	log       zerolog.Logger
}

// NewPipeline creates a new pipeline with all dependencies. reviews may be
// nil, in which case resumed tasks collect again.
func NewPipeline(
	collector ReviewCollector,
	reviews ReviewReader,
	clusterer TopicClusterer,
	generator PersonaGenerator,
	config *Config,
) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pipeline{
		collector: collector,
		reviews:   reviews,
		clusterer: clusterer,
		generator: generator,
		selector:  insight.NewSelector(config.MinReviews),
		config:    config,
		log:       logger.For("pipeline"),
	}
}

// Close releases the browser and model clients created by the builder
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

// Run executes every stage for task and returns the result to persist.
// The caller owns the terminal write. A resumed task that already finished
// collecting is rebuilt from its stored reviews.
func (p *Pipeline) Run(ctx context.Context, task core.AnalysisTask, rep Reporter) (*core.AnalysisResult, error) {
	log := p.log.With().Str("task_id", task.ID).Logger()
	started := time.Now()

	reviews, storeName, err := p.collect(ctx, task, rep)
	if err != nil {
		return nil, err
	}

	// Normalizing
	stageStart := time.Now()
	if err := rep.Enter(ctx, core.StateNormalizing, "normalizing reviews"); err != nil {
		return nil, err
	}
	texts, eligible := normalizedTexts(reviews)
	rep.Log(ctx, "info", fmt.Sprintf("%d of %d reviews eligible for clustering", eligible, len(reviews)))
	metrics.ObserveStage("normalizing", stageStart)

	// Clustering
	stageStart = time.Now()
	if err := rep.Enter(ctx, core.StateClustering, "clustering topics"); err != nil {
		return nil, err
	}
	clusters, insufficient, err := p.cluster(ctx, texts, rep)
	if err != nil {
		return nil, err
	}
	strategy := p.selector.Select(len(reviews), insufficient)
	metrics.StrategySelected.WithLabelValues(string(strategy)).Inc()
	rep.Log(ctx, "info", fmt.Sprintf("strategy %s selected for %d reviews", strategy, len(reviews)))
	metrics.ObserveStage("clustering", stageStart)

	// Generating
	stageStart = time.Now()
	if err := rep.Enter(ctx, core.StateGenerating, "generating personas"); err != nil {
		return nil, err
	}
	stats := insight.Aggregate(reviews)
	store := persona.StoreContext{
		Name:     storeName,
		Stats:    stats,
		Keywords: clustering.TopTerms(texts, p.config.StoreKeywords),
	}
	req := persona.Request{Strategy: strategy, Store: store, Reviews: reviews}
	if strategy == core.StrategyClusterBased && clusters != nil {
		req.Clusters = evidence(clusters, reviews)
	}

	outcome, err := p.generator.Generate(ctx, req)
	if outcome != nil {
		for id, ferr := range outcome.Failures {
			rep.Log(ctx, "warn", fmt.Sprintf("persona generation failed for cluster %d: %v", id, ferr))
		}
	}
	if err != nil {
		return nil, err
	}

	rep.Progress(ctx, "summarizing store", 90)
	summary := p.generator.Summarize(ctx, store, reviews)
	metrics.ObserveStage("generating", stageStart)

	result := &core.AnalysisResult{
		TaskID:             task.ID,
		Target:             task.Target,
		StoreName:          storeName,
		StoreSummary:       summary,
		ReviewCount:        len(reviews),
		AverageRating:      stats.AverageRating,
		RatingDistribution: stats.Distribution,
		SourceCounts:       stats.SourceCounts,
		Keywords:           store.Keywords,
		Strategy:           strategy,
		Personas:           outcome.Personas,
		CreatedAt:          time.Now().UTC(),
	}
	if clusters != nil {
		result.Clusters = clusters.Clusters
	}

	log.Info().
		Str("strategy", string(strategy)).
		Int("reviews", len(reviews)).
		Int("personas", len(result.Personas)).
		Dur("elapsed", time.Since(started)).
		Msg("Pipeline finished")
	return result, nil
}

func (p *Pipeline) collect(ctx context.Context, task core.AnalysisTask, rep Reporter) ([]core.RawReview, string, error) {
	if p.reviews != nil && task.State.Rank() >= core.StateNormalizing.Rank() {
		reviews, err := p.reviews.Reviews(ctx, task.ID)
		if err != nil {
			return nil, "", err
		}
		name := task.StoreName
		if name == "" {
			name = task.Target
		}
		rep.Log(ctx, "info", fmt.Sprintf("resumed from %s with %d stored reviews", task.State, len(reviews)))
		return reviews, name, nil
	}

	stageStart := time.Now()
	if err := rep.Enter(ctx, core.StateCollecting, "collecting reviews"); err != nil {
		return nil, "", err
	}
	res, err := p.collector.Collect(ctx, collector.Request{
		TaskID:     task.ID,
		Target:     task.Target,
		MaxReviews: task.MaxReviews,
		Sources:    task.Sources,
	})
	if err != nil {
		return nil, "", err
	}
	for name, reason := range res.Dropped {
		rep.Log(ctx, "warn", fmt.Sprintf("source %s dropped: %s", name, reason))
	}
	rep.Resolved(ctx, res.StoreName)
	rep.Progress(ctx, fmt.Sprintf("collected %d reviews", len(res.Reviews)), 35)
	metrics.ObserveStage("collecting", stageStart)
	return res.Reviews, res.StoreName, nil
}

// cluster runs topic clustering. Too few texts, or a clustering with no
// topics, is reported as insufficient data rather than an error.
func (p *Pipeline) cluster(ctx context.Context, texts []string, rep Reporter) (*clustering.Result, bool, error) {
	result, err := p.clusterer.Cluster(ctx, texts, p.config.TargetK)
	if errors.Is(err, core.ErrInsufficientData) {
		rep.Log(ctx, "info", err.Error())
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("clustering failed: %w", err)
	}
	if len(result.Topics()) == 0 {
		rep.Log(ctx, "info", "clustering found no topics")
		return result, true, nil
	}
	rep.Log(ctx, "info", fmt.Sprintf("found %d topics", len(result.Topics())))
	return result, false, nil
}

// normalizedTexts returns the clustering input aligned with reviews and the
// number of non-empty entries
func normalizedTexts(reviews []core.RawReview) ([]string, int) {
	texts := make([]string, len(reviews))
	eligible := 0
	for i, r := range reviews {
		text := r.Text
		if text == "" && r.RawText != "" {
			text = normalize.Normalize(r.RawText)
		}
		texts[i] = text
		if text != "" {
			eligible++
		}
	}
	return texts, eligible
}

func evidence(result *clustering.Result, reviews []core.RawReview) []persona.ClusterEvidence {
	out := make([]persona.ClusterEvidence, 0, len(result.Clusters))
	for _, c := range result.Clusters {
		ev := persona.ClusterEvidence{Cluster: c}
		for _, idx := range c.Members {
			if idx >= 0 && idx < len(reviews) {
				ev.Reviews = append(ev.Reviews, reviews[idx])
			}
		}
		out = append(out, ev)
	}
	return out
}
