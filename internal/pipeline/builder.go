package pipeline

import (
	"fmt"
	"time"

	"pulse/internal/clustering"
	"pulse/internal/collector"
	"pulse/internal/config"
	"pulse/internal/llm"
	"pulse/internal/persistence"
	"pulse/internal/persona"
)

// Builder helps construct a fully configured Pipeline
type Builder struct {
	cfg      *config.Config
	reviews  persistence.ReviewStore
	browser  collector.Browser
	sources  map[string]collector.Source
	model    llm.TextGenerator
	embedder clustering.Embedder
}

// NewBuilder creates a new pipeline builder from application config
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// WithReviewStore sets where collected reviews are appended and read back
func (b *Builder) WithReviewStore(store persistence.ReviewStore) *Builder {
	b.reviews = store
	return b
}

// WithBrowser replaces the headless Chrome browser
func (b *Builder) WithBrowser(browser collector.Browser) *Builder {
	b.browser = browser
	return b
}

// WithSources replaces the built-in review sources
func (b *Builder) WithSources(sources map[string]collector.Source) *Builder {
	b.sources = sources
	return b
}

// WithModel replaces the Gemini text generator
func (b *Builder) WithModel(model llm.TextGenerator) *Builder {
	b.model = model
	return b
}

// WithEmbedder replaces the configured embedder
func (b *Builder) WithEmbedder(embedder clustering.Embedder) *Builder {
	b.embedder = embedder
	return b
}

// Build constructs a fully configured Pipeline
func (b *Builder) Build() (*Pipeline, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	var closers []func()

	// Gemini is only needed when a capability was not injected
	var traced *llm.TracedClient
	needsGemini := b.model == nil || (b.embedder == nil && b.cfg.Clustering.Embedder != "local")
	if needsGemini {
		gemini := b.cfg.AI.Gemini
		client, err := llm.NewClient(llm.ClientConfig{
			APIKey:              gemini.APIKey,
			Model:               gemini.Model,
			EmbeddingModel:      gemini.EmbeddingModel,
			EmbeddingDimensions: gemini.EmbeddingDimensions,
			Timeout:             config.Duration(gemini.Timeout, llm.DefaultTimeout),
		})
		if err != nil {
			return nil, err
		}
		closers = append(closers, client.Close)
		traced = llm.NewGeminiTracedClient(client, llm.DefaultBreakerConfig())
	}

	model := b.model
	if model == nil {
		model = traced
	}
	embedder := b.embedder
	if embedder == nil {
		if b.cfg.Clustering.Embedder == "local" {
			embedder = clustering.NewHashEmbedder(0)
		} else {
			embedder = clustering.NewGeminiEmbedder(traced).WithRetry(
				b.cfg.Collector.MaxRetries,
				config.Duration(b.cfg.Collector.RetryBaseDelay, 500*time.Millisecond),
			)
		}
	}

	browser := b.browser
	if browser == nil {
		cc := b.cfg.Collector
		chrome := collector.NewChromeBrowser(collector.BrowserConfig{
			Headless:  cc.Headless,
			ExecPath:  cc.ChromePath,
			UserAgent: cc.UserAgent,
			Settle:    config.Duration(cc.LoadWait, 1500*time.Millisecond),
		})
		closers = append(closers, chrome.Close)
		browser = chrome
	}
	sources := b.sources
	if sources == nil {
		sources = collector.DefaultSources()
	}

	var sink collector.ReviewSink
	var reader ReviewReader
	if b.reviews != nil {
		sink = b.reviews
		reader = b.reviews
	}

	cc := b.cfg.Collector
	crawler := collector.New(browser, sources, sink, collector.Config{
		MaxLoadAttempts: cc.MaxLoadAttempts,
		StagnationLimit: cc.StagnationLimit,
		MaxRetries:      cc.MaxRetries,
		RetryBaseDelay:  config.Duration(cc.RetryBaseDelay, 500*time.Millisecond),
		CallTimeout:     config.Duration(cc.CallTimeout, 20*time.Second),
		RatePerSecond:   cc.RatePerSecond,
		KeyPolicy:       collector.KeyPolicyByName(cc.DedupKey),
	})

	cl := b.cfg.Clustering
	clusterConfig := clustering.DefaultConfig()
	clusterConfig.MinTexts = cl.MinTexts
	clusterConfig.MinClusterSize = cl.MinClusterSize
	clusterConfig.KeywordsPerTopic = cl.KeywordsPerTop
	clusterConfig.ReduceDims = cl.ReduceDims
	clusterConfig.Seed = cl.Seed
	engine := clustering.NewEngine(embedder, clusterConfig)

	pc := b.cfg.Persona
	personaConfig := persona.DefaultConfig()
	personaConfig.MinClusterMembers = pc.MinClusterMembers
	personaConfig.MaxPersonas = pc.MaxPersonas
	personaConfig.Concurrency = pc.Concurrency
	personaConfig.SampleReviews = pc.SampleReviews
	personaConfig.SampleChars = pc.SampleChars
	if b.cfg.AI.Gemini.MaxTokens > 0 {
		personaConfig.MaxTokens = b.cfg.AI.Gemini.MaxTokens
	}
	if b.cfg.AI.Gemini.Temperature > 0 {
		personaConfig.Temperature = b.cfg.AI.Gemini.Temperature
	}
	generator := persona.NewGenerator(model, personaConfig)

	p := NewPipeline(crawler, reader, engine, generator, &Config{
		TargetK:       cl.TargetK,
		MinReviews:    b.cfg.Insight.MinReviews,
		StoreKeywords: 10,
	})
	p.closers = closers
	return p, nil
}
