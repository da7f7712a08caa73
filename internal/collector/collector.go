// Package collector crawls customer reviews for a store from review platforms.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pulse/internal/core"
	"pulse/internal/logger"
	"pulse/internal/metrics"
	"pulse/internal/normalize"
)

// ReviewSink receives every review that makes it into a collection result
type ReviewSink interface {
	AppendReview(ctx context.Context, review core.RawReview) error
}

// Config holds crawl limits and retry policy
type Config struct {
	MaxLoadAttempts int           // Hard ceiling on load-more iterations per source
	StagnationLimit int           // Consecutive attempts without new reviews before stopping
	MaxRetries      int           // Retries per network operation
	RetryBaseDelay  time.Duration // First backoff delay
	CallTimeout     time.Duration // Bound on each network operation
	RatePerSecond   float64       // Page operations per second per source, 0 disables
	KeyPolicy       KeyPolicy
}

// DefaultConfig returns sensible crawl defaults
func DefaultConfig() Config {
	return Config{
		MaxLoadAttempts: 20,
		StagnationLimit: 2,
		MaxRetries:      3,
		RetryBaseDelay:  500 * time.Millisecond,
		CallTimeout:     20 * time.Second,
		RatePerSecond:   2,
		KeyPolicy:       TextKey,
	}
}

// Request describes one collection run
type Request struct {
	TaskID     string
	Target     string
	MaxReviews int
	Sources    []string
}

// Result is the outcome of a collection run
type Result struct {
	Reviews   []core.RawReview
	StoreName string
	PerSource map[string]int
	Dropped   map[string]string // Source name to the reason it was dropped
}

// Collector crawls reviews from one or more sources concurrently
type Collector struct {
	browser Browser
	sources map[string]Source
	sink    ReviewSink
	config  Config
	log     zerolog.Logger
}

// New creates a collector. sink may be nil when reviews need not be persisted.
func New(browser Browser, sources map[string]Source, sink ReviewSink, config Config) *Collector {
	if config.KeyPolicy == nil {
		config.KeyPolicy = TextKey
	}
	if config.StagnationLimit <= 0 {
		config.StagnationLimit = 2
	}
	return &Collector{
		browser: browser,
		sources: sources,
		sink:    sink,
		config:  config,
		log:     logger.For("collector"),
	}
}

type sourceOutcome struct {
	name      string
	reviews   []core.RawReview
	storeName string
	err       error
}

// Collect crawls every requested source until max reviews are gathered,
// the load-attempt ceiling is hit, or the sources stop yielding new reviews.
// Each source crawls against its own key set, so a source that is dropped
// never takes capacity from the others. The surviving sources are merged in
// request order under the max reviews cap and only the merged reviews reach
// the sink.
func (c *Collector) Collect(ctx context.Context, req Request) (*Result, error) {
	if req.MaxReviews <= 0 {
		return nil, fmt.Errorf("max reviews must be positive, got %d", req.MaxReviews)
	}
	names := req.Sources
	if len(names) == 0 {
		for name := range c.sources {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		if _, ok := c.sources[name]; !ok {
			return nil, fmt.Errorf("unknown review source %q", name)
		}
	}

	outcomes := make([]sourceOutcome, len(names))

	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			outcomes[i] = c.collectSource(ctx, req, c.sources[name], newReviewSet(req.MaxReviews))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{PerSource: make(map[string]int), Dropped: make(map[string]string)}
	merged := newReviewSet(req.MaxReviews)
	var failures []error
	for _, out := range outcomes {
		if out.err != nil {
			result.Dropped[out.name] = out.err.Error()
			failures = append(failures, out.err)
			reason := "transient"
			if errors.Is(out.err, core.ErrResolution) {
				reason = "resolution"
			}
			metrics.SourcesDropped.WithLabelValues(out.name, reason).Inc()
			c.log.Warn().Err(out.err).Str("source", out.name).Str("task_id", req.TaskID).Msg("Dropping source")
			continue
		}
		kept := 0
		for _, review := range out.reviews {
			added, _ := merged.Add(review.NaturalKey)
			if !added {
				continue
			}
			result.Reviews = append(result.Reviews, review)
			kept++
		}
		result.PerSource[out.name] = kept
		if result.StoreName == "" {
			result.StoreName = out.storeName
		}
	}

	if len(failures) == len(outcomes) {
		return nil, summarizeFailures(failures)
	}
	if result.StoreName == "" {
		result.StoreName = req.Target
	}
	if err := c.persist(ctx, result.Reviews); err != nil {
		return nil, err
	}

	c.log.Info().
		Str("task_id", req.TaskID).
		Str("store", result.StoreName).
		Int("reviews", len(result.Reviews)).
		Int("dropped_sources", len(result.Dropped)).
		Msg("Collection finished")
	return result, nil
}

func (c *Collector) persist(ctx context.Context, reviews []core.RawReview) error {
	for _, review := range reviews {
		if c.sink != nil {
			if err := c.sink.AppendReview(ctx, review); err != nil {
				return fmt.Errorf("%w: append review: %v", core.ErrStorage, err)
			}
		}
		metrics.ReviewsCollected.WithLabelValues(review.Source).Inc()
	}
	return nil
}

// summarizeFailures picks the error that describes a run where every source failed
func summarizeFailures(failures []error) error {
	allResolution := true
	for _, err := range failures {
		if !errors.Is(err, core.ErrResolution) {
			allResolution = false
		}
	}
	if allResolution {
		return fmt.Errorf("%w: %s", core.ErrResolution, joinErrors(failures))
	}
	for _, err := range failures {
		if errors.Is(err, core.ErrTransientFetch) {
			return err
		}
	}
	return failures[0]
}

func joinErrors(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

func (c *Collector) collectSource(ctx context.Context, req Request, src Source, seen *reviewSet) sourceOutcome {
	out := sourceOutcome{name: src.Name()}
	log := c.log.With().Str("task_id", req.TaskID).Str("source", src.Name()).Logger()

	r := c.newRetrier(src.Name(), log)

	var page Page
	if err := r.do(ctx, "open", func(ctx context.Context) error {
		p, err := c.browser.NewPage(ctx)
		if err != nil {
			return err
		}
		page = p
		return nil
	}); err != nil {
		out.err = err
		return out
	}
	defer page.Close()

	var place Place
	if err := r.do(ctx, "resolve", func(ctx context.Context) error {
		p, err := src.Resolve(ctx, page, req.Target)
		place = p
		return err
	}); err != nil {
		out.err = err
		return out
	}
	out.storeName = place.Name
	log.Info().Str("place_id", place.ID).Str("url", place.ReviewURL).Msg("Resolved target")

	if err := r.do(ctx, "navigate", func(ctx context.Context) error {
		return page.Navigate(ctx, place.ReviewURL)
	}); err != nil {
		out.err = err
		return out
	}

	stagnant := 0
	for attempt := 0; ; attempt++ {
		var html string
		if err := r.do(ctx, "read", func(ctx context.Context) error {
			h, err := page.HTML(ctx)
			html = h
			return err
		}); err != nil {
			out.err = err
			return out
		}

		entries, name, err := src.Parse(html)
		if err != nil {
			out.err = fmt.Errorf("%w: %v", core.ErrTransientFetch, err)
			return out
		}
		if name != "" {
			out.storeName = name
		}

		added, full := c.accept(req.TaskID, src.Name(), entries, seen, &out)
		if full {
			log.Debug().Int("attempt", attempt).Msg("Reached review limit")
			break
		}
		if added == 0 {
			stagnant++
			if stagnant >= c.config.StagnationLimit {
				log.Debug().Int("attempt", attempt).Msg("No new reviews, stopping")
				break
			}
		} else {
			stagnant = 0
		}
		if attempt >= c.config.MaxLoadAttempts {
			log.Debug().Int("attempt", attempt).Msg("Load attempt ceiling reached")
			break
		}
		if seen.Full() {
			break
		}

		if err := r.do(ctx, "load_more", func(ctx context.Context) error {
			return src.LoadMore(ctx, page)
		}); err != nil {
			out.err = err
			return out
		}
	}

	return out
}

// accept turns page entries into reviews, skipping known keys and empty bodies
func (c *Collector) accept(taskID, source string, entries []Entry, seen *reviewSet, out *sourceOutcome) (added int, full bool) {
	for _, e := range entries {
		rawText := normalize.StripBoilerplate(e.Text)
		if rawText == "" {
			continue
		}

		key := c.config.KeyPolicy(source, rawText, e.DateRaw)
		ok, isFull := seen.Add(key)
		if !ok {
			if isFull {
				return added, true
			}
			continue
		}

		review := core.RawReview{
			TaskID:      taskID,
			Source:      source,
			NaturalKey:  key,
			RawText:     rawText,
			Text:        normalize.Normalize(rawText),
			Rating:      e.Rating,
			DateRaw:     e.DateRaw,
			AuthoredAt:  parseDate(e.DateRaw),
			CollectedAt: time.Now().UTC(),
		}
		out.reviews = append(out.reviews, review)
		added++

		if isFull {
			return added, true
		}
	}
	return added, false
}

func (c *Collector) newRetrier(source string, log zerolog.Logger) *retrier {
	r := &retrier{
		source:      source,
		maxRetries:  c.config.MaxRetries,
		baseDelay:   c.config.RetryBaseDelay,
		callTimeout: c.config.CallTimeout,
		onRetry: func(op string, err error, next time.Duration) {
			log.Warn().Err(err).Str("op", op).Dur("retry_in", next).Msg("Retrying crawl operation")
		},
	}
	if r.baseDelay <= 0 {
		r.baseDelay = 500 * time.Millisecond
	}
	if r.callTimeout <= 0 {
		r.callTimeout = 20 * time.Second
	}
	if c.config.RatePerSecond > 0 {
		r.wait = rate.NewLimiter(rate.Limit(c.config.RatePerSecond), 1).Wait
	}
	return r
}
