package handlers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/logger"
	"pulse/internal/persistence"
	"pulse/internal/pipeline"
	"pulse/internal/task"
)

// NewAnalyzeCmd creates the analyze command, which runs one task in-process
func NewAnalyzeCmd() *cobra.Command {
	var (
		maxReviews int
		sources    []string
		localEmbed bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <target>",
		Short: "Analyze one store without a server and print the result",
		Long: `Run a single analysis task in this process and print the result as JSON.

Tasks, reviews and logs are kept in memory and discarded on exit. Progress is
logged to stderr.

Examples:
  pulse analyze "할매국밥 부산 해운대"
  pulse analyze "https://map.naver.com/p/entry/place/1234567" --max-reviews 200
  pulse analyze "성수 카페" --sources kakao --local-embeddings`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(commandContext(cmd), strings.Join(args, " "), maxReviews, sources, localEmbed)
		},
	}

	cmd.Flags().IntVar(&maxReviews, "max-reviews", 0, "Maximum reviews to collect (default from config: 100)")
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "Review sources to crawl: naver, kakao")
	cmd.Flags().BoolVar(&localEmbed, "local-embeddings", false, "Embed reviews locally instead of calling Gemini")

	return cmd
}

func runAnalyze(ctx context.Context, target string, maxReviews int, sources []string, localEmbed bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// Keep stdout for the result
	logger.Configure(logger.Config{Level: cfg.Logging.Level, Format: "console", Output: os.Stderr})

	if localEmbed {
		cfg.Clustering.Embedder = "local"
	}

	db := persistence.NewMemoryDB()
	docs := persistence.NewMemoryDocuments()

	p, err := pipeline.NewBuilder(cfg).WithReviewStore(docs).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer p.Close()

	manager := task.NewManager(db, docs, p, taskConfig(cfg))
	created, err := manager.Submit(ctx, task.Request{Target: target, MaxReviews: maxReviews, Sources: sources})
	if err != nil {
		return err
	}
	if err := manager.Execute(ctx, created.ID); err != nil {
		return err
	}

	t, result, err := manager.Result(ctx, created.ID)
	if err != nil {
		return err
	}
	if t.State == core.StateFailed {
		return fmt.Errorf("analysis failed: %s", t.Error)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
