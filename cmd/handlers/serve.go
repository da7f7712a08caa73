package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pulse/internal/config"
	"pulse/internal/logger"
	"pulse/internal/persistence"
	"pulse/internal/pipeline"
	"pulse/internal/server"
	"pulse/internal/task"
)

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the analysis API server and worker pool",
		Long: `Start the pulse API server.

The server provides:
  • POST /api/analysis/request to submit an analysis task
  • GET  /api/analysis/status/{task_id} and /result/{task_id} for polling
  • GET  /api/analysis/logs/{task_id} for the task journal
  • /health and /metrics endpoints

Tasks left unfinished by a previous run are resumed on boot unless
worker.resume_on_boot is false.

Examples:
  # Start server on default port 8000
  pulse serve

  # Start on custom port
  pulse serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(commandContext(cmd), port, host)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8000)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")

	return cmd
}

func runServe(ctx context.Context, port int, host string) error {
	log := logger.For("serve")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override server config from flags if provided
	serverCfg := cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	log.Info().Str("driver", cfg.Database.Driver).Msg("Connecting to database")
	db, err := persistence.OpenDatabase(ctx, cfg.Database.Driver, cfg.Database.ConnectionString, cfg.Database.MaxOpenConns)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	docsCtx, cancel := context.WithTimeout(ctx, config.Duration(cfg.Mongo.Timeout, 10*time.Second))
	docs, err := persistence.OpenDocuments(docsCtx, cfg.Mongo.URI, cfg.Mongo.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open document store: %w\n\n"+
			"Set mongo.uri (or MONGO_URI) to a reachable MongoDB, or leave it empty to keep reviews in memory.", err)
	}
	defer docs.Close(context.Background())
	if cfg.Mongo.URI == "" {
		log.Warn().Msg("mongo.uri not set, reviews and task logs are kept in memory")
	}

	p, err := pipeline.NewBuilder(cfg).WithReviewStore(docs).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer p.Close()

	manager := task.NewManager(db, docs, p, taskConfig(cfg))
	runCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	manager.Start(runCtx)
	defer manager.Stop()

	if cfg.Worker.ResumeOnBoot {
		if _, err := manager.ResumePending(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to resume unfinished tasks")
		}
	}

	srv := server.New(manager, serverCfg, map[string]server.Pinger{
		"database":  db,
		"documents": docs,
	})

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	go func() {
		log.Info().Msgf("Server listening on http://%s:%d", serverCfg.Host, serverCfg.Port)
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive our signal or an error from server
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("Server shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed, forcing close")
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		log.Info().Msg("Server stopped successfully")
	}

	return nil
}

// taskConfig maps worker and collector settings onto the task manager
func taskConfig(cfg *config.Config) task.Config {
	return task.Config{
		Concurrency:       cfg.Worker.Concurrency,
		QueueSize:         cfg.Worker.QueueSize,
		TaskTimeout:       config.Duration(cfg.Worker.TaskTimeout, 15*time.Minute),
		SweepInterval:     config.Duration(cfg.Worker.SweepInterval, 5*time.Second),
		DefaultMaxReviews: cfg.Collector.MaxReviews,
		DefaultSources:    cfg.Collector.Sources,
	}
}
