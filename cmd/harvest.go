package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/issuedata/harvester/internal/api"
	"github.com/issuedata/harvester/internal/config"
	"github.com/issuedata/harvester/internal/harvest"
	"github.com/issuedata/harvester/internal/jira"
	"github.com/issuedata/harvester/internal/logging"
	"github.com/issuedata/harvester/internal/metrics"
	"github.com/issuedata/harvester/internal/ratelimit"
	"github.com/issuedata/harvester/internal/state"
	"github.com/issuedata/harvester/internal/transform"
	"github.com/issuedata/harvester/internal/transport"
)

func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Harvest configured projects and write training datasets",
		Long: `Walks every configured project's issue history page by page, enriches
each issue with detail and comments under a global rate limit, and writes
per-project and combined JSONL datasets to the output directory.`,
		RunE: runHarvestCommand,
	}
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Rate.RPS})
	policy := transport.RetryPolicy{
		MaxAttempts: cfg.HTTP.MaxRetries,
		BaseDelay:   cfg.BackoffInitial(),
		Multiplier:  2,
		MaxDelay:    cfg.BackoffMax(),
	}
	client := transport.New(&http.Client{Timeout: cfg.RequestTimeout()}, limiter, policy, logger)
	defer client.Close()

	upstream := jira.NewClient(client, cfg.Jira.BaseURL, logger)
	store := state.Load(cfg.State.Path, logger)

	if cfg.Server.Enabled {
		shutdown := startStatusServer(store, cfg.Server.Port, logger)
		defer shutdown()
	}

	orchestrator := harvest.New(upstream, store, harvest.Config{
		Projects:        cfg.Jira.Projects,
		JQLTemplate:     cfg.Jira.JQLTemplate,
		PageSize:        cfg.Harvest.PageSize,
		Concurrency:     cfg.Harvest.Concurrency,
		CheckpointEvery: cfg.Harvest.CheckpointEvery,
		ProjectPause:    cfg.ProjectPause(),
	}, logger)

	results, err := orchestrator.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run harvest: %w", err)
	}
	if err != nil {
		logger.Warn("harvest interrupted, progress checkpointed")
	}

	if werr := writeDatasets(results, cfg.Output.Dir, logger); werr != nil {
		return werr
	}

	logger.Info("harvest command finished")
	return nil
}

// writeDatasets converts the harvested issues into training examples: one
// JSONL file per project, a combined file, and a stats summary.
func writeDatasets(results map[string][]jira.EnrichedIssue, outputDir string, logger *zap.Logger) error {
	transformer := transform.New(logger)

	var combined []transform.Example
	for project, issues := range results {
		if len(issues) == 0 {
			continue
		}
		examples := transformer.TransformBatch(issues)
		combined = append(combined, examples...)

		path := filepath.Join(outputDir, project+"_training_data.jsonl")
		if err := transformer.WriteJSONL(path, examples); err != nil {
			return fmt.Errorf("write dataset for %s: %w", project, err)
		}
	}
	if len(combined) == 0 {
		logger.Info("no new issues harvested, skipping dataset output")
		return nil
	}

	if err := transformer.WriteJSONL(filepath.Join(outputDir, "combined_training_data.jsonl"), combined); err != nil {
		return fmt.Errorf("write combined dataset: %w", err)
	}

	stats := transform.DatasetStats(combined)
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dataset stats: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "dataset_stats.json"), data, 0o600); err != nil {
		return fmt.Errorf("write dataset stats: %w", err)
	}

	logger.Info("datasets written",
		zap.String("dir", outputDir),
		zap.Int("examples", stats.TotalExamples),
	)
	return nil
}

// startStatusServer runs the read-only progress API in the background and
// returns a function that shuts it down.
func startStatusServer(store *state.Store, port int, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.NewServer(store, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("status server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}
}
