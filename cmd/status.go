package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/issuedata/harvester/internal/config"
	"github.com/issuedata/harvester/internal/state"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print harvest progress from the checkpoint file",
		RunE:  runStatusCommand,
	}
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	store := state.Load(cfg.State.Path, zap.NewNop())

	projects := store.Projects()
	sort.Strings(projects)
	perProject := make(map[string]state.ProjectSummary, len(projects))
	for _, project := range projects {
		if summary, ok := store.ProjectSummaryFor(project); ok {
			perProject[project] = summary
		}
	}

	report := map[string]any{
		"summary":  store.Summary(),
		"projects": perProject,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
