package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/issuedata/harvester/internal/config"
	"github.com/issuedata/harvester/internal/state"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <project>...",
		Short: "Discard checkpoint progress for one or more projects",
		Long: `Removes the named projects from the checkpoint so the next harvest
starts them from the beginning. Other projects keep their progress.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runResetCommand,
	}
}

func runResetCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	store := state.Load(cfg.State.Path, zap.NewNop())
	for _, project := range args {
		store.ResetProject(project)
	}
	if err := store.Persist(); err != nil {
		return fmt.Errorf("persist reset state: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "reset %d project(s)\n", len(args))
	return nil
}
