package app

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	syncapp "github.com/stacklok/tmdb-sync/internal/app"
	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/config"
	"github.com/stacklok/tmdb-sync/internal/status"
	pkgsync "github.com/stacklok/tmdb-sync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <entity-type>",
		Short: "Run one sync of an entity type and print the run",
		Long: `Run a single sync of the given entity type without the scheduler or the API,
then print the finished run as JSON. Interrupting the command cancels the run
after the in-flight page has been committed.

Examples:
  # Sync the first 5 pages of popular movies
  tmdb-sync sync movie_popular --config config.yaml --max-pages 5

  # Walk the popular TV list from the first page again
  tmdb-sync sync tv_popular --config config.yaml --reset`,
		Args: cobra.ExactArgs(1),
		RunE: runSync,
	}

	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	cmd.Flags().Int("max-pages", 0, "Stop after this many pages (0 = configured limit)")
	cmd.Flags().Bool("reset", false, "Discard the committed cursor and start from the first page")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	entity, err := catalog.ParseEntityType(args[0])
	if err != nil {
		return err
	}
	configPath, _ := cmd.Flags().GetString("config")
	maxPages, _ := cmd.Flags().GetInt("max-pages")
	reset, _ := cmd.Flags().GetBool("reset")
	if maxPages < 0 {
		return fmt.Errorf("max-pages must not be negative")
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := syncapp.NewSyncApp(ctx, syncapp.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer func() { _ = app.Stop(defaultGracefulTimeout) }()

	run, err := app.RunOnce(ctx, entity, pkgsync.StartOptions{MaxPages: maxPages, Reset: reset})
	if err != nil {
		return err
	}

	output, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format run as JSON: %w", err)
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(output)); err != nil {
		return err
	}

	if run.Phase == status.PhaseFailed {
		return fmt.Errorf("sync of %s failed: %s", entity, run.Error)
	}
	return nil
}
