package app

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	syncapp "github.com/stacklok/tmdb-sync/internal/app"
	"github.com/stacklok/tmdb-sync/internal/config"
)

const (
	// defaultGracefulTimeout leaves in-flight pages time to commit
	defaultGracefulTimeout = 30 * time.Second
	defaultRequestTimeout  = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled syncs and serve the trigger API",
		Long: `Start the sync service. Every entity type with an interval is synced on its
schedule, and runs can be started, cancelled and inspected over HTTP.

The configuration file (--config) lists the entity types to sync, the storage
backends and the TMDB credentials. See examples/ for a sample configuration.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	cmd.Flags().Duration("request-timeout", defaultRequestTimeout, "Timeout for a single API request")
	cmd.Flags().Duration("shutdown-timeout", defaultGracefulTimeout, "Time active runs get to drain on shutdown")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	address, _ := cmd.Flags().GetString("address")
	requestTimeout, _ := cmd.Flags().GetDuration("request-timeout")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration", "path", configPath, "entities", len(cfg.Entities),
		"documents", cfg.Storage.Documents, "cursors", cfg.Storage.Cursors)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := syncapp.NewSyncApp(ctx,
		syncapp.WithConfig(cfg),
		syncapp.WithAddress(address),
		syncapp.WithRequestTimeout(requestTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- app.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			_ = app.Stop(shutdownTimeout)
			return err
		}
	}

	return app.Stop(shutdownTimeout)
}
