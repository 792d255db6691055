package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/vigil/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent loop and HTTP API until interrupted",
	Long: `Run starts the full pipeline: configured sources are polled on the agent
interval, alerts that pass triage are delivered to the log, WebSocket
clients and (optionally) event files, and the HTTP API serves context,
alerts and feedback.

Stop with Ctrl-C; the current cycle finishes before exit.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	logger.Info("vigil running",
		"version", Version,
		"backend", cfg.Storage.IndexBackend,
		"sources", len(a.Sources),
		"api", cfg.Server.Enabled,
	)
	if err := a.Run(ctx); err != nil {
		return err
	}
	logger.Info("vigil stopped")
	return nil
}
