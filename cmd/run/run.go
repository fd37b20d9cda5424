// Package run implements the command that runs the scheduler service.
package run

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/cmd/common"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/logger"
)

// Command returns the run command. version is read when the command runs.
func Command(version func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler service",
		Long: `Run the periodic job generator, the job dispatcher, the crawl engine
signal consumer and the admin HTTP server until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cmd.Context(), version())
		},
	}
}

func runService(ctx context.Context, version string) error {
	cfg, err := common.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := common.NewLogger(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log, version)
	if err != nil {
		log.Error("Failed to initialize", logger.Error(err))
		return err
	}

	serverErr, err := app.Start(ctx)
	if err != nil {
		_ = app.Shutdown(context.Background())
		return err
	}
	log.Info("Harvest scheduler running", logger.Int("port", cfg.Server.Port))

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err, ok := <-serverErr:
		if ok && err != nil {
			log.Error("HTTP server failed", logger.Error(err))
			runErr = err
		}
	}

	// ctx is already cancelled here, so shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err = app.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown finished with errors", logger.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
