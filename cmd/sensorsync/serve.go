package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/sensorsync"
	"github.com/jpalmerr/sensorsync/config"
)

const (
	shutdownTimeout = 10 * time.Second
	openTimeout     = 30 * time.Second
)

// serveCmd starts the sensorsync engine.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start polling and serving readings",
	Long: `Start the sensorsync engine.

The server will:
  - Load configuration from the specified YAML file (defaults if omitted)
  - Open the configured store, applying migrations if enabled
  - Poll every configured channel for new readings
  - Serve /health, /api/latest, /api/history and live streams on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  sensorsync serve
  sensorsync serve -c config.yaml
  sensorsync serve --config /etc/sensorsync/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file")
}

// loadConfig loads the file named by the --config flag, or the defaults when
// the flag is empty.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		return config.Parse(nil)
	}
	return config.Load(configFile)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, logCloser := config.NewLogger(cfg.Logging, os.Stderr)
	defer logCloser.Close()

	logger.Info("config loaded",
		"channels", cfg.Channels,
		"store", cfg.Store.Driver,
	)

	openCtx, cancelOpen := context.WithTimeout(context.Background(), openTimeout)
	st, err := config.OpenStore(openCtx, cfg, logger)
	cancelOpen()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	// the engine owns the store from here and closes it on shutdown
	eng, err := sensorsync.New(config.BuildOptions(cfg, st, logger)...)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to create engine: %w", err)
	}

	logger.Info("starting server",
		"port", cfg.HTTPPort(),
		"poll_interval", cfg.PollInterval.Duration().String(),
	)

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run engine - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- eng.Run(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for ordered shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
