// Command spotledger is the entry point for the spot position ledger. It
// loads configuration, validates it, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/spotledger/internal/app"
	"github.com/alanyoungcy/spotledger/internal/config"
	"github.com/alanyoungcy/spotledger/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (serve, reconcile, archive, full)")
	flag.Parse()

	// Bootstrap logger until the configured level is known.
	logger := logging.NewWithWriter(os.Stdout, slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger, logCloser := logging.New(cfg.LogLevel, cfg.LogFile)
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("spotledger starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	err = application.Run(ctx)
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		logCloser.Close()
		os.Exit(1)
	}

	logger.Info("spotledger stopped")
}
