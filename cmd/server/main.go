// Command server runs the kindkart payments and reputation API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kindkart/kindkart/internal/config"
	"github.com/kindkart/kindkart/internal/logging"
	"github.com/kindkart/kindkart/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting kindkart",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"gateway", cfg.GatewayProvider,
		"currency", cfg.DefaultCurrency,
		"escrow_window", cfg.EscrowWindow,
	)

	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
