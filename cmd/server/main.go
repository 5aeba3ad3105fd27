// RugDetector - payment-gated smart contract risk analysis with
// verifiable inference proofs.
package main

import (
	"context"
	"os"

	"github.com/hshadab/rugdetector/internal/config"
	"github.com/hshadab/rugdetector/internal/logging"
	"github.com/hshadab/rugdetector/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting rugdetector",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"payment_network", cfg.PaymentNetwork,
		"price", cfg.Price,
		"model", cfg.ModelPath,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
