// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/adiadia/agent-marketplace/internal/client"
	"github.com/adiadia/agent-marketplace/internal/config"
	"github.com/adiadia/agent-marketplace/internal/experiment"
	"github.com/adiadia/agent-marketplace/internal/logging"
	"github.com/adiadia/agent-marketplace/internal/profiles"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	set, err := profiles.Load(cfg.DataDir)
	if err != nil {
		log.Fatalf("load profiles failed: %v", err)
	}

	clients := client.NewRegistry(client.Options{Logger: logger, AdminToken: cfg.AdminToken})
	defer clients.Close()
	c, err := clients.Get(cfg.MarketplaceURL)
	if err != nil {
		log.Fatalf("marketplace client failed: %v", err)
	}
	if err := c.WaitReady(ctx, cfg.PollInterval); err != nil {
		log.Fatalf("marketplace %s not ready: %v", cfg.MarketplaceURL, err)
	}

	logger.Info("worker started", "marketplace", cfg.MarketplaceURL, "data_dir", cfg.DataDir)
	report, err := experiment.Launch(ctx, c, set, experiment.LaunchConfig{
		SearchAlgorithm:  cfg.SearchAlgorithm,
		SearchBandwidth:  cfg.SearchBandwidth,
		CustomerMaxSteps: cfg.CustomerMaxStep,
		PollInterval:     cfg.PollInterval,
		LLM:              cfg.LLM,
		LogLevel:         logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Logger:           logger,
	})
	if err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker finished",
		"customers", len(report.Primaries),
		"businesses", len(report.Dependents),
		"failed", len(report.Failed()),
		"duration_ms", report.Finished.Sub(report.Started).Milliseconds(),
	)
}
