// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/agent-marketplace/internal/config"
	"github.com/adiadia/agent-marketplace/internal/experiment"
	"github.com/adiadia/agent-marketplace/internal/logging"
	"github.com/adiadia/agent-marketplace/internal/persistence/postgres"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	db, pool, err := experiment.OpenPostgres(ctx, experiment.PostgresConfig{
		URL:      cfg.DatabaseURL,
		Schema:   cfg.Experiment,
		MinConns: int32(cfg.PoolMinConn),
		MaxConns: int32(cfg.PoolMaxConn),
		Resume:   true,
		ReadOnly: !cfg.AutoMigrate,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("open experiment %s failed: %v", cfg.Experiment, err)
	}
	defer db.Close()

	handler := experiment.NewServer(db, experiment.ServerConfig{
		Experiment:      cfg.Experiment,
		StrictPayments:  cfg.StrictPayments,
		AdminToken:      cfg.AdminToken,
		RateLimitPerMin: cfg.AgentRateLimitPerMin,
		Health:          postgres.NewSchemaHealthChecker(pool, cfg.Experiment),
		Logger:          logger,
		Version:         Version,
		Commit:          Commit,
		BuildDate:       BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"experiment", cfg.Experiment,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
