// SPDX-License-Identifier: Apache-2.0

// Package experiment runs a whole marketplace in one process: the
// protocol server over a storage backend, every agent of a profile set,
// and an optional export of the result.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/adiadia/agent-marketplace/internal/client"
	"github.com/adiadia/agent-marketplace/internal/export"
	"github.com/adiadia/agent-marketplace/internal/profiles"
	"github.com/adiadia/agent-marketplace/internal/store"
	"github.com/adiadia/agent-marketplace/internal/worker"
)

const (
	readyInterval   = 50 * time.Millisecond
	readyTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Config struct {
	Name string
	// Host and Port of the protocol server. Port 0 picks a free port.
	Host   string
	Port   int
	Server ServerConfig
	Launch LaunchConfig

	Export     bool
	ExportDir  string
	ExportFile string

	Logger *slog.Logger
}

type Summary struct {
	Name   string
	URL    string
	Report worker.Report
	// Export is set when the run was exported.
	Export *export.Summary
}

// Run serves db, launches every agent of set against it and waits for
// the customers to finish.
func Run(ctx context.Context, db store.Database, set profiles.Set, cfg Config) (Summary, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Server.Experiment == "" {
		cfg.Server.Experiment = cfg.Name
	}
	if cfg.Server.Logger == nil {
		cfg.Server.Logger = logger
	}
	if cfg.Launch.Logger == nil {
		cfg.Launch.Logger = logger
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return Summary{}, fmt.Errorf("listen: %w", err)
	}
	url := "http://" + ln.Addr().String()
	srv := &http.Server{
		Handler:           NewServer(db, cfg.Server),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()
	logger.Info("marketplace server listening", "url", url, "experiment", cfg.Name)

	clients := client.NewRegistry(client.Options{Logger: logger, AdminToken: cfg.Server.AdminToken})
	defer clients.Close()
	c, err := clients.Get(url)
	if err != nil {
		return Summary{}, err
	}
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	err = c.WaitReady(readyCtx, readyInterval)
	cancel()
	if err != nil {
		return Summary{}, fmt.Errorf("server not ready: %w", err)
	}

	report, err := Launch(ctx, c, set, cfg.Launch)
	sum := Summary{Name: cfg.Name, URL: url, Report: report}
	if err != nil {
		return sum, err
	}
	select {
	case err := <-serveErr:
		if err != nil {
			return sum, fmt.Errorf("serve: %w", err)
		}
	default:
	}
	logger.Info("experiment finished", "experiment", cfg.Name, "duration", report.Finished.Sub(report.Started).String(), "failed_agents", len(report.Failed()))

	if cfg.Export {
		path := export.Path(cfg.ExportDir, cfg.ExportFile, cfg.Name)
		es, err := export.Run(ctx, db, path, export.Options{Logger: logger})
		if err != nil {
			return sum, fmt.Errorf("export: %w", err)
		}
		sum.Export = &es
	}
	return sum, nil
}
