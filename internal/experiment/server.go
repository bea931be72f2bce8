// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"log/slog"
	"net/http"

	"github.com/adiadia/agent-marketplace/internal/auth"
	"github.com/adiadia/agent-marketplace/internal/messages"
	"github.com/adiadia/agent-marketplace/internal/protocol"
	"github.com/adiadia/agent-marketplace/internal/search"
	"github.com/adiadia/agent-marketplace/internal/store"
	httptransport "github.com/adiadia/agent-marketplace/internal/transport/http"
	"github.com/adiadia/agent-marketplace/internal/transport/middleware"
)

type ServerConfig struct {
	// Experiment defaults to the run name under Run.
	Experiment     string
	StrictPayments bool
	AdminToken     string
	// RateLimitPerMin of 0 disables the per-agent limiter.
	RateLimitPerMin int
	Health          httptransport.HealthChecker
	Logger          *slog.Logger
	Version         string
	Commit          string
	BuildDate       string
}

// NewServer wires the protocol executor, message directory and search
// engine over db behind the marketplace HTTP router.
func NewServer(db store.Database, cfg ServerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executor := protocol.NewExecutor(db, search.NewEngine(db.Agents()), protocol.Options{
		StrictPayments: cfg.StrictPayments,
		Logger:         logger,
	})

	var limiter *middleware.AgentLimiter
	if cfg.RateLimitPerMin > 0 {
		limiter = middleware.NewAgentLimiter(cfg.RateLimitPerMin)
	}

	return httptransport.NewRouter(httptransport.Deps{
		Executor:   executor,
		Agents:     db.Agents(),
		Logs:       db.Logs(),
		Messages:   messages.NewDirectory(db.Actions(), logger),
		Tokens:     auth.NewTokenStore(),
		Health:     cfg.Health,
		Limiter:    limiter,
		Logger:     logger,
		Experiment: cfg.Experiment,
		AdminToken: cfg.AdminToken,
		Version:    cfg.Version,
		Commit:     cfg.Commit,
		BuildDate:  cfg.BuildDate,
	})
}
