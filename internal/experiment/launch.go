// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/agent-marketplace/internal/agent"
	"github.com/adiadia/agent-marketplace/internal/client"
	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/llm"
	"github.com/adiadia/agent-marketplace/internal/logqueue"
	"github.com/adiadia/agent-marketplace/internal/profiles"
	"github.com/adiadia/agent-marketplace/internal/worker"
)

const closeTimeout = 30 * time.Second

var errNoAgents = errors.New("no agents to launch")

type LaunchConfig struct {
	SearchAlgorithm  domain.SearchAlgorithm
	SearchBandwidth  int
	CustomerMaxSteps int
	PollInterval     time.Duration
	ShutdownGrace    time.Duration
	LLM              llm.Config
	// LLMOptions configure the per-run client registry. The mock provider
	// defaults to agent.Heuristic.
	LLMOptions []llm.RegistryOption
	// LogLevel is the lowest agent record level mirrored into the logs table.
	LogLevel slog.Level
	Logger   *slog.Logger
}

// Launch registers every profile of set with the server behind c, then
// runs customers to completion while businesses serve them. Agent logs
// and LLM calls reach the logs table through the server.
func Launch(ctx context.Context, c *client.Client, set profiles.Set, cfg LaunchConfig) (worker.Report, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if len(set.Businesses)+len(set.Customers) == 0 {
		return worker.Report{}, errNoAgents
	}

	// The heuristic policy answers for the mock provider unless an option
	// replaces it.
	opts := append([]llm.RegistryOption{llm.WithMockResponder(agent.Heuristic)}, cfg.LLMOptions...)
	registry := llm.NewRegistry(opts...)
	defer registry.Close()
	model, err := registry.Client(cfg.LLM)
	if err != nil {
		return worker.Report{}, fmt.Errorf("llm client: %w", err)
	}

	// Businesses register first so the first searches already see them.
	bindings := make([]*client.AgentClient, 0, len(set.Businesses)+len(set.Customers))
	for _, p := range set.Profiles() {
		ac, err := c.Register(ctx, p)
		if err != nil {
			return worker.Report{}, err
		}
		bindings = append(bindings, ac)
	}
	logger.Info("agents registered", "businesses", len(set.Businesses), "customers", len(set.Customers))

	logs := agentLogs{byID: make(map[string]*client.AgentClient, len(bindings)), fallback: bindings[0]}
	for _, ac := range bindings {
		logs.byID[ac.AgentID()] = ac
	}
	queue := logqueue.New(logs, logqueue.Options{Logger: logger})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := queue.Close(closeCtx); err != nil {
			logger.Error("log queue close incomplete", "error", err)
		}
	}()
	agentLogger := slog.New(logqueue.NewHandler(logger.Handler(), queue, cfg.LogLevel))

	agentOpts := agent.Options{PollInterval: cfg.PollInterval, Logger: agentLogger}
	var businesses, customers []agent.Agent
	for i, b := range set.Businesses {
		market := bindings[i]
		caller := llm.NewCaller(model, queue, b.ID, agentLogger)
		businesses = append(businesses, agent.NewBusiness(b, market, caller, agentOpts))
	}
	for i, cu := range set.Customers {
		market := bindings[len(set.Businesses)+i]
		caller := llm.NewCaller(model, queue, cu.ID, agentLogger)
		customers = append(customers, agent.NewCustomer(cu, market, caller, agent.CustomerOptions{
			Options:         agentOpts,
			SearchAlgorithm: cfg.SearchAlgorithm,
			SearchBandwidth: cfg.SearchBandwidth,
			MaxSteps:        cfg.CustomerMaxSteps,
		}))
	}

	w := worker.New(worker.Deps{Logger: logger, Logs: queue, ShutdownGrace: cfg.ShutdownGrace})
	return w.Run(ctx, customers, businesses)
}

// agentLogs posts each row with the token of the agent it names. Rows
// without an agent go out as fallback.
type agentLogs struct {
	byID     map[string]*client.AgentClient
	fallback *client.AgentClient
}

func (l agentLogs) Create(ctx context.Context, row domain.LogRow) (domain.LogRow, error) {
	if ac, ok := l.byID[row.Data.AgentID()]; ok {
		return ac.Create(ctx, row)
	}
	return l.fallback.Create(ctx, row)
}
