// SPDX-License-Identifier: Apache-2.0

// Package worker launches a population of agents. Primary agents
// (customers) run to completion; dependent agents (businesses) keep serving
// until every primary is done and a grace window has passed.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adiadia/agent-marketplace/internal/agent"
	"github.com/adiadia/agent-marketplace/internal/domain"
)

const (
	defaultShutdownGrace = 5 * time.Second
	defaultDrainTimeout  = 30 * time.Second
)

// Drainer flushes buffered log records.
type Drainer interface {
	Drain(ctx context.Context) error
}

type Deps struct {
	Logger *slog.Logger
	// Logs is drained after every agent has stopped. Optional.
	Logs          Drainer
	ShutdownGrace time.Duration
	DrainTimeout  time.Duration
}

type Worker struct {
	logger        *slog.Logger
	logs          Drainer
	shutdownGrace time.Duration
	drainTimeout  time.Duration
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	grace := deps.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}

	drain := deps.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}

	return &Worker{
		logger:        l,
		logs:          deps.Logs,
		shutdownGrace: grace,
		drainTimeout:  drain,
	}
}

// Result is the outcome of one agent.
type Result struct {
	AgentID  string           `json:"agent_id"`
	Kind     domain.AgentKind `json:"kind"`
	Err      error            `json:"-"`
	Duration time.Duration    `json:"duration"`
}

type Report struct {
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	Primaries  []Result  `json:"primaries"`
	Dependents []Result  `json:"dependents"`
}

// Failed returns results whose agent stopped with an error other than
// cancellation.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range append(append([]Result(nil), r.Primaries...), r.Dependents...) {
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
			out = append(out, res)
		}
	}
	return out
}

// Run starts dependents, runs every primary to completion, then signals
// the dependents to stop and drains logs. It returns ctx.Err() when the
// run was cut short by the caller.
func (w *Worker) Run(ctx context.Context, primaries, dependents []agent.Agent) (Report, error) {
	report := Report{
		Started:    time.Now(),
		Primaries:  make([]Result, len(primaries)),
		Dependents: make([]Result, len(dependents)),
	}

	depCtx, cancelDeps := context.WithCancel(ctx)
	defer cancelDeps()

	var deps sync.WaitGroup
	for i, a := range dependents {
		deps.Add(1)
		go func() {
			defer deps.Done()
			report.Dependents[i] = w.runAgent(depCtx, a)
		}()
	}

	w.logger.Info("agents started", "primaries", len(primaries), "dependents", len(dependents))

	var g errgroup.Group
	for i, a := range primaries {
		g.Go(func() error {
			report.Primaries[i] = w.runAgent(ctx, a)
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("primary agents finished", "grace", w.shutdownGrace)

	timer := time.NewTimer(w.shutdownGrace)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}
	cancelDeps()
	deps.Wait()

	w.drain(ctx)
	report.Finished = time.Now()

	for _, res := range report.Failed() {
		w.logger.Error("agent failed", "agent_id", res.AgentID, "kind", res.Kind, "error", res.Err)
	}
	return report, ctx.Err()
}

func (w *Worker) runAgent(ctx context.Context, a agent.Agent) Result {
	start := time.Now()
	err := a.Run(ctx)
	res := Result{AgentID: a.ID(), Kind: a.Kind(), Err: err, Duration: time.Since(start)}

	attrs := []any{"agent_id", res.AgentID, "kind", res.Kind, "duration_ms", res.Duration.Milliseconds()}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	w.logger.Info("agent stopped", attrs...)
	return res
}

func (w *Worker) drain(ctx context.Context) {
	if w.logs == nil {
		return
	}
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.drainTimeout)
	defer cancel()
	if err := w.logs.Drain(drainCtx); err != nil {
		w.logger.Error("log drain incomplete", "error", err)
	}
}
