// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adiadia/agent-marketplace/internal/agent"
	"github.com/adiadia/agent-marketplace/internal/domain"
)

type fakeAgent struct {
	id       string
	kind     domain.AgentKind
	run      func(ctx context.Context) error
	stopped  atomic.Bool
	finished atomic.Int64
}

func (f *fakeAgent) ID() string             { return f.id }
func (f *fakeAgent) Kind() domain.AgentKind { return f.kind }

func (f *fakeAgent) Run(ctx context.Context) error {
	err := f.run(ctx)
	f.finished.Store(time.Now().UnixNano())
	f.stopped.Store(true)
	return err
}

type fakeDrainer struct {
	drained atomic.Int32
}

func (d *fakeDrainer) Drain(context.Context) error {
	d.drained.Add(1)
	return nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDefaults(t *testing.T) {
	w := New(Deps{})

	if w.logger == nil {
		t.Fatal("expected default logger to be set")
	}
	if w.shutdownGrace != 5*time.Second {
		t.Fatalf("expected default shutdownGrace=5s, got %s", w.shutdownGrace)
	}
	if w.drainTimeout != 30*time.Second {
		t.Fatalf("expected default drainTimeout=30s, got %s", w.drainTimeout)
	}
}

func TestRunStopsDependentsAfterPrimaries(t *testing.T) {
	primaryDone := make(chan struct{})
	customer := &fakeAgent{id: "customer-1", kind: domain.KindCustomer, run: func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		close(primaryDone)
		return nil
	}}
	business := &fakeAgent{id: "business-1", kind: domain.KindBusiness, run: func(ctx context.Context) error {
		<-ctx.Done()
		select {
		case <-primaryDone:
		default:
			t.Error("business cancelled before customer finished")
		}
		return nil
	}}
	logs := &fakeDrainer{}

	w := New(Deps{Logger: quiet(), Logs: logs, ShutdownGrace: 10 * time.Millisecond})
	report, err := w.Run(context.Background(), []agent.Agent{customer}, []agent.Agent{business})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !business.stopped.Load() {
		t.Fatal("expected business to be stopped")
	}
	if business.finished.Load() < customer.finished.Load() {
		t.Fatal("expected business to stop after customer")
	}
	if logs.drained.Load() != 1 {
		t.Fatalf("expected one drain, got %d", logs.drained.Load())
	}
	if len(report.Primaries) != 1 || report.Primaries[0].AgentID != "customer-1" {
		t.Fatalf("unexpected primaries: %+v", report.Primaries)
	}
	if len(report.Failed()) != 0 {
		t.Fatalf("expected no failures, got %+v", report.Failed())
	}
}

func TestRunReportsFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &fakeAgent{id: "customer-2", kind: domain.KindCustomer, run: func(context.Context) error { return boom }}
	ok := &fakeAgent{id: "customer-3", kind: domain.KindCustomer, run: func(context.Context) error { return nil }}

	w := New(Deps{Logger: quiet(), ShutdownGrace: time.Millisecond})
	report, err := w.Run(context.Background(), []agent.Agent{bad, ok}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed := report.Failed()
	if len(failed) != 1 || !errors.Is(failed[0].Err, boom) {
		t.Fatalf("expected one failure wrapping boom, got %+v", failed)
	}
}

func TestRunHonorsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	customer := &fakeAgent{id: "customer-1", kind: domain.KindCustomer, run: func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}}
	business := &fakeAgent{id: "business-1", kind: domain.KindBusiness, run: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}

	w := New(Deps{Logger: quiet(), ShutdownGrace: time.Hour})
	start := time.Now()
	_, err := w.Run(ctx, []agent.Agent{customer}, []agent.Agent{business})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("grace window should be skipped on cancellation")
	}
}
