//go:build integration

// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/persistence/postgres"
	"github.com/adiadia/agent-marketplace/internal/store"
)

func integrationDatabase(t *testing.T, ctx context.Context) (*Database, *pgxpool.Pool, string) {
	t.Helper()

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	schema := "it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	pool, err := postgres.NewPool(ctx, databaseURL, postgres.PoolOptions{Schema: schema, MaxConns: 8})
	if err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := postgres.EnsureSchema(ctx, pool, schema, logger); err != nil {
		pool.Close()
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		_ = postgres.DropSchema(context.Background(), pool, schema, logger)
		pool.Close()
	})

	return NewDatabase(pool, schema, logger), pool, schema
}

func textAction(from, to, content string) domain.ActionRow {
	params, _ := json.Marshal(domain.SendMessage{FromAgentID: from, ToAgentID: to, Message: domain.TextMessage{Content: content}})
	return domain.ActionRow{Data: domain.ActionRowData{
		AgentID: from,
		Request: domain.ActionRequest{Name: domain.RequestSendMessage, Parameters: params},
		Result:  domain.ActionResult{Content: params},
	}}
}

func TestConcurrentAppendsAreOrderedIntegration(t *testing.T) {
	ctx := context.Background()
	db, _, _ := integrationDatabase(t, ctx)

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := db.Actions().Create(ctx, textAction("customer-1", "business-1", "hello")); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	rows, err := db.Actions().Find(ctx, store.ActionFilter{ToAgentID: "business-1"}, store.RangeParams{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != writers*perWriter {
		t.Fatalf("expected %d rows got %d", writers*perWriter, len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Index <= rows[i-1].Index {
			t.Fatalf("expected strictly increasing index at %d: %d <= %d", i, rows[i].Index, rows[i-1].Index)
		}
	}

	cursor := rows[len(rows)/2].Index
	tail, err := db.Actions().Find(ctx, store.ActionFilter{ToAgentID: "business-1"}, store.RangeParams{AfterIndex: &cursor})
	if err != nil {
		t.Fatalf("find after cursor: %v", err)
	}
	for _, row := range tail {
		if row.Index <= cursor {
			t.Fatalf("expected index > %d got %d", cursor, row.Index)
		}
	}
}

func TestAgentAndLogRepositoriesIntegration(t *testing.T) {
	ctx := context.Background()
	db, pool, schema := integrationDatabase(t, ctx)

	profile := domain.BusinessProfile(domain.Business{ID: "business-1", Name: "Taco Stand", MenuFeatures: map[string]float64{"taco": 3}})
	if _, err := db.Agents().Create(ctx, domain.AgentRow{ID: profile.ID, Data: profile}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if _, err := db.Agents().Create(ctx, domain.AgentRow{ID: profile.ID, Data: profile}); !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID got %v", err)
	}

	got, err := db.Agents().GetByID(ctx, "business-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.Data.Business == nil || got.Data.Business.Name != "Taco Stand" {
		t.Fatalf("unexpected agent data %+v", got.Data)
	}
	if _, err := db.Agents().GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}

	call, _ := json.Marshal(domain.LLMCallLog{Type: domain.LLMCallType, Provider: "openai", Model: "gpt-4o", Success: true})
	logs := []domain.LogRow{
		{Data: domain.Log{Level: domain.LogInfo, Name: "llm", Data: call, Metadata: map[string]any{"agent_id": "customer-1"}}},
		{Data: domain.Log{Level: domain.LogInfo, Name: "agent", Message: "step", Metadata: map[string]any{"agent_id": "customer-2"}}},
	}
	if err := db.Logs().CreateMany(ctx, logs, 1); err != nil {
		t.Fatalf("create logs: %v", err)
	}
	found, err := db.Logs().Find(ctx, store.LogFilter{AgentID: "customer-1", Type: domain.LLMCallType}, store.RangeParams{})
	if err != nil {
		t.Fatalf("find logs: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 llm log got %d", len(found))
	}

	experiments, err := NewExperimentRepository(pool, nil).List(ctx, 0)
	if err != nil {
		t.Fatalf("list experiments: %v", err)
	}
	var summary *ExperimentSummary
	for i := range experiments {
		if experiments[i].Schema == schema {
			summary = &experiments[i]
		}
	}
	if summary == nil {
		t.Fatalf("expected experiment %s in list", schema)
	}
	if summary.Agents != 1 || summary.Logs != 2 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	if len(summary.LLMProviders) != 1 || summary.LLMProviders[0] != "openai" {
		t.Fatalf("unexpected providers %v", summary.LLMProviders)
	}
}

func TestAppendedRowsNeverChangeIntegration(t *testing.T) {
	ctx := context.Background()
	db, _, _ := integrationDatabase(t, ctx)

	for _, content := range []string{"hi", "menu?", "thanks"} {
		if _, err := db.Actions().Create(ctx, textAction("customer-1", "business-1", content)); err != nil {
			t.Fatalf("create action: %v", err)
		}
		row := domain.LogRow{Data: domain.Log{Level: domain.LogInfo, Name: "customer-1", Message: content,
			Metadata: map[string]any{"agent_id": "customer-1"}}}
		if _, err := db.Logs().Create(ctx, row); err != nil {
			t.Fatalf("create log: %v", err)
		}
	}
	actions, err := db.Actions().GetAll(ctx, store.RangeParams{})
	if err != nil {
		t.Fatalf("read actions: %v", err)
	}
	logs, err := db.Logs().GetAll(ctx, store.RangeParams{})
	if err != nil {
		t.Fatalf("read logs: %v", err)
	}
	if len(actions) != 3 || len(logs) != 3 {
		t.Fatalf("expected 3 actions and 3 logs got %d and %d", len(actions), len(logs))
	}

	for i := 0; i < 4; i++ {
		if _, err := db.Actions().Create(ctx, textAction("business-1", "customer-1", "later")); err != nil {
			t.Fatalf("create later action: %v", err)
		}
		if _, err := db.Logs().Create(ctx, domain.LogRow{Data: domain.Log{Level: domain.LogDebug, Name: "business-1", Message: "later"}}); err != nil {
			t.Fatalf("create later log: %v", err)
		}
	}

	before := actions[0].Index - 1
	again, err := db.Actions().GetAll(ctx, store.RangeParams{AfterIndex: &before, Limit: len(actions)})
	if err != nil {
		t.Fatalf("reread actions: %v", err)
	}
	if !reflect.DeepEqual(actions, again) {
		t.Fatalf("actions changed after later appends:\nbefore %+v\nafter  %+v", actions, again)
	}

	before = logs[0].Index - 1
	againLogs, err := db.Logs().GetAll(ctx, store.RangeParams{AfterIndex: &before, Limit: len(logs)})
	if err != nil {
		t.Fatalf("reread logs: %v", err)
	}
	if !reflect.DeepEqual(logs, againLogs) {
		t.Fatalf("logs changed after later appends:\nbefore %+v\nafter  %+v", logs, againLogs)
	}
}
