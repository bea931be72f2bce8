//go:build integration

// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEnsureSchemaBootstrapsEmptyExperiment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	baseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if baseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	schema := "bootstrap_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	pool, err := NewPool(ctx, baseURL, PoolOptions{Schema: schema})
	if err != nil {
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}
	defer pool.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defer func() {
		if err := DropSchema(context.Background(), pool, schema, logger); err != nil {
			t.Logf("cleanup warning: drop schema failed (%v)", err)
		}
	}()

	exists, err := SchemaExists(ctx, pool, schema)
	if err != nil {
		t.Fatalf("schema exists: %v", err)
	}
	if exists {
		t.Fatal("expected fresh schema to be absent")
	}

	if err := EnsureSchema(ctx, pool, schema, logger); err != nil {
		t.Fatalf("ensure schema first run: %v", err)
	}
	if err := EnsureSchema(ctx, pool, schema, logger); err != nil {
		t.Fatalf("ensure schema second run: %v", err)
	}
	if err := SchemaReady(ctx, pool, schema); err != nil {
		t.Fatalf("schema ready check: %v", err)
	}

	if _, err := pool.Exec(ctx, `INSERT INTO actions (id, data) VALUES ($1, '{}'::jsonb)`, uuid.NewString()); err != nil {
		t.Fatalf("insert into experiment actions: %v", err)
	}

	exists, err = SchemaExists(ctx, pool, schema)
	if err != nil {
		t.Fatalf("schema exists: %v", err)
	}
	if !exists {
		t.Fatal("expected schema to exist after bootstrap")
	}
}
