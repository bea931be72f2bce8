// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
)

func TestNewActionRepository(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var pool *pgxpool.Pool

	repo := NewActionRepository(pool, "exp_a", logger)
	if repo == nil {
		t.Fatal("expected action repository instance")
	}
	if repo.pool != pool {
		t.Fatal("expected pool reference to be preserved")
	}
	if repo.logger != logger {
		t.Fatal("expected logger reference to be preserved")
	}
}

func TestNewAgentRepositoryDefaultsLogger(t *testing.T) {
	repo := NewAgentRepository(nil, nil)
	if repo.logger == nil {
		t.Fatal("expected default logger")
	}
}

func TestAppendLockKeyIsPerExperiment(t *testing.T) {
	if appendLockKey("exp_a") == appendLockKey("exp_b") {
		t.Fatal("expected different lock keys for different experiments")
	}
	if appendLockKey("exp_a") != appendLockKey("exp_a") {
		t.Fatal("expected stable lock key")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, domain.ErrNotFound},
		{"unique", &pgconn.PgError{Code: "23505"}, domain.ErrDuplicateID},
		{"too many connections", &pgconn.PgError{Code: "53300"}, domain.ErrTooBusy},
		{"cannot connect now", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "57P03"}), domain.ErrTooBusy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, got)
			}
		})
	}

	plain := errors.New("boom")
	if got := classify(plain); got != plain {
		t.Fatalf("expected plain error passthrough got %v", got)
	}
}

func TestActionFilterBuildsIndexedExpressions(t *testing.T) {
	w := &where{}
	w.add(jsonText("request", "parameters", "to_agent_id")+" = %s", "customer-1")
	after := int64(4)
	params := store.RangeParams{AfterIndex: &after}
	w.add("row_index > %s", *params.AfterIndex)

	want := ` WHERE (jsonb_path_query_first(data, '$."request"."parameters"."to_agent_id"'::jsonpath) #>> '{}') = $1 AND row_index > $2`
	if got := w.sql(); got != want {
		t.Fatalf("expected %s got %s", want, got)
	}
	if len(w.args) != 2 {
		t.Fatalf("expected 2 args got %d", len(w.args))
	}
}
