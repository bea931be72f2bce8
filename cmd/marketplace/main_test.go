// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/persistence/sqlite"
)

func testApp() *app {
	return &app{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestConnStringOverrides(t *testing.T) {
	tests := []struct {
		name  string
		flags postgresFlags
		want  string
	}{
		{
			name:  "unchanged",
			flags: postgresFlags{url: "postgres://u:p@db:5432/market?sslmode=disable"},
			want:  "postgres://u:p@db:5432/market?sslmode=disable",
		},
		{
			name:  "host and port",
			flags: postgresFlags{url: "postgres://u:p@db:5432/market", host: "10.0.0.5", port: 6543},
			want:  "postgres://u:p@10.0.0.5:6543/market",
		},
		{
			name:  "host keeps port",
			flags: postgresFlags{url: "postgres://u@db:5432/market", host: "other"},
			want:  "postgres://u@other:5432/market",
		},
		{
			name:  "credentials and database",
			flags: postgresFlags{url: "postgres://u:p@db/market", user: "admin", password: "secret", database: "exp"},
			want:  "postgres://admin:secret@db/exp",
		},
		{
			name:  "user keeps password",
			flags: postgresFlags{url: "postgres://u:p@db/market", user: "admin"},
			want:  "postgres://admin:p@db/market",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.connString()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenSQLiteExperiment(t *testing.T) {
	ctx := context.Background()
	a := testApp()
	path := filepath.Join(t.TempDir(), "lunch_rush.db")

	db, err := sqlite.Open(ctx, path, a.logger)
	require.NoError(t, err)
	_, err = db.Agents().Create(ctx, domain.AgentRow{Data: domain.CustomerProfile(domain.Customer{ID: "customer-1", Name: "Ada"})})
	require.NoError(t, err)
	db.Close()

	s := storeFlags{dbType: "SQLite"}
	exp, err := s.open(ctx, a, path)
	require.NoError(t, err)
	defer exp.Close()
	assert.Equal(t, "lunch_rush", exp.name)
	assert.Nil(t, exp.pool)

	n, err := exp.Agents().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpenSQLiteMissingFile(t *testing.T) {
	s := storeFlags{dbType: dbTypeSQLite}
	path := filepath.Join(t.TempDir(), "missing.db")
	_, err := s.open(context.Background(), testApp(), path)
	require.ErrorContains(t, err, "not found")

	_, statErr := os.Stat(path)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestOpenUnknownType(t *testing.T) {
	s := storeFlags{dbType: "mysql"}
	_, err := s.open(context.Background(), testApp(), "exp")
	require.ErrorContains(t, err, `unknown --db-type "mysql"`)
}

func TestAnalyzeSQLiteWithoutSaving(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "exp.db")
	db, err := sqlite.Open(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	_, err = db.Agents().Create(ctx, domain.AgentRow{Data: domain.CustomerProfile(domain.Customer{ID: "customer-1", Name: "Ada"})})
	require.NoError(t, err)
	db.Close()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"analyze", path, "--db-type", "sqlite", "--no-save-json", "--log-level", "error"})
	require.NoError(t, root.ExecuteContext(ctx))

	assert.Contains(t, out.String(), "MARKETPLACE SIMULATION ANALYTICS REPORT")
	assert.Contains(t, out.String(), "Found 1 customers and 0 businesses")
}

func TestListGoFilesSkipsIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"main.go", "internal/x/x.go", "_ref/skip.go", "vendor/v.go", "README.md"} {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("package x\n"), 0o644))
	}

	files, err := listGoFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "internal/x/x.go"),
		filepath.Join(root, "main.go"),
	}, files)
}
