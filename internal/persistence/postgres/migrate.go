// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	embeddedmigrations "github.com/adiadia/agent-marketplace/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaMigrationLockID int64 = 0x4d4b54504c5f4d47 // "MKTPL_MG"

// ExperimentTables are the tables every experiment schema must contain.
var ExperimentTables = []string{
	"agents",
	"actions",
	"logs",
}

type requiredColumn struct {
	Table  string
	Column string
}

var requiredColumns = []requiredColumn{
	{Table: "agents", Column: "agent_embedding"},
	{Table: "actions", Column: "row_index"},
	{Table: "logs", Column: "row_index"},
}

var schemaNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateSchemaName accepts plain identifiers and refuses system schemas.
func ValidateSchemaName(name string) error {
	if !schemaNamePattern.MatchString(name) {
		return fmt.Errorf("invalid experiment name %q: use letters, digits and underscores", name)
	}
	lower := strings.ToLower(name)
	if lower == "public" || lower == "information_schema" || strings.HasPrefix(lower, "pg_") {
		return fmt.Errorf("invalid experiment name %q: reserved schema", name)
	}
	return nil
}

type SchemaHealthChecker struct {
	pool   *pgxpool.Pool
	schema string
}

func NewSchemaHealthChecker(pool *pgxpool.Pool, schema string) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool, schema: schema}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool, h.schema)
}

// SchemaExists reports whether the experiment schema has any of its tables.
func SchemaExists(ctx context.Context, pool *pgxpool.Pool, schema string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = ANY($2)
		)
	`, schema, ExperimentTables).Scan(&exists)
	return exists, err
}

// DropSchema removes an experiment and all of its rows.
func DropSchema(ctx context.Context, pool *pgxpool.Pool, schema string, logger *slog.Logger) error {
	if err := ValidateSchemaName(schema); err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`); err != nil {
		return fmt.Errorf("drop schema %s: %w", schema, err)
	}
	logger.Warn("experiment schema dropped", "schema", schema)
	return nil
}

// EnsureSchema creates the experiment schema and applies the embedded
// migrations inside it. The pool must have been created with the same
// schema on its search_path.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if err := ValidateSchemaName(schema); err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}

	started := time.Now()
	logger.Info("schema bootstrap starting", "schema", schema)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection for schema bootstrap: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("acquire schema bootstrap lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, unlockErr := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); unlockErr != nil {
			logger.Error("schema bootstrap unlock failed", "error", unlockErr)
		}
	}()

	if _, err := conn.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	migrations, err := embeddedmigrations.Ordered()
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(migrations) == 0 {
		return errors.New("no embedded migrations found")
	}

	applied := 0
	skipped := 0

	for _, migration := range migrations {
		var alreadyApplied bool
		if err := conn.QueryRow(
			ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`,
			migration.Name,
		).Scan(&alreadyApplied); err != nil {
			return fmt.Errorf("check migration %s: %w", migration.Name, err)
		}

		if alreadyApplied {
			skipped++
			continue
		}

		if err := applyMigration(ctx, conn, migration); err != nil {
			return fmt.Errorf("apply migration %s: %w", migration.Name, err)
		}
		logger.Info("migration applied", "schema", schema, "version", migration.Version, "file", migration.Name)
		applied++
	}

	logger.Info("schema bootstrap complete",
		"schema", schema,
		"applied", applied,
		"skipped", skipped,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, pool, schema)
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, migration embeddedmigrations.File) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, migration.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO schema_migrations (filename)
		VALUES ($1)
	`, migration.Name); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func SchemaReady(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	missingTables := make([]string, 0, len(ExperimentTables))
	for _, table := range ExperimentTables {
		var relationName *string
		if err := pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, pgx.Identifier{schema, table}.Sanitize()).Scan(&relationName); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if relationName == nil || strings.TrimSpace(*relationName) == "" {
			missingTables = append(missingTables, table)
		}
	}
	if len(missingTables) > 0 {
		return fmt.Errorf("required tables missing in %s: %s", schema, strings.Join(missingTables, ", "))
	}

	missingColumns := make([]string, 0, len(requiredColumns))
	for _, column := range requiredColumns {
		var exists bool
		if err := pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1
				FROM information_schema.columns
				WHERE table_schema = $1
				  AND table_name = $2
				  AND column_name = $3
			)
		`, schema, column.Table, column.Column).Scan(&exists); err != nil {
			return fmt.Errorf("check column %s.%s: %w", column.Table, column.Column, err)
		}
		if !exists {
			missingColumns = append(missingColumns, column.Table+"."+column.Column)
		}
	}
	if len(missingColumns) > 0 {
		return fmt.Errorf("required columns missing in %s: %s", schema, strings.Join(missingColumns, ", "))
	}

	return nil
}
