// SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/agent-marketplace/internal/persistence/postgres"
	"github.com/adiadia/agent-marketplace/internal/repository"
)

// ErrExists is returned when the experiment schema already holds agents
// and no override was requested.
var ErrExists = errors.New("experiment already exists")

type PostgresConfig struct {
	URL      string
	Schema   string
	MinConns int32
	MaxConns int32
	// Override drops an existing experiment before bootstrapping.
	Override bool
	// Resume migrates and reuses an existing experiment as is.
	Resume bool
	// ReadOnly opens an existing experiment without touching its schema.
	ReadOnly bool
	Logger   *slog.Logger
}

// OpenPostgres connects to the experiment schema. Unless ReadOnly is set
// the schema is created and migrated; an existing non-empty experiment is
// refused unless Override or Resume is set.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*repository.Database, *pgxpool.Pool, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := postgres.ValidateSchemaName(cfg.Schema); err != nil {
		return nil, nil, err
	}
	pool, err := postgres.NewPool(ctx, cfg.URL, postgres.PoolOptions{
		Schema:   cfg.Schema,
		MinConns: cfg.MinConns,
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	db := repository.NewDatabase(pool, cfg.Schema, logger)

	if cfg.ReadOnly {
		if err := postgres.SchemaReady(ctx, pool, cfg.Schema); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, pool, nil
	}

	if err := prepareSchema(ctx, pool, db, cfg, logger); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, pool, nil
}

func prepareSchema(ctx context.Context, pool *pgxpool.Pool, db *repository.Database, cfg PostgresConfig, logger *slog.Logger) error {
	exists, err := postgres.SchemaExists(ctx, pool, cfg.Schema)
	if err != nil {
		return fmt.Errorf("inspect experiment %s: %w", cfg.Schema, err)
	}
	if exists {
		if cfg.Override {
			if err := postgres.DropSchema(ctx, pool, cfg.Schema, logger); err != nil {
				return err
			}
		} else if !cfg.Resume {
			n, err := db.Agents().Count(ctx)
			if err != nil {
				return fmt.Errorf("count agents of %s: %w", cfg.Schema, err)
			}
			if n > 0 {
				return fmt.Errorf("%s: %w; pass --override-db to replace it", cfg.Schema, ErrExists)
			}
		}
	}
	return postgres.EnsureSchema(ctx, pool, cfg.Schema, logger)
}
