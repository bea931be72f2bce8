// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/agent-marketplace/internal/store"
)

// Database is the durable multi-writer backend of one experiment schema.
type Database struct {
	pool    *pgxpool.Pool
	agents  *AgentRepository
	actions *ActionRepository
	logs    *LogRepository
}

func NewDatabase(pool *pgxpool.Pool, schema string, logger *slog.Logger) *Database {
	return &Database{
		pool:    pool,
		agents:  NewAgentRepository(pool, logger),
		actions: NewActionRepository(pool, schema, logger),
		logs:    NewLogRepository(pool, logger),
	}
}

func (d *Database) Agents() store.AgentTable   { return d.agents }
func (d *Database) Actions() store.ActionTable { return d.actions }
func (d *Database) Logs() store.LogTable       { return d.logs }

// Close releases the pool.
func (d *Database) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}
