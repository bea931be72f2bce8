// SPDX-License-Identifier: Apache-2.0

// Package sqlite is the portable single-file backend. The row index is
// the table's integer primary key, so it doubles as the SQLite rowid.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	row_index INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL,
	data TEXT NOT NULL,
	agent_embedding BLOB
);
CREATE TABLE IF NOT EXISTS actions (
	row_index INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS logs (
	row_index INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS actions_to_agent_idx
	ON actions (json_extract(data, '$.request.parameters.to_agent_id'), row_index);
CREATE INDEX IF NOT EXISTS actions_from_agent_idx
	ON actions (json_extract(data, '$.request.parameters.from_agent_id'), row_index);
CREATE INDEX IF NOT EXISTS actions_request_name_idx
	ON actions (json_extract(data, '$.request.name'), row_index);
CREATE INDEX IF NOT EXISTS logs_agent_idx
	ON logs (json_extract(data, '$.metadata.agent_id'), row_index);
`

// timeLayout is fixed width so text comparison matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type DB struct {
	db     *sql.DB
	logger *slog.Logger

	agents  *agentTable
	actions *actionTable
	logs    *logTable
}

// Open creates or opens the database file at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer connection keeps row_index assignment in commit order.
	sqlDB.SetMaxOpenConns(1)

	db := New(sqlDB, logger)
	if err := db.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// New wraps an existing handle without touching the schema.
func New(sqlDB *sql.DB, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	db := &DB{db: sqlDB, logger: logger}
	db.agents = &agentTable{newTable(db, agentCodec)}
	db.actions = &actionTable{newTable(db, actionCodec)}
	db.logs = &logTable{newTable(db, logCodec)}
	return db
}

func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", classify(err))
	}
	return nil
}

func (d *DB) Agents() store.AgentTable   { return d.agents }
func (d *DB) Actions() store.ActionTable { return d.actions }
func (d *DB) Logs() store.LogTable       { return d.logs }

func (d *DB) Close() {
	if err := d.db.Close(); err != nil {
		d.logger.Warn("close sqlite failed", "error", err)
	}
}

var agentCodec = codec[domain.AgentRow]{
	table:        "agents",
	hasEmbedding: true,
	encode: func(r domain.AgentRow) (rowFields, error) {
		data, err := json.Marshal(r.Data)
		return rowFields{id: r.ID, createdAt: r.CreatedAt, data: data, embedding: r.AgentEmbedding, index: r.Index}, err
	},
	decode: func(f rowFields) (domain.AgentRow, error) {
		row := domain.AgentRow{ID: f.id, CreatedAt: f.createdAt, AgentEmbedding: f.embedding, Index: f.index}
		err := json.Unmarshal(f.data, &row.Data)
		return row, err
	},
	withID: func(r domain.AgentRow, id string, at time.Time, index int64) domain.AgentRow {
		r.ID, r.CreatedAt, r.Index = id, at, index
		return r
	},
}

var actionCodec = codec[domain.ActionRow]{
	table: "actions",
	encode: func(r domain.ActionRow) (rowFields, error) {
		data, err := json.Marshal(r.Data)
		return rowFields{id: r.ID, createdAt: r.CreatedAt, data: data, index: r.Index}, err
	},
	decode: func(f rowFields) (domain.ActionRow, error) {
		row := domain.ActionRow{ID: f.id, CreatedAt: f.createdAt, Index: f.index}
		err := json.Unmarshal(f.data, &row.Data)
		return row, err
	},
	withID: func(r domain.ActionRow, id string, at time.Time, index int64) domain.ActionRow {
		r.ID, r.CreatedAt, r.Index = id, at, index
		return r
	},
}

var logCodec = codec[domain.LogRow]{
	table: "logs",
	encode: func(r domain.LogRow) (rowFields, error) {
		data, err := json.Marshal(r.Data)
		return rowFields{id: r.ID, createdAt: r.CreatedAt, data: data, index: r.Index}, err
	},
	decode: func(f rowFields) (domain.LogRow, error) {
		row := domain.LogRow{ID: f.id, CreatedAt: f.createdAt, Index: f.index}
		err := json.Unmarshal(f.data, &row.Data)
		return row, err
	},
	withID: func(r domain.LogRow, id string, at time.Time, index int64) domain.LogRow {
		r.ID, r.CreatedAt, r.Index = id, at, index
		return r
	},
}
