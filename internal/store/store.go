// SPDX-License-Identifier: Apache-2.0

// Package store defines the storage backend contract shared by the durable
// Postgres backend and the portable SQLite backend.
//
// Every table is append-only and assigns a strictly increasing index at
// insert time. Reads return rows in ascending index order.
package store

import (
	"context"
	"time"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

// DefaultBatchSize is used by CreateMany and by batched full-table reads.
const DefaultBatchSize = 1000

// RangeParams narrows a read. Zero values mean "no bound".
type RangeParams struct {
	AfterIndex *int64
	After      *time.Time
	Limit      int
	Offset     int
}

// ActionFilter matches structured fields of an action row.
type ActionFilter struct {
	Name        string
	AgentID     string
	ToAgentID   string
	FromAgentID string
	MessageType domain.MessageType
	// ProposalID matches the id of an order proposal message.
	ProposalID string
	// PaidProposalID matches payments referencing a proposal id.
	PaidProposalID string
	IsError        *bool
}

type LogFilter struct {
	AgentID string
	Type    string
	Level   domain.LogLevel
	Name    string
}

type AgentTable interface {
	Create(ctx context.Context, row domain.AgentRow) (domain.AgentRow, error)
	CreateMany(ctx context.Context, rows []domain.AgentRow, batchSize int) error
	GetByID(ctx context.Context, id string) (domain.AgentRow, error)
	GetAll(ctx context.Context, params RangeParams) ([]domain.AgentRow, error)
	FindIDsByPattern(ctx context.Context, pattern string) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

type ActionTable interface {
	Create(ctx context.Context, row domain.ActionRow) (domain.ActionRow, error)
	CreateMany(ctx context.Context, rows []domain.ActionRow, batchSize int) error
	GetByID(ctx context.Context, id string) (domain.ActionRow, error)
	GetAll(ctx context.Context, params RangeParams) ([]domain.ActionRow, error)
	Find(ctx context.Context, filter ActionFilter, params RangeParams) ([]domain.ActionRow, error)
	Count(ctx context.Context) (int64, error)
}

type LogTable interface {
	Create(ctx context.Context, row domain.LogRow) (domain.LogRow, error)
	CreateMany(ctx context.Context, rows []domain.LogRow, batchSize int) error
	GetByID(ctx context.Context, id string) (domain.LogRow, error)
	GetAll(ctx context.Context, params RangeParams) ([]domain.LogRow, error)
	Find(ctx context.Context, filter LogFilter, params RangeParams) ([]domain.LogRow, error)
	Count(ctx context.Context) (int64, error)
}

// Database groups the three experiment tables of one backend.
type Database interface {
	Agents() AgentTable
	Actions() ActionTable
	Logs() LogTable
	Close()
}

// Snapshot is the full content of an experiment, in index order.
type Snapshot struct {
	Agents  []domain.AgentRow
	Actions []domain.ActionRow
	Logs    []domain.LogRow
}

// Load reads every table of db. Reads are batched so very large
// experiments do not hit backend row limits.
func Load(ctx context.Context, db Database) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.Agents, err = readAll(ctx, db.Agents().GetAll); err != nil {
		return Snapshot{}, err
	}
	if snap.Actions, err = readAll(ctx, db.Actions().GetAll); err != nil {
		return Snapshot{}, err
	}
	if snap.Logs, err = readAll(ctx, db.Logs().GetAll); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func readAll[T any](ctx context.Context, get func(context.Context, RangeParams) ([]T, error)) ([]T, error) {
	out := make([]T, 0, DefaultBatchSize)
	offset := 0
	for {
		batch, err := get(ctx, RangeParams{Limit: DefaultBatchSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < DefaultBatchSize {
			return out, nil
		}
		offset += len(batch)
	}
}
