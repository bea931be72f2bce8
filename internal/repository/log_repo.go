// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
)

type LogRepository struct {
	*table[domain.LogRow]
}

func NewLogRepository(pool *pgxpool.Pool, logger *slog.Logger) *LogRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogRepository{
		table: &table[domain.LogRow]{
			pool:   pool,
			logger: logger,
			codec: rowCodec[domain.LogRow]{
				table: "logs",
				encode: func(r domain.LogRow) (rowFields, error) {
					data, err := json.Marshal(r.Data)
					return rowFields{id: r.ID, createdAt: r.CreatedAt, data: data, index: r.Index}, err
				},
				decode: func(f rowFields) (domain.LogRow, error) {
					data, err := decodeJSON[domain.Log](f.data)
					return domain.LogRow{ID: f.id, CreatedAt: f.createdAt, Data: data, Index: f.index}, err
				},
			},
		},
	}
}

func (r *LogRepository) Find(ctx context.Context, filter store.LogFilter, params store.RangeParams) ([]domain.LogRow, error) {
	w := &where{}
	if filter.AgentID != "" {
		w.add(jsonText("metadata", "agent_id")+" = %s", filter.AgentID)
	}
	if filter.Type != "" {
		w.add("data->'data'->>'type' = %s", filter.Type)
	}
	if filter.Level != "" {
		w.add("data->>'level' = %s", string(filter.Level))
	}
	if filter.Name != "" {
		w.add("data->>'name' = %s", filter.Name)
	}
	return r.find(ctx, w, params)
}
