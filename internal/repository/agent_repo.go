// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

type AgentRepository struct {
	*table[domain.AgentRow]
}

func NewAgentRepository(pool *pgxpool.Pool, logger *slog.Logger) *AgentRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &AgentRepository{
		table: &table[domain.AgentRow]{
			pool:   pool,
			logger: logger,
			codec: rowCodec[domain.AgentRow]{
				table:        "agents",
				hasEmbedding: true,
				encode: func(r domain.AgentRow) (rowFields, error) {
					data, err := json.Marshal(r.Data)
					return rowFields{id: r.ID, createdAt: r.CreatedAt, data: data, embedding: r.AgentEmbedding, index: r.Index}, err
				},
				decode: func(f rowFields) (domain.AgentRow, error) {
					data, err := decodeJSON[domain.AgentProfile](f.data)
					return domain.AgentRow{ID: f.id, CreatedAt: f.createdAt, Data: data, AgentEmbedding: f.embedding, Index: f.index}, err
				},
			},
		},
	}
}

func (r *AgentRepository) FindIDsByPattern(ctx context.Context, pattern string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM agents WHERE id LIKE $1 ORDER BY row_index ASC`, pattern)
	if err != nil {
		r.logger.Error("find agent ids failed", "pattern", pattern, "error", err)
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify(err)
		}
		out = append(out, id)
	}
	return out, classify(rows.Err())
}
