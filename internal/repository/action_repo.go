// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
)

// ActionRepository is the action log of one experiment schema.
type ActionRepository struct {
	*table[domain.ActionRow]
	lockKey int64
}

func NewActionRepository(pool *pgxpool.Pool, schema string, logger *slog.Logger) *ActionRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &ActionRepository{
		table: &table[domain.ActionRow]{
			pool:   pool,
			logger: logger,
			codec: rowCodec[domain.ActionRow]{
				table: "actions",
				encode: func(r domain.ActionRow) (rowFields, error) {
					data, err := json.Marshal(r.Data)
					return rowFields{id: r.ID, createdAt: r.CreatedAt, data: data, index: r.Index}, err
				},
				decode: func(f rowFields) (domain.ActionRow, error) {
					data, err := decodeJSON[domain.ActionRowData](f.data)
					return domain.ActionRow{ID: f.id, CreatedAt: f.createdAt, Data: data, Index: f.index}, err
				},
			},
		},
		lockKey: appendLockKey(schema),
	}
}

// appendLockKey derives the advisory lock that serializes appends to one
// experiment's action log.
func appendLockKey(schema string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("actions:" + schema))
	return int64(h.Sum64())
}

// Create appends an action. The transaction holds an advisory lock from
// before the sequence value is drawn until commit, so row_index order is
// commit order and a reader never sees index N before N-1.
func (r *ActionRepository) Create(ctx context.Context, row domain.ActionRow) (domain.ActionRow, error) {
	var out domain.ActionRow
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, r.lockKey); err != nil {
			return classify(err)
		}
		var err error
		out, err = r.create(ctx, tx, row)
		return err
	})
	if err != nil {
		r.logger.Error("append action failed", "agent_id", row.Data.AgentID, "request", row.Data.Request.Name, "error", err)
		return domain.ActionRow{}, err
	}
	return out, nil
}

func (r *ActionRepository) Find(ctx context.Context, filter store.ActionFilter, params store.RangeParams) ([]domain.ActionRow, error) {
	w := &where{}
	if filter.Name != "" {
		w.add(jsonText("request", "name")+" = %s", filter.Name)
	}
	if filter.AgentID != "" {
		w.add("data->>'agent_id' = %s", filter.AgentID)
	}
	if filter.ToAgentID != "" {
		w.add(jsonText("request", "parameters", "to_agent_id")+" = %s", filter.ToAgentID)
	}
	if filter.FromAgentID != "" {
		w.add(jsonText("request", "parameters", "from_agent_id")+" = %s", filter.FromAgentID)
	}
	if filter.MessageType != "" {
		w.add("data->'request'->'parameters'->'message'->>'type' = %s", string(filter.MessageType))
	}
	if filter.ProposalID != "" {
		w.add("data->'request'->'parameters'->'message'->>'type' = %s", string(domain.MessageOrderProposal))
		w.add("data->'request'->'parameters'->'message'->>'id' = %s", filter.ProposalID)
	}
	if filter.PaidProposalID != "" {
		w.add("data->'request'->'parameters'->'message'->>'type' = %s", string(domain.MessagePayment))
		w.add("data->'request'->'parameters'->'message'->>'proposal_message_id' = %s", filter.PaidProposalID)
	}
	if filter.IsError != nil {
		w.add("COALESCE((data->'result'->>'is_error')::boolean, false) = %s", *filter.IsError)
	}
	return r.find(ctx, w, params)
}
