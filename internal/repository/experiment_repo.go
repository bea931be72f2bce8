// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ExperimentSummary struct {
	Schema        string     `json:"schema"`
	FirstActivity *time.Time `json:"first_activity,omitempty"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
	Agents        int64      `json:"agents"`
	Actions       int64      `json:"actions"`
	Logs          int64      `json:"logs"`
	LLMProviders  []string   `json:"llm_providers"`
}

// ExperimentRepository lists experiment schemas across the database.
type ExperimentRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewExperimentRepository(pool *pgxpool.Pool, logger *slog.Logger) *ExperimentRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &ExperimentRepository{
		pool:   pool,
		logger: logger,
	}
}

// List returns schemas holding all three experiment tables, most recently
// started first. A limit of zero means no limit.
func (r *ExperimentRepository) List(ctx context.Context, limit int) ([]ExperimentSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT table_schema
		FROM information_schema.tables
		WHERE table_name IN ('agents', 'actions', 'logs')
		GROUP BY table_schema
		HAVING COUNT(DISTINCT table_name) = 3
	`)
	if err != nil {
		r.logger.Error("list experiment schemas failed", "error", err)
		return nil, classify(err)
	}
	schemas, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify(err)
	}

	out := make([]ExperimentSummary, 0, len(schemas))
	for _, schema := range schemas {
		summary, err := r.summarize(ctx, schema)
		if err != nil {
			r.logger.Warn("summarize experiment failed", "schema", schema, "error", err)
			continue
		}
		out = append(out, summary)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].FirstActivity, out[j].FirstActivity
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ExperimentRepository) summarize(ctx context.Context, schema string) (ExperimentSummary, error) {
	s := ExperimentSummary{Schema: schema}
	q := func(t string) string { return pgx.Identifier{schema, t}.Sanitize() }

	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			(SELECT COUNT(*) FROM %[1]s),
			(SELECT COUNT(*) FROM %[2]s),
			(SELECT COUNT(*) FROM %[3]s),
			(SELECT MIN(created_at) FROM (
				SELECT created_at FROM %[1]s UNION ALL
				SELECT created_at FROM %[2]s UNION ALL
				SELECT created_at FROM %[3]s) a),
			(SELECT MAX(created_at) FROM (
				SELECT created_at FROM %[1]s UNION ALL
				SELECT created_at FROM %[2]s UNION ALL
				SELECT created_at FROM %[3]s) b)
	`, q("agents"), q("actions"), q("logs"))).Scan(&s.Agents, &s.Actions, &s.Logs, &s.FirstActivity, &s.LastActivity)
	if err != nil {
		return s, classify(err)
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT data->'data'->>'provider'
		FROM %s
		WHERE data->'data'->>'type' = 'llm_call'
		  AND data->'data'->>'provider' IS NOT NULL
		ORDER BY 1
	`, q("logs")))
	if err != nil {
		return s, classify(err)
	}
	s.LLMProviders, err = pgx.CollectRows(rows, pgx.RowTo[string])
	return s, classify(err)
}
