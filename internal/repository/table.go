// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adiadia/agent-marketplace/internal/store"
)

type rowFields struct {
	id        string
	createdAt time.Time
	data      []byte
	embedding []byte
	index     int64
}

type rowCodec[T any] struct {
	table        string
	hasEmbedding bool
	encode       func(T) (rowFields, error)
	decode       func(rowFields) (T, error)
}

// table holds the queries common to agents, actions and logs.
type table[T any] struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	codec  rowCodec[T]
}

func (t *table[T]) columns() string {
	if t.codec.hasEmbedding {
		return "row_index, id, created_at, data, agent_embedding"
	}
	return "row_index, id, created_at, data"
}

func (t *table[T]) prepare(row T) (rowFields, error) {
	f, err := t.codec.encode(row)
	if err != nil {
		return rowFields{}, fmt.Errorf("encode %s row: %w", t.codec.table, err)
	}
	if f.id == "" {
		f.id = uuid.NewString()
	}
	if f.createdAt.IsZero() {
		f.createdAt = time.Now().UTC()
	}
	return f, nil
}

func (t *table[T]) insertSQL(withIndex bool) (string, int) {
	cols := "id, created_at, data"
	n := 3
	if t.codec.hasEmbedding {
		cols += ", agent_embedding"
		n++
	}
	if withIndex {
		cols += ", row_index"
		n++
	}
	placeholders := make([]string, n)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING row_index",
		t.codec.table, cols, strings.Join(placeholders, ", ")), n
}

func (t *table[T]) insertArgs(f rowFields, withIndex bool) []any {
	args := []any{f.id, f.createdAt, f.data}
	if t.codec.hasEmbedding {
		args = append(args, f.embedding)
	}
	if withIndex {
		args = append(args, f.index)
	}
	return args
}

func (t *table[T]) create(ctx context.Context, q pgx.Tx, row T) (T, error) {
	f, err := t.prepare(row)
	if err != nil {
		var zero T
		return zero, err
	}
	query, _ := t.insertSQL(false)
	if err := q.QueryRow(ctx, query, t.insertArgs(f, false)...).Scan(&f.index); err != nil {
		var zero T
		return zero, classify(err)
	}
	return t.codec.decode(f)
}

// Create inserts one row in its own transaction.
func (t *table[T]) Create(ctx context.Context, row T) (T, error) {
	var out T
	err := t.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = t.create(ctx, tx, row)
		return err
	})
	if err != nil {
		t.logger.Error("insert row failed", "table", t.codec.table, "error", err)
	}
	return out, err
}

func (t *table[T]) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	conn, err := acquire(ctx, t.pool)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return classify(tx.Commit(ctx))
}

// CreateMany inserts rows in batches, keeping ids and any preset index.
func (t *table[T]) CreateMany(ctx context.Context, rows []T, batchSize int) error {
	if batchSize <= 0 {
		batchSize = store.DefaultBatchSize
	}

	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		presetIndex := false

		err := t.withTx(ctx, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for _, row := range rows[start:end] {
				f, err := t.prepare(row)
				if err != nil {
					return err
				}
				withIndex := f.index > 0
				presetIndex = presetIndex || withIndex
				query, _ := t.insertSQL(withIndex)
				batch.Queue(query, t.insertArgs(f, withIndex)...)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return classify(err)
			}
			if presetIndex {
				_, err := tx.Exec(ctx, fmt.Sprintf(
					`SELECT setval(pg_get_serial_sequence('%s', 'row_index'), (SELECT COALESCE(MAX(row_index), 1) FROM %s))`,
					t.codec.table, t.codec.table))
				return classify(err)
			}
			return nil
		})
		if err != nil {
			t.logger.Error("batch insert failed", "table", t.codec.table, "offset", start, "error", err)
			return err
		}
	}
	return nil
}

func (t *table[T]) GetByID(ctx context.Context, id string) (T, error) {
	var f rowFields
	dest := []any{&f.index, &f.id, &f.createdAt, &f.data}
	if t.codec.hasEmbedding {
		dest = append(dest, &f.embedding)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", t.columns(), t.codec.table)
	if err := t.pool.QueryRow(ctx, query, id).Scan(dest...); err != nil {
		var zero T
		return zero, classify(err)
	}
	return t.codec.decode(f)
}

func (t *table[T]) GetAll(ctx context.Context, params store.RangeParams) ([]T, error) {
	return t.find(ctx, &where{}, params)
}

func (t *table[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := t.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+t.codec.table).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (t *table[T]) find(ctx context.Context, w *where, params store.RangeParams) ([]T, error) {
	if params.AfterIndex != nil {
		w.add("row_index > %s", *params.AfterIndex)
	}
	if params.After != nil {
		w.add("created_at > %s", *params.After)
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY row_index ASC", t.columns(), t.codec.table, w.sql())
	if params.Limit > 0 {
		query += " LIMIT " + w.arg(params.Limit)
	}
	if params.Offset > 0 {
		query += " OFFSET " + w.arg(params.Offset)
	}

	rows, err := t.pool.Query(ctx, query, w.args...)
	if err != nil {
		t.logger.Error("range query failed", "table", t.codec.table, "error", err)
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]T, 0, 8)
	for rows.Next() {
		var f rowFields
		dest := []any{&f.index, &f.id, &f.createdAt, &f.data}
		if t.codec.hasEmbedding {
			dest = append(dest, &f.embedding)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(err)
		}
		row, err := t.codec.decode(f)
		if err != nil {
			return nil, fmt.Errorf("decode %s row %s: %w", t.codec.table, f.id, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// where collects clauses with numbered placeholders.
type where struct {
	clauses []string
	args    []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

// add formats clause with the placeholder for v.
func (w *where) add(clause string, v any) {
	w.clauses = append(w.clauses, fmt.Sprintf(clause, w.arg(v)))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// jsonText matches the expressions used by the functional indexes.
func jsonText(path ...string) string {
	quoted := make([]string, len(path))
	for i, p := range path {
		quoted[i] = `"` + p + `"`
	}
	return fmt.Sprintf(`(jsonb_path_query_first(data, '$.%s'::jsonpath) #>> '{}')`, strings.Join(quoted, "."))
}

func decodeJSON[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
