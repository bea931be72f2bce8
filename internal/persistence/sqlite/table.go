// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
)

type rowFields struct {
	id        string
	createdAt time.Time
	data      []byte
	embedding []byte
	index     int64
}

type codec[T any] struct {
	table        string
	hasEmbedding bool
	encode       func(T) (rowFields, error)
	decode       func(rowFields) (T, error)
	withID       func(row T, id string, at time.Time, index int64) T
}

// table implements the operations shared by all three tables.
type table[T any] struct {
	db    *DB
	codec codec[T]
}

func newTable[T any](db *DB, c codec[T]) *table[T] {
	return &table[T]{db: db, codec: c}
}

func (t *table[T]) columns() string {
	if t.codec.hasEmbedding {
		return "row_index, id, created_at, data, agent_embedding"
	}
	return "row_index, id, created_at, data"
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insert writes one row. An index of zero lets SQLite assign the next one.
func (t *table[T]) insert(ctx context.Context, ex execer, f rowFields) (int64, error) {
	var index any
	if f.index > 0 {
		index = f.index
	}
	args := []any{index, f.id, f.createdAt.UTC().Format(timeLayout), string(f.data)}
	placeholders := "?, ?, ?, ?"
	if t.codec.hasEmbedding {
		args = append(args, f.embedding)
		placeholders += ", ?"
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.codec.table, t.columns(), placeholders)
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify(err)
	}
	return res.LastInsertId()
}

func (t *table[T]) prepare(row T) (rowFields, T, error) {
	f, err := t.codec.encode(row)
	if err != nil {
		return rowFields{}, row, fmt.Errorf("encode %s row: %w", t.codec.table, err)
	}
	if f.id == "" {
		f.id = uuid.NewString()
	}
	if f.createdAt.IsZero() {
		f.createdAt = time.Now().UTC()
	}
	return f, t.codec.withID(row, f.id, f.createdAt, f.index), nil
}

func (t *table[T]) Create(ctx context.Context, row T) (T, error) {
	f, out, err := t.prepare(row)
	if err != nil {
		return out, err
	}
	f.index = 0

	index, err := t.insert(ctx, t.db.db, f)
	if err != nil {
		t.db.logger.Error("sqlite insert failed", "table", t.codec.table, "id", f.id, "error", err)
		return out, err
	}
	return t.codec.withID(out, f.id, f.createdAt, index), nil
}

// CreateMany inserts rows in order, one transaction per batch. Rows that
// carry an index keep it.
func (t *table[T]) CreateMany(ctx context.Context, rows []T, batchSize int) error {
	if batchSize <= 0 {
		batchSize = store.DefaultBatchSize
	}

	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))

		tx, err := t.db.db.BeginTx(ctx, nil)
		if err != nil {
			return classify(err)
		}
		for _, row := range rows[start:end] {
			f, _, err := t.prepare(row)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			if _, err := t.insert(ctx, tx, f); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("insert %s row %s: %w", t.codec.table, f.id, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *table[T]) GetByID(ctx context.Context, id string) (T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", t.columns(), t.codec.table)
	rows, err := t.query(ctx, query, id)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(rows) == 0 {
		var zero T
		return zero, fmt.Errorf("%s %s: %w", t.codec.table, id, domain.ErrNotFound)
	}
	return rows[0], nil
}

func (t *table[T]) GetAll(ctx context.Context, params store.RangeParams) ([]T, error) {
	w := where{}
	return t.find(ctx, w, params)
}

func (t *table[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", t.codec.table)
	if err := t.db.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (t *table[T]) find(ctx context.Context, w where, params store.RangeParams) ([]T, error) {
	if params.AfterIndex != nil {
		w.add("row_index > ?", *params.AfterIndex)
	}
	if params.After != nil {
		w.add("created_at > ?", params.After.UTC().Format(timeLayout))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s ORDER BY row_index ASC", t.columns(), t.codec.table, w.sql())
	args := w.args
	switch {
	case params.Limit > 0:
		b.WriteString(" LIMIT ?")
		args = append(args, params.Limit)
	case params.Offset > 0:
		b.WriteString(" LIMIT -1")
	}
	if params.Offset > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, params.Offset)
	}
	return t.query(ctx, b.String(), args...)
}

func (t *table[T]) query(ctx context.Context, query string, args ...any) ([]T, error) {
	rows, err := t.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]T, 0, 8)
	for rows.Next() {
		var (
			f         rowFields
			createdAt string
			data      string
		)
		dest := []any{&f.index, &f.id, &createdAt, &data}
		if t.codec.hasEmbedding {
			dest = append(dest, &f.embedding)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(err)
		}
		if f.createdAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", f.id, err)
		}
		f.data = []byte(data)

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

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

type agentTable struct {
	*table[domain.AgentRow]
}

func (a *agentTable) FindIDsByPattern(ctx context.Context, pattern string) ([]string, error) {
	rows, err := a.db.db.QueryContext(ctx, "SELECT id FROM agents WHERE id LIKE ? ORDER BY row_index ASC", pattern)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

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

type actionTable struct {
	*table[domain.ActionRow]
}

func (a *actionTable) Find(ctx context.Context, filter store.ActionFilter, params store.RangeParams) ([]domain.ActionRow, error) {
	w := where{}
	if filter.Name != "" {
		w.add("json_extract(data, '$.request.name') = ?", filter.Name)
	}
	if filter.AgentID != "" {
		w.add("json_extract(data, '$.agent_id') = ?", filter.AgentID)
	}
	if filter.ToAgentID != "" {
		w.add("json_extract(data, '$.request.parameters.to_agent_id') = ?", filter.ToAgentID)
	}
	if filter.FromAgentID != "" {
		w.add("json_extract(data, '$.request.parameters.from_agent_id') = ?", filter.FromAgentID)
	}
	if filter.MessageType != "" {
		w.add("json_extract(data, '$.request.parameters.message.type') = ?", string(filter.MessageType))
	}
	if filter.ProposalID != "" {
		w.add("json_extract(data, '$.request.parameters.message.type') = ?", string(domain.MessageOrderProposal))
		w.add("json_extract(data, '$.request.parameters.message.id') = ?", filter.ProposalID)
	}
	if filter.PaidProposalID != "" {
		w.add("json_extract(data, '$.request.parameters.message.type') = ?", string(domain.MessagePayment))
		w.add("json_extract(data, '$.request.parameters.message.proposal_message_id') = ?", filter.PaidProposalID)
	}
	if filter.IsError != nil {
		isError := 0
		if *filter.IsError {
			isError = 1
		}
		w.add("json_extract(data, '$.result.is_error') = ?", isError)
	}
	return a.find(ctx, w, params)
}

type logTable struct {
	*table[domain.LogRow]
}

func (l *logTable) Find(ctx context.Context, filter store.LogFilter, params store.RangeParams) ([]domain.LogRow, error) {
	w := where{}
	if filter.AgentID != "" {
		w.add("json_extract(data, '$.metadata.agent_id') = ?", filter.AgentID)
	}
	if filter.Type != "" {
		w.add("json_extract(data, '$.data.type') = ?", filter.Type)
	}
	if filter.Level != "" {
		w.add("json_extract(data, '$.level') = ?", string(filter.Level))
	}
	if filter.Name != "" {
		w.add("json_extract(data, '$.name') = ?", filter.Name)
	}
	return l.find(ctx, w, params)
}
