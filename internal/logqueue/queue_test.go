// SPDX-License-Identifier: Apache-2.0

package logqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

type memLogs struct {
	mu       sync.Mutex
	rows     []domain.LogRow
	failures int
	block    chan struct{}
}

func (m *memLogs) Create(_ context.Context, row domain.LogRow) (domain.LogRow, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return domain.LogRow{}, errors.New("transient")
	}
	row.Index = int64(len(m.rows) + 1)
	m.rows = append(m.rows, row)
	return row, nil
}

func (m *memLogs) snapshot() []domain.LogRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LogRow(nil), m.rows...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestQueueWritesEverythingBeforeClose(t *testing.T) {
	logs := &memLogs{}
	q := New(logs, Options{Capacity: 8, Writers: 3, Logger: quietLogger()})

	for i := 0; i < 50; i++ {
		require.NoError(t, q.Enqueue(context.Background(), domain.Log{Level: domain.LogInfo, Name: "a"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	assert.Len(t, logs.snapshot(), 50)
	assert.Equal(t, 0, q.Pending())

	require.NoError(t, q.Close(ctx))
	assert.ErrorIs(t, q.Enqueue(context.Background(), domain.Log{}), ErrQueueClosed)
	assert.False(t, q.TryEnqueue(domain.Log{}))
}

func TestQueueRetriesOnce(t *testing.T) {
	logs := &memLogs{failures: 1}
	q := New(logs, Options{Writers: 1, Logger: quietLogger()})

	require.NoError(t, q.Enqueue(context.Background(), domain.Log{Level: domain.LogInfo, Name: "a"}))
	require.NoError(t, q.Close(context.Background()))
	assert.Len(t, logs.snapshot(), 1)
}

func TestEnqueueRespectsContextWhenFull(t *testing.T) {
	logs := &memLogs{block: make(chan struct{})}
	q := New(logs, Options{Capacity: 1, Writers: 1, Logger: quietLogger()})

	// One record held by the writer, one filling the buffer.
	require.NoError(t, q.Enqueue(context.Background(), domain.Log{Name: "1"}))
	require.Eventually(t, func() bool { return len(q.ch) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), domain.Log{Name: "2"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, domain.Log{Name: "3"}), context.DeadlineExceeded)
	assert.False(t, q.TryEnqueue(domain.Log{Name: "4"}))

	close(logs.block)
	require.NoError(t, q.Close(context.Background()))
	assert.Len(t, logs.snapshot(), 2)
}

func TestRecordLLMCallTagsAgent(t *testing.T) {
	logs := &memLogs{}
	q := New(logs, Options{Logger: quietLogger()})

	q.RecordLLMCall(context.Background(), "customer-7", domain.LLMCallLog{
		Type:     domain.LLMCallType,
		Prompt:   json.RawMessage(`"hi"`),
		Provider: "mock",
		Success:  false,
	})
	require.NoError(t, q.Close(context.Background()))

	rows := logs.snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, "customer-7", rows[0].Data.AgentID())
	assert.Equal(t, domain.LogError, rows[0].Data.Level)
	call, ok := domain.DecodeLLMCall(rows[0].Data)
	require.True(t, ok)
	assert.Equal(t, "mock", call.Provider)
}

func TestHandlerTeesRecordsAtLevel(t *testing.T) {
	logs := &memLogs{}
	q := New(logs, Options{Logger: quietLogger()})

	var out bytes.Buffer
	base := slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewHandler(base, q, slog.LevelInfo)).With("logger", "business-3", "agent_id", "business-3")

	logger.Debug("not persisted")
	logger.Warn("payment mismatch", "proposal_id", "p-1", "err", errors.New("boom"))
	require.NoError(t, q.Close(context.Background()))

	assert.Contains(t, out.String(), "not persisted")
	rows := logs.snapshot()
	require.Len(t, rows, 1)
	got := rows[0].Data
	assert.Equal(t, domain.LogWarning, got.Level)
	assert.Equal(t, "business-3", got.Name)
	assert.Equal(t, "payment mismatch", got.Message)
	assert.Equal(t, "business-3", got.AgentID())

	var data map[string]any
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, "p-1", data["proposal_id"])
	assert.Equal(t, "boom", data["err"])
}
