// SPDX-License-Identifier: Apache-2.0

// Package logqueue decouples agent log writes from the agent loop. Records
// go into a bounded buffer and a fixed set of writers append them to the
// logs table.
package logqueue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/metrics"
)

var ErrQueueClosed = errors.New("log queue closed")

const (
	DefaultCapacity = 1024
	DefaultWriters  = 4

	writeTimeout = 10 * time.Second
	retryDelay   = 100 * time.Millisecond
	drainPoll    = 10 * time.Millisecond
)

// Writer is the slice of the logs table the queue needs.
type Writer interface {
	Create(ctx context.Context, row domain.LogRow) (domain.LogRow, error)
}

type Options struct {
	Capacity int
	Writers  int
	Logger   *slog.Logger
}

type Queue struct {
	logs   Writer
	logger *slog.Logger
	ch     chan domain.LogRow
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	pending int
	pmu     sync.Mutex
}

// New starts the writers. Close must be called to stop them.
func New(logs Writer, opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Writers <= 0 {
		opts.Writers = DefaultWriters
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	q := &Queue{
		logs:   logs,
		logger: opts.Logger,
		ch:     make(chan domain.LogRow, opts.Capacity),
	}
	for i := 0; i < opts.Writers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	return q
}

// Enqueue blocks until the record fits in the buffer or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, log domain.Log) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	row := newRow(log)
	q.addPending(1)
	select {
	case q.ch <- row:
		metrics.SetLogQueueDepth(len(q.ch))
		return nil
	case <-ctx.Done():
		q.addPending(-1)
		return ctx.Err()
	}
}

// TryEnqueue never blocks. It reports false when the record was dropped.
func (q *Queue) TryEnqueue(log domain.Log) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}

	q.addPending(1)
	select {
	case q.ch <- newRow(log):
		return true
	default:
		q.addPending(-1)
		metrics.IncLogWriteFailed()
		return false
	}
}

// RecordLLMCall stores one language model call as a log record.
func (q *Queue) RecordLLMCall(ctx context.Context, agentID string, call domain.LLMCallLog) {
	data, err := json.Marshal(call)
	if err != nil {
		q.logger.Error("encode llm call", "agent_id", agentID, "err", err)
		return
	}
	level := domain.LogInfo
	if !call.Success {
		level = domain.LogError
	}
	err = q.Enqueue(ctx, domain.Log{
		Level:    level,
		Name:     agentID,
		Data:     data,
		Metadata: map[string]any{"agent_id": agentID},
	})
	if err != nil {
		q.logger.Warn("llm call log dropped", "agent_id", agentID, "err", err)
	}
}

// Pending reports records accepted but not yet written.
func (q *Queue) Pending() int {
	q.pmu.Lock()
	defer q.pmu.Unlock()
	return q.pending
}

// Drain waits until every accepted record has been written or dropped.
func (q *Queue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for q.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops intake, writes what is buffered and stops the writers.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		q.logger.Warn("log queue closed before drain", "pending", q.Pending())
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for row := range q.ch {
		metrics.SetLogQueueDepth(len(q.ch))
		q.write(row)
		q.addPending(-1)
	}
}

func (q *Queue) write(row domain.LogRow) {
	for attempt := 1; attempt <= 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		_, err := q.logs.Create(ctx, row)
		cancel()
		if err == nil {
			return
		}
		if attempt == 2 {
			metrics.IncLogWriteFailed()
			q.logger.Error("log write failed",
				"log_id", row.ID,
				"agent_id", row.Data.AgentID(),
				"err", err,
			)
			return
		}
		time.Sleep(retryDelay)
	}
}

func (q *Queue) addPending(n int) {
	q.pmu.Lock()
	q.pending += n
	q.pmu.Unlock()
}

func newRow(log domain.Log) domain.LogRow {
	return domain.LogRow{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Data:      log,
	}
}
