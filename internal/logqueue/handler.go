// SPDX-License-Identifier: Apache-2.0

package logqueue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

// Handler forwards records to next and copies those at or above level
// into the queue. The "logger" attribute names the record and "agent_id"
// tags it for per-agent queries.
type Handler struct {
	next  slog.Handler
	queue *Queue
	level slog.Level
	attrs []slog.Attr
}

func NewHandler(next slog.Handler, queue *Queue, level slog.Level) *Handler {
	return &Handler{next: next, queue: queue, level: level}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if r.Level < h.level {
		return err
	}

	fields := map[string]any{}
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Resolve().Any()
		return true
	})

	log := domain.Log{Level: levelOf(r.Level), Name: "marketplace", Message: r.Message}
	if name, ok := fields["logger"].(string); ok && name != "" {
		log.Name = name
		delete(fields, "logger")
	}
	if id, ok := fields["agent_id"].(string); ok && id != "" {
		log.Metadata = map[string]any{"agent_id": id}
	}
	for k, v := range fields {
		if e, ok := v.(error); ok {
			fields[k] = e.Error()
		}
	}
	if len(fields) > 0 {
		if data, mErr := json.Marshal(fields); mErr == nil {
			log.Data = data
		}
	}

	h.queue.TryEnqueue(log)
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.next = h.next.WithAttrs(attrs)
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

// WithGroup only affects the wrapped handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	next := *h
	next.next = h.next.WithGroup(name)
	return &next
}

func levelOf(l slog.Level) domain.LogLevel {
	switch {
	case l >= slog.LevelError:
		return domain.LogError
	case l >= slog.LevelWarn:
		return domain.LogWarning
	case l >= slog.LevelInfo:
		return domain.LogInfo
	default:
		return domain.LogDebug
	}
}
