// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adiadia/agent-marketplace/internal/auth"
	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/metrics"
	"github.com/adiadia/agent-marketplace/internal/store"
	"github.com/adiadia/agent-marketplace/internal/transport/middleware"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
	maxBodyBytes     = 1 << 20
	streamInterval   = 500 * time.Millisecond
)

type registerResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

type Deps struct {
	Executor ActionExecutor
	Agents   AgentRegistry
	Logs     LogWriter
	Messages MessageFetcher
	Tokens   TokenIssuer
	Health   HealthChecker
	// Limiter is optional. Nil disables per-agent rate limiting.
	Limiter *middleware.AgentLimiter
	Logger  *slog.Logger
	// Experiment names the served experiment in operator challenges.
	Experiment string
	AdminToken string
	Version    string
	Commit     string
	BuildDate  string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	if deps.Tokens == nil {
		deps.Tokens = auth.NewTokenStore()
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- AGENTS ----------------

	r.Route("/agents", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminTokenAuth(deps.Experiment, deps.AdminToken, logger))

			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var profile domain.AgentProfile
				if err := decodeBody(r, &profile); err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}
				if err := profile.Validate(); err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}

				row, err := deps.Agents.Create(r.Context(), domain.AgentRow{ID: profile.ID, Data: profile})
				if err != nil {
					if errors.Is(err, domain.ErrDuplicateID) {
						http.Error(w, "agent already registered", http.StatusConflict)
						return
					}
					writeStoreError(w, logger, "register agent failed", err, "agent_id", profile.ID)
					return
				}

				logger.Info("agent registered", "agent_id", row.ID, "kind", row.Data.Kind)
				writeJSON(w, http.StatusCreated, registerResponse{ID: row.ID, Token: deps.Tokens.Issue(row.ID)})
			})
		})

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			params, limit, err := pageParams(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			rows, err := deps.Agents.GetAll(r.Context(), params)
			if err != nil {
				writeStoreError(w, logger, "list agents failed", err)
				return
			}
			rows, hasMore := trimPage(rows, limit)
			writeJSON(w, http.StatusOK, map[string]any{
				"agents":   rows,
				"has_more": hasMore,
			})
		})

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			row, err := deps.Agents.GetByID(r.Context(), id)
			if err != nil {
				writeStoreError(w, logger, "get agent failed", err, "agent_id", id)
				return
			}
			writeJSON(w, http.StatusOK, row)
		})

		// ---------------- STREAM MESSAGES (SSE) ----------------

		r.With(middleware.AgentTokenAuth(deps.Tokens, nil, logger)).
			Get("/{id}/messages/stream", func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				if caller, _ := auth.AgentIDFromContext(r.Context()); caller != id {
					http.Error(w, "agents may only stream their own messages", http.StatusForbidden)
					return
				}
				streamMessages(w, r, deps.Messages, id, logger)
			})
	})

	// ---------------- PROTOCOL ----------------

	r.Get("/actions/protocol", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"actions": deps.Executor.Actions(),
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AgentTokenAuth(deps.Tokens, deps.Limiter, logger))

		r.Post("/actions", func(w http.ResponseWriter, r *http.Request) {
			agentID, _ := auth.AgentIDFromContext(r.Context())

			raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			action, err := domain.DecodeAction(raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			result, err := deps.Executor.Execute(r.Context(), agentID, action)
			if err != nil {
				writeStoreError(w, logger, "execute action failed", err,
					"agent_id", agentID,
					"action", action.RequestName(),
				)
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		// ---------------- LOGS ----------------

		r.Post("/logs", func(w http.ResponseWriter, r *http.Request) {
			agentID, _ := auth.AgentIDFromContext(r.Context())

			var row domain.LogRow
			if err := decodeBody(r, &row); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			switch claimed := row.Data.AgentID(); {
			case claimed == "":
				if row.Data.Metadata == nil {
					row.Data.Metadata = map[string]any{}
				}
				row.Data.Metadata["agent_id"] = agentID
			case claimed != agentID:
				http.Error(w, "agents may only write their own logs", http.StatusForbidden)
				return
			}
			row.Index = 0

			created, err := deps.Logs.Create(r.Context(), row)
			if err != nil {
				if errors.Is(err, domain.ErrDuplicateID) {
					http.Error(w, "log already recorded", http.StatusConflict)
					return
				}
				writeStoreError(w, logger, "write log failed", err, "agent_id", agentID)
				return
			}
			writeJSON(w, http.StatusCreated, created)
		})
	})

	r.Get("/logs", func(w http.ResponseWriter, r *http.Request) {
		params, limit, err := pageParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rows, err := deps.Logs.GetAll(r.Context(), params)
		if err != nil {
			writeStoreError(w, logger, "list logs failed", err)
			return
		}
		rows, hasMore := trimPage(rows, limit)
		writeJSON(w, http.StatusOK, map[string]any{
			"logs":     rows,
			"has_more": hasMore,
		})
	})

	return r
}

func streamMessages(w http.ResponseWriter, r *http.Request, fetcher MessageFetcher, agentID string, logger *slog.Logger) {
	var cursor *int64
	if since := strings.TrimSpace(r.URL.Query().Get("since_index")); since != "" {
		idx, err := strconv.ParseInt(since, 10, 64)
		if err != nil || idx < 0 {
			http.Error(w, "invalid since_index", http.StatusBadRequest)
			return
		}
		cursor = &idx
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeMessages := func() error {
		resp, err := fetcher.Fetch(r.Context(), agentID, domain.FetchMessages{AfterIndex: cursor})
		if err != nil {
			return err
		}
		for _, msg := range resp.Messages {
			payload, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", msg.Index, payload); err != nil {
				return err
			}
			flusher.Flush()
			idx := msg.Index
			cursor = &idx
		}
		return nil
	}

	if err := writeMessages(); err != nil {
		logger.Error("sse initial write failed", "agent_id", agentID, "error", err)
		return
	}

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := writeMessages(); err != nil {
				if r.Context().Err() == nil {
					logger.Error("sse write failed", "agent_id", agentID, "error", err)
				}
				return
			}
		}
	}
}

// writeStoreError maps storage failures to status codes. Too-busy stores
// are retryable and advertise it with Retry-After.
func writeStoreError(w http.ResponseWriter, logger *slog.Logger, msg string, err error, attrs ...any) {
	switch {
	case errors.Is(err, domain.ErrTooBusy):
		metrics.IncTooBusy()
		w.Header().Set("Retry-After", "1")
		http.Error(w, "database too busy", http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, pgx.ErrNoRows), errors.Is(err, sql.ErrNoRows):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidAction), errors.Is(err, domain.ErrUnknownActionType), errors.Is(err, domain.ErrUnknownMessageType):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error(msg, append(attrs, "error", err)...)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return errors.New("request body is required")
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

// pageParams reads offset and limit. One extra row is requested so the
// response can report has_more.
func pageParams(r *http.Request) (store.RangeParams, int, error) {
	q := r.URL.Query()
	limit := defaultPageLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return store.RangeParams{}, 0, errors.New("invalid limit")
		}
		limit = min(n, maxPageLimit)
	}

	offset := 0
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return store.RangeParams{}, 0, errors.New("invalid offset")
		}
		offset = n
	}

	return store.RangeParams{Limit: limit + 1, Offset: offset}, limit, nil
}

func trimPage[T any](rows []T, limit int) ([]T, bool) {
	if len(rows) > limit {
		return rows[:limit], true
	}
	if rows == nil {
		rows = []T{}
	}
	return rows, false
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
