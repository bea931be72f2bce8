// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adiadia/agent-marketplace/internal/auth"
	"github.com/adiadia/agent-marketplace/internal/metrics"
)

const headerRequestID = "X-Request-Id"

// quietRoutes are polled by health checks and scrapers and log at debug level.
var quietRoutes = map[string]bool{
	"/healthz": true,
	"/metrics": true,
	"/version": true,
}

// statusRecorder remembers the status and size of a response. Flush is
// forwarded so the message stream keeps working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(p)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Flush() {
	if flusher, ok := s.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func requestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get(headerRequestID))
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(headerRequestID, reqID)
			next.ServeHTTP(w, r.WithContext(auth.WithRequestID(r.Context(), reqID)))
		})
	}
}

// requestLoggingMiddleware logs one record per request and counts it by
// route pattern, so /agents/customer-1 and /agents/customer-2 share a
// series.
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := routePattern(r)
			metrics.IncHTTPRequest(route, rec.status)

			reqID, _ := auth.RequestIDFromContext(r.Context())
			attrs := []any{
				"request_id", reqID,
				"method", r.Method,
				"route", route,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if agentID, ok := auth.AgentIDFromContext(r.Context()); ok {
				attrs = append(attrs, "agent_id", agentID)
			}

			switch {
			case rec.status == http.StatusTooManyRequests || rec.status == http.StatusServiceUnavailable:
				logger.Warn("request completed", attrs...)
			case rec.status >= 500:
				logger.Error("request completed", attrs...)
			case quietRoutes[route]:
				logger.Debug("request completed", attrs...)
			default:
				logger.Info("request completed", attrs...)
			}
		})
	}
}

// routePattern is the matched chi pattern, or the raw path when the
// request did not go through a chi router.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
		return "unmatched"
	}
	return r.URL.Path
}
