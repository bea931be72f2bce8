// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/agent-marketplace/internal/auth"
)

const headerRateLimitLimit = "X-RateLimit-Limit"
const headerRateLimitRemaining = "X-RateLimit-Remaining"
const headerRetryAfter = "Retry-After"

type AgentResolver interface {
	ResolveAgent(ctx context.Context, bearerToken string) (string, bool, error)
}

// AgentTokenAuth resolves the acting agent from the bearer token and stores
// its id on the request context. A nil limiter disables rate limiting.
func AgentTokenAuth(resolver AgentResolver, limiter *AgentLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("middleware.AgentTokenAuth requires a resolver")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				logger.Warn("request blocked by agent token middleware",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid agent token", http.StatusUnauthorized)
				return
			}

			agentID, found, err := resolver.ResolveAgent(r.Context(), token)
			if err != nil {
				logger.Error("agent token resolution failed",
					"path", r.URL.Path,
					"error", err,
				)
				http.Error(w, "auth lookup failed", http.StatusInternalServerError)
				return
			}
			if !found {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid agent token", http.StatusUnauthorized)
				return
			}

			if limiter != nil {
				decision := limiter.Allow(agentID, time.Now())
				w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
				w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
				if !decision.Allowed {
					logger.Warn("agent rate limited", "agent_id", agentID, "retry_after", decision.RetryAfterSeconds)
					w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
					http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
					return
				}
			}

			// Outer middleware (request logging) reads agent_id after next returns.
			*r = *r.WithContext(auth.WithAgentID(r.Context(), agentID))
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	schemeToken := strings.SplitN(header, " ", 2)
	if len(schemeToken) != 2 {
		return "", false
	}
	if !strings.EqualFold(schemeToken[0], "Bearer") {
		return "", false
	}
	if schemeToken[1] == "" {
		return "", false
	}
	return schemeToken[1], true
}
