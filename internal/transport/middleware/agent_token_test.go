// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adiadia/agent-marketplace/internal/auth"
)

type mockAgentResolver struct {
	agents map[string]string
	err    error
}

func (m *mockAgentResolver) ResolveAgent(_ context.Context, token string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	id, ok := m.agents[token]
	return id, ok, nil
}

func TestAgentTokenAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := &mockAgentResolver{agents: map[string]string{"tok-1": "customer-1"}}

	t.Run("rejects missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/actions", nil)
		rec := httptest.NewRecorder()

		AgentTokenAuth(resolver, nil, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Fatalf("expected WWW-Authenticate header %q got %q", "Bearer", got)
		}
	})

	t.Run("rejects unknown token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/actions", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()

		AgentTokenAuth(resolver, nil, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("returns 500 when resolver fails", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/actions", nil)
		req.Header.Set("Authorization", "Bearer tok-1")
		rec := httptest.NewRecorder()

		AgentTokenAuth(&mockAgentResolver{err: errors.New("boom")}, nil, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d got %d", http.StatusInternalServerError, rec.Code)
		}
	})

	t.Run("stores agent id on context and on the request pointer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/actions", nil)
		req.Header.Set("Authorization", "Bearer tok-1")
		rec := httptest.NewRecorder()

		var seen string
		AgentTokenAuth(resolver, nil, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = auth.AgentIDFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
		if seen != "customer-1" {
			t.Fatalf("expected customer-1 in handler, got %q", seen)
		}
		if id, _ := auth.AgentIDFromContext(req.Context()); id != "customer-1" {
			t.Fatalf("expected outer request to carry agent id, got %q", id)
		}
	})

	t.Run("rate limits per agent", func(t *testing.T) {
		limiter := NewAgentLimiter(2)
		h := AgentTokenAuth(resolver, limiter, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		codes := make([]int, 0, 3)
		var last *httptest.ResponseRecorder
		for range 3 {
			req := httptest.NewRequest(http.MethodPost, "/actions", nil)
			req.Header.Set("Authorization", "Bearer tok-1")
			last = httptest.NewRecorder()
			h.ServeHTTP(last, req)
			codes = append(codes, last.Code)
		}

		if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
			t.Fatalf("expected [200 200 429], got %v", codes)
		}
		if last.Header().Get(headerRetryAfter) == "" {
			t.Fatal("expected Retry-After header on 429")
		}
		if got := last.Header().Get(headerRateLimitLimit); got != "2" {
			t.Fatalf("expected X-RateLimit-Limit=2, got %q", got)
		}
	})
}

func TestAgentLimiter(t *testing.T) {
	if NewAgentLimiter(0) != nil {
		t.Fatal("expected nil limiter for non-positive rate")
	}

	l := NewAgentLimiter(60)
	now := time.Unix(1_700_000_000, 0)

	for i := range 60 {
		if d := l.Allow("business-1", now); !d.Allowed {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}

	d := l.Allow("business-1", now)
	if d.Allowed {
		t.Fatal("expected burst to be exhausted")
	}
	if d.RetryAfterSeconds != 1 {
		t.Fatalf("expected Retry-After 1s at 1 token/s, got %d", d.RetryAfterSeconds)
	}

	if d := l.Allow("business-2", now); !d.Allowed || d.Remaining != 59 {
		t.Fatalf("expected independent bucket for another agent, got %+v", d)
	}

	if d := l.Allow("business-1", now.Add(time.Second)); !d.Allowed {
		t.Fatal("expected refill after one second")
	}
}

func TestAgentLimiterDropsIdleVisitors(t *testing.T) {
	l := NewAgentLimiter(10)
	start := time.Unix(1_700_000_000, 0)

	l.Allow("customer-1", start)
	l.Allow("customer-2", start.Add(visitorTTL+time.Second))
	l.Allow("customer-2", start.Add(2*visitorTTL+2*time.Second))

	if _, ok := l.visitors["customer-1"]; ok {
		t.Fatal("expected idle visitor to be dropped")
	}
	if _, ok := l.visitors["customer-2"]; !ok {
		t.Fatal("expected active visitor to be kept")
	}
}
