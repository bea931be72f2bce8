// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiadia/agent-marketplace/internal/auth"
	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/messages"
	"github.com/adiadia/agent-marketplace/internal/persistence/sqlite"
	"github.com/adiadia/agent-marketplace/internal/protocol"
	"github.com/adiadia/agent-marketplace/internal/search"
	"github.com/adiadia/agent-marketplace/internal/store"
	httptransport "github.com/adiadia/agent-marketplace/internal/transport/http"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(url, Options{Logger: discard(), RetryBase: time.Millisecond})
	require.NoError(t, err)
	return c
}

func newMarketplace(t *testing.T) (*httptest.Server, store.Database) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "client.db"), discard())
	require.NoError(t, err)
	t.Cleanup(db.Close)

	srv := httptest.NewServer(httptransport.NewRouter(httptransport.Deps{
		Executor: protocol.NewExecutor(db, search.NewEngine(db.Agents()), protocol.Options{Logger: discard()}),
		Agents:   db.Agents(),
		Logs:     db.Logs(),
		Messages: messages.NewDirectory(db.Actions(), discard()),
		Tokens:   auth.NewTokenStore(),
		Logger:   discard(),
	}))
	t.Cleanup(srv.Close)
	return srv, db
}

func TestNewRejectsInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "://nope"} {
		_, err := New(raw, Options{})
		assert.Error(t, err, raw)
	}
}

func TestClientRetriesTooBusy(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "database too busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"actions":["SendMessage"]}`))
	}))
	defer srv.Close()

	actions, err := newClient(t, srv.URL).Protocol(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SendMessage"}, actions)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "database too busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newClient(t, srv.URL).Health(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTooBusy)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusServiceUnavailable, serr.Code)
	assert.EqualValues(t, retryAttempts, calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).GetAgent(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.EqualValues(t, 1, calls.Load())
}

func TestClientStopsRetryingOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database too busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := New(srv.URL, Options{Logger: discard(), RetryBase: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = c.Health(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAgentClientAgainstServer(t *testing.T) {
	srv, db := newMarketplace(t)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, c.WaitReady(ctx, 10*time.Millisecond))

	biz, err := c.Register(ctx, domain.BusinessProfile(domain.Business{
		ID:           "business-1",
		Name:         "Noodle Bar",
		Description:  "Ramen and dumplings",
		MenuFeatures: map[string]float64{"ramen": 13},
	}))
	require.NoError(t, err)
	cust, err := c.Register(ctx, domain.CustomerProfile(domain.Customer{
		ID:           "customer-1",
		Name:         "Carol",
		Request:      "ramen",
		MenuFeatures: map[string]float64{"ramen": 15},
	}))
	require.NoError(t, err)
	assert.Equal(t, "customer-1", cust.AgentID())

	_, err = c.Register(ctx, domain.CustomerProfile(domain.Customer{ID: "customer-1", Name: "Again"}))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)

	res, err := cust.Execute(ctx, "customer-1", domain.Search{Query: "ramen", SearchAlgorithm: domain.SearchLexical, Limit: 10, Page: 1})
	require.NoError(t, err)
	require.False(t, res.IsError, string(res.Content))

	res, err = cust.Execute(ctx, "customer-1", domain.SendMessage{ToAgentID: "business-1", Message: domain.TextMessage{Content: "hi"}})
	require.NoError(t, err)
	require.False(t, res.IsError, string(res.Content))

	res, err = biz.Execute(ctx, "business-1", domain.FetchMessages{})
	require.NoError(t, err)
	assert.Contains(t, string(res.Content), `"content":"hi"`)

	_, err = biz.Execute(ctx, "customer-1", domain.FetchMessages{})
	assert.ErrorIs(t, err, domain.ErrUnknownAgent)

	row := domain.LogRow{ID: "log-1", Data: domain.Log{Level: domain.LogInfo, Name: "customer-1", Message: "hello"}}
	created, err := cust.Create(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, "customer-1", created.Data.AgentID())

	// A replayed write is treated as already delivered.
	_, err = cust.Create(ctx, row)
	require.NoError(t, err)

	logs, hasMore, err := c.ListLogs(ctx, 0, 10)
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Len(t, logs, 1)

	agents, hasMore, err := c.ListAgents(ctx, 0, 1)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, agents, 1)
	assert.Equal(t, "business-1", agents[0].ID)

	n, err := db.Actions().Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestRegistryCachesPerURL(t *testing.T) {
	reg := NewRegistry(Options{Logger: discard()})

	a, err := reg.Get("http://127.0.0.1:9000/")
	require.NoError(t, err)
	b, err := reg.Get("http://127.0.0.1:9000")
	require.NoError(t, err)
	c, err := reg.Get("http://127.0.0.1:9001")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, reg.Len())

	_, err = reg.Get("not a url")
	assert.Error(t, err)

	reg.Close()
	assert.Equal(t, 0, reg.Len())
}

func TestStatusErrorUnwrap(t *testing.T) {
	cases := map[int]error{
		http.StatusServiceUnavailable: domain.ErrTooBusy,
		http.StatusNotFound:           domain.ErrNotFound,
		http.StatusConflict:           domain.ErrDuplicateID,
		http.StatusBadRequest:         domain.ErrInvalidAction,
	}
	for code, want := range cases {
		err := error(&StatusError{Code: code})
		assert.True(t, errors.Is(err, want), "status %d", code)
	}
	assert.Nil(t, (&StatusError{Code: http.StatusTeapot}).Unwrap())
}
