// SPDX-License-Identifier: Apache-2.0

// Package client talks to a running marketplace server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

const (
	retryAttempts  = 3
	retryBase      = 200 * time.Millisecond
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// StatusError is a non-2xx response that was not retried or ran out of
// retries.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Unwrap lets callers match server errors with errors.Is on domain sentinels.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusServiceUnavailable:
		return domain.ErrTooBusy
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrDuplicateID
	case http.StatusBadRequest:
		return domain.ErrInvalidAction
	}
	return nil
}

type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	// AdminToken is sent on registration when set.
	AdminToken string
	RetryBase  time.Duration
}

// Client is shared by every agent of a run that targets the same server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	adminToken string
	retryBase  time.Duration
}

func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid marketplace url %q", baseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := opts.RetryBase
	if base <= 0 {
		base = retryBase
	}

	return &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		httpClient: hc,
		logger:     logger,
		adminToken: opts.AdminToken,
		retryBase:  base,
	}, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// Register creates the agent on the server and returns a client bound to
// its token.
func (c *Client) Register(ctx context.Context, profile domain.AgentProfile) (*AgentClient, error) {
	var resp struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/agents", c.adminToken, profile, &resp); err != nil {
		return nil, fmt.Errorf("register agent %s: %w", profile.ID, err)
	}
	return &AgentClient{client: c, agentID: resp.ID, token: resp.Token}, nil
}

func (c *Client) GetAgent(ctx context.Context, id string) (domain.AgentRow, error) {
	var row domain.AgentRow
	err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(id), "", nil, &row)
	return row, err
}

func (c *Client) ListAgents(ctx context.Context, offset, limit int) ([]domain.AgentRow, bool, error) {
	var resp struct {
		Agents  []domain.AgentRow `json:"agents"`
		HasMore bool              `json:"has_more"`
	}
	err := c.do(ctx, http.MethodGet, "/agents"+pageQuery(offset, limit), "", nil, &resp)
	return resp.Agents, resp.HasMore, err
}

func (c *Client) ListLogs(ctx context.Context, offset, limit int) ([]domain.LogRow, bool, error) {
	var resp struct {
		Logs    []domain.LogRow `json:"logs"`
		HasMore bool            `json:"has_more"`
	}
	err := c.do(ctx, http.MethodGet, "/logs"+pageQuery(offset, limit), "", nil, &resp)
	return resp.Logs, resp.HasMore, err
}

// Protocol lists the action names the server accepts.
func (c *Client) Protocol(ctx context.Context) ([]string, error) {
	var resp struct {
		Actions []string `json:"actions"`
	}
	err := c.do(ctx, http.MethodGet, "/actions/protocol", "", nil, &resp)
	return resp.Actions, err
}

// Health returns nil once the server answers /healthz with 200.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

// WaitReady polls /healthz until it succeeds or ctx is done.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	for {
		if err := c.Health(ctx); err == nil {
			return nil
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("marketplace %s not ready: %w", c.baseURL, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) closeIdle() {
	c.httpClient.CloseIdleConnections()
}

// do sends one request. 503 responses and transport errors are retried
// with exponential backoff. Every other outcome returns immediately.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		retry, err := c.attempt(ctx, method, path, token, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			return err
		}

		if attempt < retryAttempts {
			wait := c.retryBase * time.Duration(1<<(attempt-1))
			c.logger.Debug("marketplace request retry",
				"method", method,
				"path", path,
				"attempt", attempt,
				"wait_ms", wait.Milliseconds(),
				"error", err,
			)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s %s canceled before retry: %w", method, path, ctx.Err())
			case <-timer.C:
			}
		}
	}

	c.logger.Warn("marketplace request retries exhausted", "method", method, "path", path, "error", lastErr)
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, path, token string, payload []byte, out any) (bool, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return false, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_, _ = io.Copy(io.Discard, resp.Body)
		serr := &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		return resp.StatusCode == http.StatusServiceUnavailable, serr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return false, nil
}

func pageQuery(offset, limit int) string {
	q := url.Values{}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// AgentClient acts as one registered agent.
type AgentClient struct {
	client  *Client
	agentID string
	token   string
}

func (a *AgentClient) AgentID() string { return a.agentID }

// Execute posts action for the bound agent. The server derives the actor
// from the token, so agentID must match the registered id.
func (a *AgentClient) Execute(ctx context.Context, agentID string, action domain.Action) (domain.ActionResult, error) {
	if agentID != a.agentID {
		return domain.ActionResult{}, fmt.Errorf("%w: client bound to %s cannot act as %s", domain.ErrUnknownAgent, a.agentID, agentID)
	}
	var result domain.ActionResult
	if err := a.client.do(ctx, http.MethodPost, "/actions", a.token, action, &result); err != nil {
		return domain.ActionResult{}, err
	}
	return result, nil
}

// Create writes a log row through the server. It satisfies the log
// queue's writer contract.
func (a *AgentClient) Create(ctx context.Context, row domain.LogRow) (domain.LogRow, error) {
	var created domain.LogRow
	err := a.client.do(ctx, http.MethodPost, "/logs", a.token, row, &created)
	if errors.Is(err, domain.ErrDuplicateID) {
		// A retried POST may have landed on the first attempt.
		return row, nil
	}
	return created, err
}
