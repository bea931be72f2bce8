// SPDX-License-Identifier: Apache-2.0

// Package agent implements the customer and business decision loops. Agents
// reach the marketplace only through the Marketplace interface, so the same
// loop runs in-process against the executor or remotely over HTTP.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/llm"
	"github.com/adiadia/agent-marketplace/internal/messages"
)

const DefaultPollInterval = 2 * time.Second

// Marketplace executes one action on behalf of agentID. Validation
// failures come back as results with IsError set; err is reserved for
// infrastructure failures.
type Marketplace interface {
	Execute(ctx context.Context, agentID string, action domain.Action) (domain.ActionResult, error)
}

// Agent is a runnable marketplace participant.
type Agent interface {
	ID() string
	Kind() domain.AgentKind
	Run(ctx context.Context) error
}

// Options are shared by both agent kinds.
type Options struct {
	PollInterval time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// base carries the plumbing common to every agent: identity, the message
// cursor and the language model caller.
type base struct {
	id     string
	name   string
	market Marketplace
	caller *llm.Caller
	cursor messages.Cursor
	poll   time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func newBase(id, name string, kind domain.AgentKind, market Marketplace, caller *llm.Caller, opts Options) base {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return base{
		id:     id,
		name:   name,
		market: market,
		caller: caller,
		poll:   opts.PollInterval,
		logger: opts.Logger.With("logger", id, "agent_id", id, "kind", string(kind)),
		now:    opts.Now,
	}
}

func (b *base) ID() string { return b.id }

func (b *base) sendMessage(ctx context.Context, to string, msg domain.Message) (domain.ActionResult, error) {
	return b.market.Execute(ctx, b.id, domain.SendMessage{
		FromAgentID: b.id,
		ToAgentID:   to,
		CreatedAt:   b.now().UTC(),
		Message:     msg,
	})
}

// fetchMessages returns messages not seen before and advances the cursor.
func (b *base) fetchMessages(ctx context.Context) (domain.FetchMessagesResponse, error) {
	result, err := b.market.Execute(ctx, b.id, domain.FetchMessages{AfterIndex: b.cursor.AfterIndex()})
	if err != nil {
		return domain.FetchMessagesResponse{}, err
	}
	if result.IsError {
		return domain.FetchMessagesResponse{}, fmt.Errorf("fetch messages: %s", result.Content)
	}

	var resp domain.FetchMessagesResponse
	if err := json.Unmarshal(result.Content, &resp); err != nil {
		return domain.FetchMessagesResponse{}, fmt.Errorf("decode fetch response: %w", err)
	}
	resp.Messages = b.cursor.Advance(resp.Messages)
	return resp, nil
}

func (b *base) search(ctx context.Context, s domain.Search) (domain.SearchResponse, domain.ActionResult, error) {
	result, err := b.market.Execute(ctx, b.id, s)
	if err != nil || result.IsError {
		return domain.SearchResponse{}, result, err
	}
	var resp domain.SearchResponse
	if err := json.Unmarshal(result.Content, &resp); err != nil {
		return domain.SearchResponse{}, result, fmt.Errorf("decode search response: %w", err)
	}
	return resp, result, nil
}

func (b *base) header() string {
	return fmt.Sprintf("agent-%s (%s)", b.name, b.id)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
