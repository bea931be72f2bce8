// SPDX-License-Identifier: Apache-2.0

// Package messages answers "what has agent X received" as a filtered view
// over successful SendMessage entries of the action log.
package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
)

type Directory struct {
	actions store.ActionTable
	logger  *slog.Logger
}

func NewDirectory(actions store.ActionTable, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{actions: actions, logger: logger}
}

// Fetch returns messages addressed to recipientID in ascending index
// order. Polling with AfterIndex set to the largest index seen so far
// yields each message exactly once.
func (d *Directory) Fetch(ctx context.Context, recipientID string, q domain.FetchMessages) (domain.FetchMessagesResponse, error) {
	ok := false
	filter := store.ActionFilter{
		Name:      domain.RequestSendMessage,
		ToAgentID: recipientID,
		IsError:   &ok,
	}
	if q.FromAgentID != nil {
		filter.FromAgentID = *q.FromAgentID
	}

	params := store.RangeParams{AfterIndex: q.AfterIndex, After: q.After}
	limit := 0
	if q.Limit != nil && *q.Limit > 0 {
		limit = *q.Limit
		// One extra row tells us whether more remain.
		params.Limit = limit + 1
	}
	if q.Offset != nil && *q.Offset > 0 {
		params.Offset = *q.Offset
	}

	rows, err := d.actions.Find(ctx, filter, params)
	if err != nil {
		return domain.FetchMessagesResponse{}, fmt.Errorf("fetch messages for %s: %w", recipientID, err)
	}

	hasMore := false
	if limit > 0 && len(rows) > limit {
		hasMore = true
		rows = rows[:limit]
	}

	out := make([]domain.ReceivedMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := Received(row)
		if err != nil {
			d.logger.Warn("skip undecodable message", "row_id", row.ID, "index", row.Index, "error", err)
			continue
		}
		out = append(out, msg)
	}

	return domain.FetchMessagesResponse{Messages: out, HasMore: hasMore}, nil
}

// Received converts a SendMessage log row into the recipient's view.
func Received(row domain.ActionRow) (domain.ReceivedMessage, error) {
	var send domain.SendMessage
	if err := json.Unmarshal(row.Data.Request.Parameters, &send); err != nil {
		return domain.ReceivedMessage{}, err
	}
	return domain.ReceivedMessage{
		FromAgentID: send.FromAgentID,
		ToAgentID:   send.ToAgentID,
		CreatedAt:   send.CreatedAt,
		Message:     send.Message,
		Index:       row.Index,
	}, nil
}

// Cursor tracks the largest index an agent has consumed and drops
// anything at or below it.
type Cursor struct {
	last int64
	set  bool
}

func (c *Cursor) AfterIndex() *int64 {
	if !c.set {
		return nil
	}
	v := c.last
	return &v
}

// Advance filters out already-seen messages and moves the cursor.
func (c *Cursor) Advance(msgs []domain.ReceivedMessage) []domain.ReceivedMessage {
	out := make([]domain.ReceivedMessage, 0, len(msgs))
	for _, m := range msgs {
		if c.set && m.Index <= c.last {
			continue
		}
		out = append(out, m)
	}
	for _, m := range out {
		if !c.set || m.Index > c.last {
			c.last = m.Index
			c.set = true
		}
	}
	return out
}
