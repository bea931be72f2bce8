// SPDX-License-Identifier: Apache-2.0

package messages

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/persistence/sqlite"
	"github.com/adiadia/agent-marketplace/internal/store"
)

func newTestStore(t *testing.T) store.Database {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "dir.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func appendSend(t *testing.T, db store.Database, from, to string, isError bool, msg domain.Message) domain.ActionRow {
	t.Helper()
	params, err := json.Marshal(domain.SendMessage{FromAgentID: from, ToAgentID: to, CreatedAt: time.Now().UTC(), Message: msg})
	require.NoError(t, err)
	row, err := db.Actions().Create(context.Background(), domain.ActionRow{Data: domain.ActionRowData{
		AgentID: from,
		Request: domain.ActionRequest{Name: domain.RequestSendMessage, Parameters: params},
		Result:  domain.ActionResult{IsError: isError, Content: params},
	}})
	require.NoError(t, err)
	return row
}

func TestFetchReturnsOnlyDeliveredMessagesForRecipient(t *testing.T) {
	db := newTestStore(t)
	dir := NewDirectory(db.Actions(), nil)

	appendSend(t, db, "business-1", "customer-1", false, domain.TextMessage{Content: "hello"})
	appendSend(t, db, "business-1", "customer-2", false, domain.TextMessage{Content: "other"})
	appendSend(t, db, "business-2", "customer-1", true, domain.TextMessage{Content: "rejected"})
	appendSend(t, db, "business-2", "customer-1", false, domain.Payment{ProposalMessageID: "p"})

	resp, err := dir.Fetch(context.Background(), "customer-1", domain.FetchMessages{})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 2)
	assert.False(t, resp.HasMore)
	assert.Equal(t, domain.MessageText, resp.Messages[0].Message.Type())
	assert.Equal(t, domain.MessagePayment, resp.Messages[1].Message.Type())
	assert.Less(t, resp.Messages[0].Index, resp.Messages[1].Index)
}

func TestFetchHasMoreAndSenderFilter(t *testing.T) {
	db := newTestStore(t)
	dir := NewDirectory(db.Actions(), nil)

	for i := 0; i < 3; i++ {
		appendSend(t, db, "business-1", "customer-1", false, domain.TextMessage{Content: "a"})
	}
	appendSend(t, db, "business-2", "customer-1", false, domain.TextMessage{Content: "b"})

	limit := 2
	resp, err := dir.Fetch(context.Background(), "customer-1", domain.FetchMessages{Limit: &limit})
	require.NoError(t, err)
	assert.Len(t, resp.Messages, 2)
	assert.True(t, resp.HasMore)

	sender := "business-2"
	resp, err = dir.Fetch(context.Background(), "customer-1", domain.FetchMessages{FromAgentID: &sender})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "business-2", resp.Messages[0].FromAgentID)
}

func TestPollingWithCursorYieldsEachMessageOnce(t *testing.T) {
	db := newTestStore(t)
	dir := NewDirectory(db.Actions(), nil)
	ctx := context.Background()

	var cursor Cursor
	seen := map[int64]bool{}

	poll := func() {
		resp, err := dir.Fetch(ctx, "business-1", domain.FetchMessages{AfterIndex: cursor.AfterIndex()})
		require.NoError(t, err)
		for _, m := range cursor.Advance(resp.Messages) {
			require.False(t, seen[m.Index], "duplicate index %d", m.Index)
			seen[m.Index] = true
		}
	}

	appendSend(t, db, "customer-1", "business-1", false, domain.TextMessage{Content: "1"})
	poll()
	poll()
	appendSend(t, db, "customer-2", "business-1", false, domain.TextMessage{Content: "2"})
	appendSend(t, db, "customer-1", "business-1", false, domain.TextMessage{Content: "3"})
	poll()
	poll()

	assert.Len(t, seen, 3)
}

func TestCursorDropsStaleMessages(t *testing.T) {
	var c Cursor
	assert.Nil(t, c.AfterIndex())

	got := c.Advance([]domain.ReceivedMessage{{Index: 4}, {Index: 2}})
	assert.Len(t, got, 2)
	require.NotNil(t, c.AfterIndex())
	assert.Equal(t, int64(4), *c.AfterIndex())

	got = c.Advance([]domain.ReceivedMessage{{Index: 3}, {Index: 4}, {Index: 5}})
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Index)
}
