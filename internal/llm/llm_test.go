// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

type memRecorder struct {
	mu    sync.Mutex
	calls []domain.LLMCallLog
	ids   []string
}

func (r *memRecorder) RecordLLMCall(_ context.Context, agentID string, call domain.LLMCallLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	r.ids = append(r.ids, agentID)
}

var decisionSchema = NewSchema("decision", `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["search", "pay"]},
		"reason": {"type": "string"}
	},
	"required": ["action"]
}`)

type decision struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func TestGenerateStructRetriesWithFeedback(t *testing.T) {
	mock := NewMockClient("m1", Scripted(
		`not json at all`,
		`{"action":"dance"}`,
		"```json\n{\"action\":\"pay\",\"reason\":\"best price\"}\n```",
	))
	rec := &memRecorder{}
	caller := NewCaller(mock, rec, "customer-1", nil)

	got, err := GenerateStruct[decision](context.Background(), caller, []domain.ChatMessage{User("decide")}, decisionSchema)
	require.NoError(t, err)
	assert.Equal(t, decision{Action: "pay", Reason: "best price"}, got)

	calls := mock.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0].Messages, 1)
	assert.Len(t, calls[2].Messages, 5)
	assert.Contains(t, calls[1].Messages[2].Content, "previous response was invalid")

	require.Len(t, rec.calls, 3)
	for i, call := range rec.calls {
		assert.Equal(t, domain.LLMCallType, call.Type)
		assert.True(t, call.Success)
		assert.Equal(t, ProviderMock, call.Provider)
		assert.Equal(t, "customer-1", rec.ids[i])
	}
}

func TestGenerateStructGivesUpAfterMaxAttempts(t *testing.T) {
	mock := NewMockClient("", Scripted(`{"action":"dance"}`))
	caller := NewCaller(mock, nil, "customer-1", nil)

	_, err := GenerateStruct[decision](context.Background(), caller, []domain.ChatMessage{User("decide")}, decisionSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Len(t, mock.Calls(), MaxAttempts)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		`Sure! {"a":1} enjoy`:     `{"a":1}`,
		`{"a":{"b":2}} done`:      `{"a":{"b":2}}`,
		`no json here`:            `no json here`,
	}
	for in, want := range cases {
		assert.Equal(t, want, string(extractJSON(in)), "input %q", in)
	}
}

func TestCallerRecordsFailures(t *testing.T) {
	boom := errors.New("upstream down")
	mock := NewMockClient("m1", func(context.Context, Request) (string, error) { return "", boom })
	rec := &memRecorder{}
	caller := NewCaller(mock, rec, "business-1", nil)

	_, err := caller.Text(context.Background(), []domain.ChatMessage{User("hi")})
	require.ErrorIs(t, err, boom)
	require.Len(t, rec.calls, 1)
	assert.False(t, rec.calls[0].Success)
	assert.Equal(t, "upstream down", rec.calls[0].ErrorMessage)
}

func TestOpenAIClientSendsSchemaAndParsesUsage(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":" {\"action\":\"search\"} "}}],"usage":{"total_tokens":42}}`)
	}))
	defer srv.Close()

	reg := NewRegistry()
	client, err := reg.Client(Config{Provider: "openai", Model: "gpt-test", BaseURL: srv.URL + "/", APIKey: "sk-test"})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), Request{
		Messages: []domain.ChatMessage{System("sys"), User("go")},
		Schema:   &decisionSchema.Schema,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"search"}`, resp.Text)
	assert.Equal(t, 42, resp.Usage.TokenCount)
	assert.Equal(t, "gpt-test", body["model"])
	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
}

func TestOpenAIClientReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newOpenAIClient(Config{Model: "gpt-test", BaseURL: srv.URL, APIKey: "k"}, nil)
	_, err := client.Generate(context.Background(), Request{Messages: []domain.ChatMessage{User("go")}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "openai error (429)"))
}

func TestRegistryCachesPerConfig(t *testing.T) {
	reg := NewRegistry(WithMockResponder(Scripted("{}")))
	a, err := reg.Client(Config{Provider: "mock", Model: "a"})
	require.NoError(t, err)
	b, err := reg.Client(Config{Provider: "mock", Model: "a"})
	require.NoError(t, err)
	c, err := reg.Client(Config{Provider: "mock", Model: "b"})
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, reg.Len())

	_, err = reg.Client(Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)

	reg.Close()
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryRequiresOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewRegistry().Client(Config{Provider: "openai", Model: "gpt"})
	assert.Error(t, err)
}
