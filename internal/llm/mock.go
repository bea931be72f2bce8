// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Responder produces the text a mock model returns for a request.
type Responder func(ctx context.Context, req Request) (string, error)

// MockClient answers from a Responder. It backs dry runs and tests.
type MockClient struct {
	model     string
	responder Responder

	mu    sync.Mutex
	calls []Request
}

func NewMockClient(model string, responder Responder) *MockClient {
	if model == "" {
		model = "mock"
	}
	return &MockClient{model: model, responder: responder}
}

// Scripted returns a Responder that replays replies in order and then
// keeps returning the last one.
func Scripted(replies ...string) Responder {
	var mu sync.Mutex
	i := 0
	return func(context.Context, Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(replies) == 0 {
			return "", errors.New("no scripted replies")
		}
		reply := replies[min(i, len(replies)-1)]
		i++
		return reply, nil
	}
}

func (m *MockClient) Provider() string { return ProviderMock }
func (m *MockClient) Model() string    { return m.model }

func (m *MockClient) Generate(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.responder == nil {
		return Response{}, errors.New("mock client has no responder")
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	text, err := m.responder(ctx, req)
	if err != nil {
		return Response{}, err
	}

	tokens := 0
	for _, msg := range req.Messages {
		tokens += len(strings.Fields(msg.Content))
	}
	tokens += len(strings.Fields(text))

	return Response{Text: text, Usage: Usage{TokenCount: tokens, Provider: ProviderMock, Model: m.model}}, nil
}

// Calls returns the requests seen so far.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}
