// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
)

// Registry hands out one client per distinct configuration for the
// lifetime of a run.
type Registry struct {
	mu         sync.Mutex
	clients    map[string]Client
	httpClient *http.Client
	responder  Responder
}

type RegistryOption func(*Registry)

// WithHTTPClient sets the transport used by remote providers.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(r *Registry) { r.httpClient = c }
}

// WithMockResponder sets the policy behind the mock provider.
func WithMockResponder(responder Responder) RegistryOption {
	return func(r *Registry) { r.responder = responder }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{clients: map[string]Client{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Client(cfg Config) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cfg.key()
	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	c, err := r.build(cfg)
	if err != nil {
		return nil, err
	}
	r.clients[key] = c
	return c, nil
}

func (r *Registry) build(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI:
		if strings.TrimSpace(cfg.APIKey) == "" {
			cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("missing api key for openai")
		}
		if strings.TrimSpace(cfg.Model) == "" {
			return nil, fmt.Errorf("missing model for openai")
		}
		return newOpenAIClient(cfg, r.httpClient), nil
	case "", ProviderMock:
		if r.responder == nil {
			return nil, fmt.Errorf("mock provider requires a responder")
		}
		return NewMockClient(cfg.Model, r.responder), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// Close drops cached clients and their idle connections.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, c := range r.clients {
		if oc, ok := c.(*openAIClient); ok {
			oc.httpClient.CloseIdleConnections()
		}
		delete(r.clients, key)
	}
}

// Len reports the number of cached clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
