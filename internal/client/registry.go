// SPDX-License-Identifier: Apache-2.0

package client

import (
	"strings"
	"sync"
)

// Registry shares one Client per server URL for the lifetime of a run.
type Registry struct {
	opts Options

	mu      sync.Mutex
	clients map[string]*Client
}

func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, clients: make(map[string]*Client)}
}

func (r *Registry) Get(baseURL string) (*Client, error) {
	key := strings.TrimRight(strings.TrimSpace(baseURL), "/")

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	c, err := New(key, r.opts)
	if err != nil {
		return nil, err
	}
	r.clients[key] = c
	return c, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close releases idle connections of every client and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, c := range r.clients {
		c.closeIdle()
		delete(r.clients, key)
	}
}
