// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TokenStore maps bearer tokens to agent ids for the lifetime of a server.
// Only token hashes are kept.
type TokenStore struct {
	mu     sync.RWMutex
	agents map[string]string
}

func NewTokenStore() *TokenStore {
	return &TokenStore{agents: make(map[string]string)}
}

// Issue returns a fresh token for agentID. Earlier tokens stay valid.
func (s *TokenStore) Issue(agentID string) string {
	token := uuid.NewString()

	s.mu.Lock()
	s.agents[hashToken(token)] = agentID
	s.mu.Unlock()

	return token
}

// ResolveAgent returns the agent id owning token.
func (s *TokenStore) ResolveAgent(_ context.Context, token string) (string, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false, nil
	}

	s.mu.RLock()
	id, ok := s.agents[hashToken(token)]
	s.mu.RUnlock()

	return id, ok, nil
}

func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
