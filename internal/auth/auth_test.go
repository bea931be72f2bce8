// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"testing"
)

func TestAgentIDContextRoundTrip(t *testing.T) {
	ctx := WithAgentID(context.Background(), "customer-1")

	got, ok := AgentIDFromContext(ctx)
	if !ok || got != "customer-1" {
		t.Fatalf("expected customer-1, got %q (ok=%v)", got, ok)
	}

	if _, ok := AgentIDFromContext(context.Background()); ok {
		t.Fatal("expected no agent id on empty context")
	}
	if _, ok := AgentIDFromContext(WithAgentID(context.Background(), "")); ok {
		t.Fatal("expected empty agent id to be treated as missing")
	}
}

func TestTokenStoreIssueAndResolve(t *testing.T) {
	store := NewTokenStore()

	first := store.Issue("business-1")
	second := store.Issue("business-1")
	if first == second {
		t.Fatal("expected distinct tokens per issue")
	}

	for _, tok := range []string{first, second} {
		id, ok, err := store.ResolveAgent(context.Background(), tok)
		if err != nil || !ok || id != "business-1" {
			t.Fatalf("expected business-1 for %s, got %q ok=%v err=%v", tok, id, ok, err)
		}
	}

	if _, ok, _ := store.ResolveAgent(context.Background(), "not-a-token"); ok {
		t.Fatal("expected unknown token to be rejected")
	}
	if _, ok, _ := store.ResolveAgent(context.Background(), "  "); ok {
		t.Fatal("expected blank token to be rejected")
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 stored tokens, got %d", store.Len())
	}
}

func TestTokenStoreKeepsOnlyHashes(t *testing.T) {
	store := NewTokenStore()
	tok := store.Issue("customer-9")

	if _, ok := store.agents[tok]; ok {
		t.Fatal("raw token must not be stored")
	}
	if _, ok := store.agents[hashToken(tok)]; !ok {
		t.Fatal("expected hashed token to be stored")
	}
}
