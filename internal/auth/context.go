// SPDX-License-Identifier: Apache-2.0

package auth

import "context"

type agentIDContextKey struct{}
type requestIDContextKey struct{}

var ctxAgentIDKey agentIDContextKey
var ctxRequestIDKey requestIDContextKey

// WithAgentID stores the authenticated agent id on the request context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, ctxAgentIDKey, agentID)
}

// AgentIDFromContext reads the authenticated agent id from context.
func AgentIDFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxAgentIDKey)
	id, ok := v.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxRequestIDKey)
	id, ok := v.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
