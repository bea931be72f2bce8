// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
)

type ActionExecutor interface {
	Execute(ctx context.Context, agentID string, action domain.Action) (domain.ActionResult, error)
	Actions() []string
}

type AgentRegistry interface {
	Create(ctx context.Context, row domain.AgentRow) (domain.AgentRow, error)
	GetByID(ctx context.Context, id string) (domain.AgentRow, error)
	GetAll(ctx context.Context, params store.RangeParams) ([]domain.AgentRow, error)
}

type LogWriter interface {
	Create(ctx context.Context, row domain.LogRow) (domain.LogRow, error)
	GetAll(ctx context.Context, params store.RangeParams) ([]domain.LogRow, error)
}

type MessageFetcher interface {
	Fetch(ctx context.Context, recipientID string, q domain.FetchMessages) (domain.FetchMessagesResponse, error)
}

type TokenIssuer interface {
	Issue(agentID string) string
	ResolveAgent(ctx context.Context, bearerToken string) (string, bool, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
