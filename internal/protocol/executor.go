// SPDX-License-Identifier: Apache-2.0

// Package protocol validates agent actions and records every attempt,
// successful or not, in the action log.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/messages"
	"github.com/adiadia/agent-marketplace/internal/metrics"
	"github.com/adiadia/agent-marketplace/internal/store"
)

// Error types carried in failed SendMessage results.
const (
	ErrorTypeInvalidProposal = "invalid_proposal"
	ErrorTypeAlreadyPaid     = "proposal_already_paid"
	ErrorTypeExpired         = "proposal_expired"
)

type Searcher interface {
	Search(ctx context.Context, q domain.Search) (domain.SearchResponse, error)
}

type Options struct {
	// StrictPayments rejects payments against proposals that were already
	// paid or whose expiry_time has passed.
	StrictPayments bool
	Logger         *slog.Logger
	Now            func() time.Time
}

type Executor struct {
	db        store.Database
	directory *messages.Directory
	searcher  Searcher
	strict    bool
	logger    *slog.Logger
	now       func() time.Time

	// payMu serializes strict payment checks with their append.
	payMu sync.Mutex
}

func NewExecutor(db store.Database, searcher Searcher, opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Executor{
		db:        db,
		directory: messages.NewDirectory(db.Actions(), logger),
		searcher:  searcher,
		strict:    opts.StrictPayments,
		logger:    logger,
		now:       now,
	}
}

// Actions lists the request names this protocol accepts.
func (e *Executor) Actions() []string {
	return []string{domain.RequestSendMessage, domain.RequestFetchMessages, domain.RequestSearch}
}

// Execute runs action on behalf of agentID. Validation failures come back
// as results with IsError set and are appended like any other action. A
// returned error means the attempt could not be recorded.
func (e *Executor) Execute(ctx context.Context, agentID string, action domain.Action) (domain.ActionResult, error) {
	started := time.Now()
	name := action.RequestName()

	var (
		result domain.ActionResult
		err    error
	)
	switch a := action.(type) {
	case domain.SendMessage:
		a.FromAgentID = agentID
		if a.CreatedAt.IsZero() {
			a.CreatedAt = e.now()
		}
		action = a
		if _, isPayment := a.Message.(domain.Payment); isPayment && e.strict {
			e.payMu.Lock()
			defer e.payMu.Unlock()
		}
		result, err = e.sendMessage(ctx, a)
	case domain.FetchMessages:
		result, err = e.fetchMessages(ctx, agentID, a)
	case domain.Search:
		result, err = e.search(ctx, a)
	default:
		return domain.ActionResult{}, fmt.Errorf("%w: %T", domain.ErrUnknownActionType, action)
	}
	if err != nil {
		e.observe(name, metrics.OutcomeFailed, started, err)
		return domain.ActionResult{}, err
	}

	if err := e.record(ctx, agentID, action, result); err != nil {
		e.observe(name, metrics.OutcomeFailed, started, err)
		return domain.ActionResult{}, err
	}

	outcome := metrics.OutcomeOK
	if result.IsError {
		outcome = metrics.OutcomeInvalid
	} else if send, ok := action.(domain.SendMessage); ok {
		metrics.IncMessage(send.Message.Type())
	}
	e.observe(name, outcome, started, nil)
	return result, nil
}

func (e *Executor) observe(name, outcome string, started time.Time, err error) {
	metrics.IncAction(name, outcome)
	metrics.ObserveActionDuration(name, time.Since(started))
	if errors.Is(err, domain.ErrTooBusy) {
		metrics.IncTooBusy()
	}
}

func (e *Executor) record(ctx context.Context, agentID string, action domain.Action, result domain.ActionResult) error {
	params, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode %s parameters: %w", action.RequestName(), err)
	}

	_, err = e.db.Actions().Create(ctx, domain.ActionRow{
		CreatedAt: e.now(),
		Data: domain.ActionRowData{
			AgentID: agentID,
			Request: domain.ActionRequest{Name: action.RequestName(), Parameters: params},
			Result:  result,
		},
	})
	if err != nil {
		e.logger.Error("record action failed", "agent_id", agentID, "action", action.RequestName(), "error", err)
		return fmt.Errorf("record %s: %w", action.RequestName(), err)
	}
	return nil
}

func (e *Executor) sendMessage(ctx context.Context, a domain.SendMessage) (domain.ActionResult, error) {
	if a.Message == nil {
		return errorResult(map[string]any{"error": "message is required"}), nil
	}
	if err := a.Message.Validate(); err != nil {
		return errorResult(map[string]any{"error": err.Error()}), nil
	}

	if _, err := e.db.Agents().GetByID(ctx, a.ToAgentID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return errorResult(map[string]any{"error": fmt.Sprintf("to_agent_id %s not found", a.ToAgentID)}), nil
		}
		return domain.ActionResult{}, fmt.Errorf("lookup recipient %s: %w", a.ToAgentID, err)
	}

	switch m := a.Message.(type) {
	case domain.Payment:
		rejection, err := e.validatePayment(ctx, a, m)
		if err != nil {
			return domain.ActionResult{}, err
		}
		if rejection != nil {
			return *rejection, nil
		}
	case domain.TextMessage, domain.OrderProposal:
	default:
		return errorResult(map[string]any{"error": fmt.Sprintf("unsupported message type %T", m)}), nil
	}

	content, err := json.Marshal(a)
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("encode send_message result: %w", err)
	}
	return domain.ActionResult{Content: content, Metadata: map[string]any{"status": "sent"}}, nil
}

// validatePayment checks that the recipient previously sent the payer an
// order proposal with the referenced id. Status and expiry are only
// checked in strict mode.
func (e *Executor) validatePayment(ctx context.Context, a domain.SendMessage, p domain.Payment) (*domain.ActionResult, error) {
	ok := false
	proposals, err := e.db.Actions().Find(ctx, store.ActionFilter{
		Name:        domain.RequestSendMessage,
		FromAgentID: a.ToAgentID,
		ToAgentID:   a.FromAgentID,
		ProposalID:  p.ProposalMessageID,
		IsError:     &ok,
	}, store.RangeParams{})
	if err != nil {
		return nil, fmt.Errorf("lookup proposal %s: %w", p.ProposalMessageID, err)
	}
	if len(proposals) == 0 {
		r := paymentRejection(ErrorTypeInvalidProposal, fmt.Sprintf("No unexpired order proposals found with id %s", p.ProposalMessageID))
		return &r, nil
	}
	if !e.strict {
		return nil, nil
	}

	if expired, ok := e.expired(proposals); ok && expired {
		r := paymentRejection(ErrorTypeExpired, fmt.Sprintf("Order proposal %s has expired", p.ProposalMessageID))
		return &r, nil
	}

	paid, err := e.db.Actions().Find(ctx, store.ActionFilter{
		Name:           domain.RequestSendMessage,
		ToAgentID:      a.ToAgentID,
		PaidProposalID: p.ProposalMessageID,
		IsError:        &ok,
	}, store.RangeParams{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("lookup payments for %s: %w", p.ProposalMessageID, err)
	}
	if len(paid) > 0 {
		r := paymentRejection(ErrorTypeAlreadyPaid, fmt.Sprintf("Order proposal %s has already been paid", p.ProposalMessageID))
		return &r, nil
	}
	return nil, nil
}

// expired reports whether every matching proposal carries a parseable
// expiry in the past. The second value is false when no expiry is known.
func (e *Executor) expired(rows []domain.ActionRow) (bool, bool) {
	now := e.now()
	known := false
	for _, row := range rows {
		received, err := messages.Received(row)
		if err != nil {
			continue
		}
		proposal, ok := received.Message.(domain.OrderProposal)
		if !ok || proposal.ExpiryTime == nil {
			return false, false
		}
		at, err := time.Parse(time.RFC3339, *proposal.ExpiryTime)
		if err != nil {
			return false, false
		}
		known = true
		if at.After(now) {
			return false, true
		}
	}
	return known, known
}

func (e *Executor) fetchMessages(ctx context.Context, agentID string, a domain.FetchMessages) (domain.ActionResult, error) {
	resp, err := e.directory.Fetch(ctx, agentID, a)
	if err != nil {
		return domain.ActionResult{}, err
	}
	content, err := json.Marshal(resp)
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("encode fetch_messages result: %w", err)
	}
	return domain.ActionResult{Content: content}, nil
}

func (e *Executor) search(ctx context.Context, a domain.Search) (domain.ActionResult, error) {
	if !a.SearchAlgorithm.Valid() {
		return errorResult(map[string]any{"error": fmt.Sprintf("unknown search algorithm %q", a.SearchAlgorithm)}), nil
	}
	if e.searcher == nil {
		return errorResult(map[string]any{"error": "search is not available"}), nil
	}

	resp, err := e.searcher.Search(ctx, a)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAction) {
			return errorResult(map[string]any{"error": err.Error()}), nil
		}
		return domain.ActionResult{}, fmt.Errorf("search: %w", err)
	}
	content, err := json.Marshal(resp)
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("encode search result: %w", err)
	}
	return domain.ActionResult{Content: content}, nil
}

func paymentRejection(errorType, message string) domain.ActionResult {
	return errorResult(map[string]any{"error_type": errorType, "message": message})
}

func errorResult(content map[string]any) domain.ActionResult {
	b, _ := json.Marshal(content)
	return domain.ActionResult{IsError: true, Content: b}
}
