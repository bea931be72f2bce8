// SPDX-License-Identifier: Apache-2.0

// Package audit checks whether every order proposal reached the
// recipient's final LLM decision, and finds customers who paid more than
// the best offer available to them.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/adiadia/agent-marketplace/internal/analytics"
	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
)

// Missing reasons.
const (
	ReasonNoLLMLogs   = "No LLM logs found"
	ReasonNotInLatest = "Proposal ID not found in last LLM log"
)

const (
	eventCustomerAction  = "customer_action"
	eventBusinessMessage = "business_message"
)

type Options struct {
	// DBName names trace paths in the results.
	DBName string
	Logger *slog.Logger
}

// TimedMessage is a message with the time its send was recorded.
type TimedMessage struct {
	Message   domain.Message `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// FetchRecord is a customer fetch that returned at least one message.
type FetchRecord struct {
	Timestamp          time.Time                `json:"timestamp"`
	FromAgentIDFilter  *string                  `json:"from_agent_id_filter"`
	Limit              *int                     `json:"limit"`
	Offset             *int                     `json:"offset"`
	After              *time.Time               `json:"after"`
	AfterIndex         *int64                   `json:"after_index"`
	NumMessagesFetched int                      `json:"num_messages_fetched"`
	Messages           []domain.ReceivedMessage `json:"messages"`
}

// ProposalIDs lists the order proposals delivered by this fetch.
func (f FetchRecord) ProposalIDs() []string {
	var out []string
	for _, m := range f.Messages {
		if p, ok := m.Message.(domain.OrderProposal); ok {
			out = append(out, p.ID)
		}
	}
	return out
}

// ActionEvent is one action the customer executed.
type ActionEvent struct {
	Index      int64           `json:"index"`
	Timestamp  time.Time       `json:"timestamp"`
	AgentID    string          `json:"agent_id"`
	ActionType string          `json:"action_type"`
	Action     json.RawMessage `json:"action"`
	Result     ActionOutcome   `json:"result"`
}

type ActionOutcome struct {
	IsError bool            `json:"is_error"`
	Content json.RawMessage `json:"content"`
}

// MessageEvent is a message a business sent to the customer.
type MessageEvent struct {
	Index       int64          `json:"index"`
	Timestamp   time.Time      `json:"timestamp"`
	FromAgentID string         `json:"from_agent_id"`
	ToAgentID   string         `json:"to_agent_id"`
	Message     domain.Message `json:"message"`
}

// TimelineEvent is one entry of a customer's merged timeline. Exactly one
// of Action and Message is set, matching Type.
type TimelineEvent struct {
	Type    string        `json:"type"`
	Index   int64         `json:"index"`
	Action  *ActionEvent  `json:"action,omitempty"`
	Message *MessageEvent `json:"message,omitempty"`
}

func (e TimelineEvent) timestamp() time.Time {
	if e.Action != nil {
		return e.Action.Timestamp
	}
	if e.Message != nil {
		return e.Message.Timestamp
	}
	return time.Time{}
}

type proposalOrigin struct {
	businessID string
	customerID string
	at         time.Time
}

type sentMessage struct {
	to  string
	msg domain.Message
	at  time.Time
}

type llmEntry struct {
	call domain.LLMCallLog
	at   time.Time
}

// Audit holds the replayed state of one experiment.
type Audit struct {
	opts   Options
	logger *slog.Logger

	customers  map[string]domain.Customer
	businesses map[string]domain.Business

	proposals        []domain.OrderProposal
	payments         []domain.Payment
	origins          map[string]proposalOrigin
	customerProposal map[string][]domain.OrderProposal
	customerPayments map[string][]domain.Payment
	customerSent     map[string][]sentMessage
	fetches          map[string][]FetchRecord
	timelines        map[string][]TimelineEvent
	lastLLM          map[string]llmEntry
}

// Run loads db and audits it.
func Run(ctx context.Context, db store.Database, opts Options) (*Audit, error) {
	snap, err := store.Load(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	return Build(snap, opts), nil
}

// Build replays snap. Rows must be in index order.
func Build(snap store.Snapshot, opts Options) *Audit {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DBName == "" {
		opts.DBName = "unknown"
	}
	a := &Audit{
		opts:             opts,
		logger:           logger,
		customers:        make(map[string]domain.Customer),
		businesses:       make(map[string]domain.Business),
		origins:          make(map[string]proposalOrigin),
		customerProposal: make(map[string][]domain.OrderProposal),
		customerPayments: make(map[string][]domain.Payment),
		customerSent:     make(map[string][]sentMessage),
		fetches:          make(map[string][]FetchRecord),
		timelines:        make(map[string][]TimelineEvent),
		lastLLM:          make(map[string]llmEntry),
	}

	for _, row := range snap.Agents {
		switch {
		case row.Data.Kind == domain.KindCustomer && row.Data.Customer != nil:
			a.customers[row.ID] = *row.Data.Customer
		case row.Data.Kind == domain.KindBusiness && row.Data.Business != nil:
			a.businesses[row.ID] = *row.Data.Business
		}
	}
	for _, row := range snap.Actions {
		a.addAction(row)
	}
	for _, row := range snap.Logs {
		call, ok := domain.DecodeLLMCall(row.Data)
		if !ok {
			continue
		}
		// Rows arrive in index order, so the last one seen is the latest.
		a.lastLLM[row.Data.AgentID()] = llmEntry{call: call, at: row.CreatedAt}
	}
	for id := range a.timelines {
		events := a.timelines[id]
		sort.SliceStable(events, func(i, j int) bool { return events[i].Index < events[j].Index })
	}
	return a
}

func (a *Audit) isCustomer(id string) bool {
	_, ok := a.customers[id]
	return ok
}

func (a *Audit) isBusiness(id string) bool {
	_, ok := a.businesses[id]
	return ok
}

func (a *Audit) addAction(row domain.ActionRow) {
	agentID := row.Data.AgentID
	action, err := domain.DecodeAction(row.Data.Request.Parameters)
	if err != nil {
		a.logger.Warn("skip undecodable action", "index", row.Index, "error", err)
		return
	}
	result := row.Data.Result

	if a.isCustomer(agentID) {
		a.timelines[agentID] = append(a.timelines[agentID], TimelineEvent{
			Type:  eventCustomerAction,
			Index: row.Index,
			Action: &ActionEvent{
				Index:      row.Index,
				Timestamp:  row.CreatedAt,
				AgentID:    agentID,
				ActionType: row.Data.Request.Name,
				Action:     row.Data.Request.Parameters,
				Result:     ActionOutcome{IsError: result.IsError, Content: result.Content},
			},
		})
	}

	switch act := action.(type) {
	case domain.SendMessage:
		if !result.IsError {
			a.addMessage(row, act)
		}
	case domain.FetchMessages:
		if result.IsError || !a.isCustomer(agentID) || len(result.Content) == 0 {
			return
		}
		var resp domain.FetchMessagesResponse
		if err := json.Unmarshal(result.Content, &resp); err != nil {
			a.logger.Warn("skip undecodable fetch result", "index", row.Index, "error", err)
			return
		}
		if len(resp.Messages) == 0 {
			return
		}
		a.fetches[agentID] = append(a.fetches[agentID], FetchRecord{
			Timestamp:          row.CreatedAt,
			FromAgentIDFilter:  act.FromAgentID,
			Limit:              act.Limit,
			Offset:             act.Offset,
			After:              act.After,
			AfterIndex:         act.AfterIndex,
			NumMessagesFetched: len(resp.Messages),
			Messages:           resp.Messages,
		})
	case domain.Search:
	}
}

func (a *Audit) addMessage(row domain.ActionRow, act domain.SendMessage) {
	sender := row.Data.AgentID
	switch {
	case a.isCustomer(sender):
		a.customerSent[sender] = append(a.customerSent[sender], sentMessage{to: act.ToAgentID, msg: act.Message, at: row.CreatedAt})
	case a.isBusiness(sender) && a.isCustomer(act.ToAgentID):
		a.timelines[act.ToAgentID] = append(a.timelines[act.ToAgentID], TimelineEvent{
			Type:  eventBusinessMessage,
			Index: row.Index,
			Message: &MessageEvent{
				Index:       row.Index,
				Timestamp:   row.CreatedAt,
				FromAgentID: sender,
				ToAgentID:   act.ToAgentID,
				Message:     act.Message,
			},
		})
	}

	switch m := act.Message.(type) {
	case domain.OrderProposal:
		a.proposals = append(a.proposals, m)
		a.origins[m.ID] = proposalOrigin{businessID: sender, customerID: act.ToAgentID, at: row.CreatedAt}
		a.customerProposal[act.ToAgentID] = append(a.customerProposal[act.ToAgentID], m)
	case domain.Payment:
		a.payments = append(a.payments, m)
		if a.isCustomer(sender) {
			a.customerPayments[sender] = append(a.customerPayments[sender], m)
		}
	case domain.TextMessage:
	}
}

// ContainsProposal reports whether id occurs in the prompt or the response
// of call.
func ContainsProposal(call domain.LLMCallLog, id string) bool {
	for _, t := range call.PromptTexts() {
		if strings.Contains(t, id) {
			return true
		}
	}
	return strings.Contains(call.ResponseText(), id)
}

func (a *Audit) paymentFor(proposalID string) *domain.Payment {
	for i := range a.payments {
		if a.payments[i].ProposalMessageID == proposalID {
			p := a.payments[i]
			return &p
		}
	}
	return nil
}

func (a *Audit) messagesTo(customerID, businessID string) []TimedMessage {
	var out []TimedMessage
	for _, s := range a.customerSent[customerID] {
		if s.to == businessID {
			out = append(out, TimedMessage{Message: s.msg, Timestamp: s.at})
		}
	}
	return out
}

// Utility returns the customer's realized utility, whether their needs
// were met, and the best utility reachable at posted prices. Item sets
// must match exactly; no fuzzy matching is applied.
func (a *Audit) Utility(customerID string) (float64, bool, *float64) {
	c, ok := a.customers[customerID]
	if !ok {
		return 0, false, nil
	}
	wtp := c.TotalWillingnessToPay()

	var optimal *float64
	for _, m := range analytics.MenuMatchesFor(c, a.businesses) {
		if a.businesses[m.BusinessID].SatisfiesAmenities(c.AmenityFeatures) {
			v := round2(2*wtp - m.Price)
			optimal = &v
			break
		}
	}

	requested := c.RequestedItems()
	var paid float64
	needsMet := false
	for _, pay := range a.customerPayments[customerID] {
		p, ok := a.received(customerID, pay.ProposalMessageID)
		if !ok {
			continue
		}
		paid += p.TotalPrice
		if !sameItems(p, requested) {
			continue
		}
		origin, ok := a.origins[p.ID]
		if !ok {
			continue
		}
		if b, ok := a.businesses[origin.businessID]; ok && b.SatisfiesAmenities(c.AmenityFeatures) {
			needsMet = true
		}
	}

	score := 0.0
	if needsMet {
		score = 2 * wtp
	}
	return round2(score - paid), needsMet, optimal
}

func (a *Audit) received(customerID, proposalID string) (domain.OrderProposal, bool) {
	for _, p := range a.customerProposal[customerID] {
		if p.ID == proposalID {
			return p, true
		}
	}
	return domain.OrderProposal{}, false
}

func sameItems(p domain.OrderProposal, requested []string) bool {
	names := make(map[string]bool, len(p.Items))
	for _, item := range p.Items {
		names[item.ItemName] = true
	}
	if len(names) != len(requested) {
		return false
	}
	for _, r := range requested {
		if !names[r] {
			return false
		}
	}
	return true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
