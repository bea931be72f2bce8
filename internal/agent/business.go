// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/ledger"
	"github.com/adiadia/agent-marketplace/internal/llm"
	"github.com/adiadia/agent-marketplace/internal/metrics"
)

const fallbackReply = "I'm sorry, I'm having trouble processing your request right now. Please try again."

// Business answers customer inquiries, issues proposals and confirms
// payments against its own ledger.
type Business struct {
	base
	profile domain.Business
	ledger  *ledger.Ledger
	newID   func() string

	mu        sync.Mutex
	histories map[string][]string
	confirmed []string
}

func NewBusiness(profile domain.Business, market Marketplace, caller *llm.Caller, opts Options) *Business {
	return &Business{
		base:      newBase(profile.ID, profile.Name, domain.KindBusiness, market, caller, opts),
		profile:   profile,
		ledger:    ledger.New(),
		newID:     uuid.NewString,
		histories: map[string][]string{},
	}
}

func (b *Business) Kind() domain.AgentKind { return domain.KindBusiness }

// Ledger exposes the proposals this business has issued.
func (b *Business) Ledger() *ledger.Ledger { return b.ledger }

// Run serves customers until ctx is cancelled. Cancellation is the normal
// way to stop a business and is not reported as an error.
func (b *Business) Run(ctx context.Context) error {
	b.logger.Info("ready for customers")
	for {
		n, err := b.Step(ctx)
		if ctx.Err() != nil {
			b.logger.Info("business stopped", "confirmed_orders", len(b.Confirmed()))
			return nil
		}
		if err != nil {
			b.logger.Error("business step failed", "err", err)
		}
		if n == 0 {
			if sleep(ctx, b.poll) != nil {
				b.logger.Info("business stopped", "confirmed_orders", len(b.Confirmed()))
				return nil
			}
		}
	}
}

// Step fetches new messages and answers each sender concurrently. It
// returns the number of messages handled.
func (b *Business) Step(ctx context.Context) (int, error) {
	metrics.IncAgentStep(domain.KindBusiness)

	resp, err := b.fetchMessages(ctx)
	if err != nil {
		return 0, err
	}
	if len(resp.Messages) == 0 {
		return 0, nil
	}

	var order []string
	bySender := map[string][]domain.ReceivedMessage{}
	for _, m := range resp.Messages {
		if _, ok := bySender[m.FromAgentID]; !ok {
			order = append(order, m.FromAgentID)
		}
		bySender[m.FromAgentID] = append(bySender[m.FromAgentID], m)
	}

	// One sender's failure must not cancel replies to the others.
	var g errgroup.Group
	for _, customerID := range order {
		msgs := bySender[customerID]
		g.Go(func() error {
			return b.handleCustomer(ctx, customerID, msgs)
		})
	}
	return len(resp.Messages), g.Wait()
}

func (b *Business) handleCustomer(ctx context.Context, customerID string, msgs []domain.ReceivedMessage) error {
	var outgoing []domain.Message
	var lastText *domain.TextMessage

	for _, m := range msgs {
		switch msg := m.Message.(type) {
		case domain.Payment:
			outgoing = append(outgoing, b.handlePayment(customerID, msg))
		case domain.TextMessage:
			lastText = &msg
		case domain.OrderProposal:
			b.logger.Warn("ignoring proposal sent to a business", "from", customerID, "proposal_id", msg.ID)
		}
		b.addHistory(customerID, "Customer", m.Message)
	}

	if lastText != nil {
		reply, err := b.respond(ctx, customerID)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		outgoing = append(outgoing, reply)
	}

	var errs []error
	for _, msg := range outgoing {
		if p, ok := msg.(domain.OrderProposal); ok {
			if err := b.ledger.Add(p, b.id, customerID); err != nil {
				b.logger.Error("store proposal", "proposal_id", p.ID, "err", err)
				continue
			}
		}

		result, err := b.sendMessage(ctx, customerID, msg)
		switch {
		case err != nil:
			errs = append(errs, err)
			b.logger.Error("send message failed", "to", customerID, "err", err)
			b.addNote(customerID, "You", fmt.Sprintf("Error: Failed to send message to %s: %v", customerID, err))
			b.withdraw(msg)
		case result.IsError:
			b.logger.Error("send message rejected", "to", customerID, "content", string(result.Content))
			b.addNote(customerID, "You", fmt.Sprintf("Error: Failed to send message to %s: %s", customerID, result.Content))
			b.withdraw(msg)
		default:
			b.addHistory(customerID, "You", msg)
		}
	}
	return errors.Join(errs...)
}

// withdraw rejects a proposal the customer never received, so it cannot
// be paid or counted as pending.
func (b *Business) withdraw(msg domain.Message) {
	p, ok := msg.(domain.OrderProposal)
	if !ok {
		return
	}
	if _, err := b.ledger.Reject(p.ID); err != nil {
		b.logger.Error("withdraw proposal", "proposal_id", p.ID, "err", err)
		return
	}
	b.logger.Warn("proposal withdrawn", "proposal_id", p.ID)
}

// respond asks the model for a reply to the conversation with customerID.
// A failed decision degrades to an apology rather than silence.
func (b *Business) respond(ctx context.Context, customerID string) (domain.Message, error) {
	prompt := businessPrompt(b.profile, customerID, b.History(customerID))
	action, err := llm.GenerateStruct[BusinessAction](ctx, b.caller, prompt, businessActionSchema)
	if err != nil {
		b.logger.Error("llm response failed", "customer_id", customerID, "err", err)
		return domain.TextMessage{Content: fallbackReply}, err
	}

	switch action.ActionType {
	case BusinessProposal:
		if action.OrderProposalMessage != nil {
			return b.proposalFrom(*action.OrderProposalMessage), nil
		}
	case BusinessText:
		if action.TextMessage != nil {
			return domain.TextMessage{Content: action.TextMessage.Content}, nil
		}
	}
	return domain.TextMessage{Content: fallbackReply}, fmt.Errorf("incomplete business action %q", action.ActionType)
}

func (b *Business) proposalFrom(req BusinessProposalRequest) domain.OrderProposal {
	p := domain.OrderProposal{
		ID:         b.newID(),
		Items:      make([]domain.OrderItem, 0, len(req.Items)),
		TotalPrice: req.TotalPrice,
	}
	for _, it := range req.Items {
		p.Items = append(p.Items, domain.OrderItem{
			ID:        it.ID,
			ItemName:  it.ItemName,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	if req.SpecialInstructions != "" {
		s := req.SpecialInstructions
		p.SpecialInstructions = &s
	}
	if req.EstimatedDelivery != "" {
		s := req.EstimatedDelivery
		p.EstimatedDelivery = &s
	}
	return p
}

// handlePayment confirms a payment only for a pending proposal this
// business issued. Anything else gets an error reply.
func (b *Business) handlePayment(customerID string, payment domain.Payment) domain.TextMessage {
	id := payment.ProposalMessageID
	b.logger.Info("processing payment", "proposal_id", id, "customer_id", customerID)

	rec, err := b.ledger.Accept(id)
	if err != nil {
		if errors.Is(err, domain.ErrProposalNotPending) {
			b.logger.Error("payment for proposal that is not pending", "proposal_id", id, "customer_id", customerID, "status", string(rec.Status))
		} else {
			b.logger.Error("payment for unknown proposal", "proposal_id", id, "customer_id", customerID)
		}
		return domain.TextMessage{Content: fmt.Sprintf("Error: Could not find a pending proposal with id %s.", id)}
	}

	b.mu.Lock()
	b.confirmed = append(b.confirmed, id)
	b.mu.Unlock()

	b.logger.Info("confirmed payment", "proposal_id", id, "customer_id", customerID, "total", rec.Proposal.TotalPrice)
	return domain.TextMessage{Content: fmt.Sprintf("Payment received for order %s. Total: $%.2f. Your order is confirmed!", id, rec.Proposal.TotalPrice)}
}

func (b *Business) addHistory(customerID, prefix string, msg domain.Message) {
	var line string
	switch m := msg.(type) {
	case domain.TextMessage:
		line = m.Content
	case domain.OrderProposal, domain.Payment:
		line = compactMessage(m)
	}
	b.addNote(customerID, prefix, line)
}

func (b *Business) addNote(customerID, prefix, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.histories[customerID] = append(b.histories[customerID], prefix+": "+line)
}

// History returns the conversation with customerID as prompt lines.
func (b *Business) History(customerID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.histories[customerID]...)
}

func (b *Business) Confirmed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.confirmed...)
}

// BusinessSummary describes a business after a run.
type BusinessSummary struct {
	BusinessID        string  `json:"business_id"`
	BusinessName      string  `json:"business_name"`
	Description       string  `json:"description"`
	Rating            float64 `json:"rating"`
	MenuItems         int     `json:"menu_items"`
	Amenities         int     `json:"amenities"`
	PendingProposals  int     `json:"pending_proposals"`
	ConfirmedOrders   int     `json:"confirmed_orders"`
	DeliveryAvailable bool    `json:"delivery_available"`
}

func (b *Business) Summary() BusinessSummary {
	return BusinessSummary{
		BusinessID:        b.profile.ID,
		BusinessName:      b.profile.Name,
		Description:       b.profile.Description,
		Rating:            b.profile.Rating,
		MenuItems:         len(b.profile.MenuFeatures),
		Amenities:         len(b.profile.AmenityFeatures),
		PendingProposals:  b.ledger.CountByStatus(domain.ProposalPending),
		ConfirmedOrders:   len(b.Confirmed()),
		DeliveryAvailable: b.profile.AmenityFeatures["delivery"],
	}
}
