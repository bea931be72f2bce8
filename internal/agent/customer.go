// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/ledger"
	"github.com/adiadia/agent-marketplace/internal/llm"
	"github.com/adiadia/agent-marketplace/internal/metrics"
)

const (
	DefaultMaxSteps        = 100
	DefaultSearchBandwidth = 10
)

// Phase is the customer's position in the purchase flow.
type Phase string

const (
	PhaseSearching Phase = "searching"
	PhaseInquiring Phase = "inquiring"
	PhaseAwaiting  Phase = "awaiting_responses"
	PhaseComparing Phase = "comparing"
	PhasePaying    Phase = "paying"
	PhaseDone      Phase = "done"
)

// stepOutcome summarizes what one executed decision achieved.
type stepOutcome struct {
	action    string
	received  int
	found     int
	textsSent int
	proposals int
	paid      int
}

// nextPhase is the customer transition function. Done is terminal.
func nextPhase(p Phase, o stepOutcome) Phase {
	if p == PhaseDone || o.action == CustomerEnd {
		return PhaseDone
	}
	if o.paid > 0 {
		return PhasePaying
	}
	if o.proposals > 0 && p != PhasePaying {
		return PhaseComparing
	}
	switch o.action {
	case CustomerSearch:
		if o.found > 0 && p == PhaseSearching {
			return PhaseInquiring
		}
	case CustomerSend:
		if o.textsSent > 0 && (p == PhaseSearching || p == PhaseInquiring) {
			return PhaseAwaiting
		}
	}
	return p
}

// historyEntry is one line item of the customer's audit trail. Failure
// entries carry a diagnostic string instead of an action.
type historyEntry struct {
	Label   string
	Lines   []string
	Failure string
}

type CustomerOptions struct {
	Options
	SearchAlgorithm domain.SearchAlgorithm
	SearchBandwidth int
	MaxSteps        int
}

// Customer shops on behalf of one customer profile. It is driven by a
// single goroutine.
type Customer struct {
	base
	profile   domain.Customer
	ledger    *ledger.Ledger
	algorithm domain.SearchAlgorithm
	bandwidth int
	maxSteps  int

	phase     Phase
	step      int
	history   []historyEntry
	completed []string
}

func NewCustomer(profile domain.Customer, market Marketplace, caller *llm.Caller, opts CustomerOptions) *Customer {
	if opts.SearchAlgorithm == "" {
		opts.SearchAlgorithm = domain.SearchSimple
	}
	if opts.SearchBandwidth <= 0 {
		opts.SearchBandwidth = DefaultSearchBandwidth
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	return &Customer{
		base:      newBase(profile.ID, profile.Name, domain.KindCustomer, market, caller, opts.Options),
		profile:   profile,
		ledger:    ledger.New(),
		algorithm: opts.SearchAlgorithm,
		bandwidth: opts.SearchBandwidth,
		maxSteps:  opts.MaxSteps,
		phase:     PhaseSearching,
	}
}

func (c *Customer) Kind() domain.AgentKind { return domain.KindCustomer }
func (c *Customer) Phase() Phase           { return c.phase }
func (c *Customer) Steps() int             { return c.step }

// Run steps until the customer ends the transaction, the step budget is
// spent or ctx is cancelled.
func (c *Customer) Run(ctx context.Context) error {
	c.logger.Info("starting autonomous shopping agent", "max_steps", c.maxSteps)
	for c.phase != PhaseDone {
		newMessages, err := c.Step(ctx)
		if err != nil {
			return err
		}
		if c.phase == PhaseDone {
			break
		}
		if c.step >= c.maxSteps {
			c.logger.Warn("max steps exceeded, shutting down early", "steps", c.step)
			c.phase = PhaseDone
			break
		}
		if !newMessages {
			if err := sleep(ctx, c.poll); err != nil {
				return err
			}
		}
	}
	c.logger.Info("customer finished", "steps", c.step, "completed", len(c.completed))
	return nil
}

// Step runs one fetch, decide, execute cycle. It reports whether new
// messages arrived. Only context errors are returned.
func (c *Customer) Step(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.step++
	metrics.IncAgentStep(domain.KindCustomer)

	received, proposals, err := c.receive(ctx, "inbox (checked automatically)", false)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.fail(fmt.Sprintf("fetch messages failed: %v", err))
	}

	action, err := c.decide(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.logger.Error("llm decision failed", "step", c.step, "err", err)
		c.fail(fmt.Sprintf("LLM decision failed: %v", err))
		return received > 0, nil
	}
	c.logger.Info("decided action",
		"step", fmt.Sprintf("%d/%d", c.step, c.maxSteps),
		"action", action.ActionType,
		"reason", action.Reason,
		"phase", string(c.phase),
	)

	outcome, err := c.execute(ctx, action)
	if err != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}
	outcome.proposals += proposals
	c.phase = nextPhase(c.phase, outcome)
	return received > 0 || outcome.received > 0, nil
}

func (c *Customer) decide(ctx context.Context) (CustomerAction, error) {
	prompt := c.prompt()
	action, err := llm.GenerateStruct[CustomerAction](ctx, c.caller, prompt, customerActionSchema)
	if err != nil {
		return CustomerAction{}, err
	}
	return action, nil
}

func (c *Customer) execute(ctx context.Context, action CustomerAction) (stepOutcome, error) {
	o := stepOutcome{action: action.ActionType}
	switch action.ActionType {
	case CustomerSearch:
		return c.searchBusinesses(ctx, action)
	case CustomerCheck:
		n, proposals, err := c.receive(ctx, "check_messages (checking for responses)", true)
		if err != nil {
			c.record("check_messages (checking for responses)", fmt.Sprintf("Failed to fetch messages. %v", err))
			return o, err
		}
		o.received, o.proposals = n, proposals
		return o, nil
	case CustomerSend:
		return c.sendMessages(ctx, action)
	case CustomerEnd:
		c.record("end_transaction", fmt.Sprintf("Transaction ended. Reason: %s", action.Reason))
		return o, nil
	default:
		c.fail(fmt.Sprintf("unknown action type %q", action.ActionType))
		return o, nil
	}
}

func (c *Customer) searchBusinesses(ctx context.Context, action CustomerAction) (stepOutcome, error) {
	o := stepOutcome{action: CustomerSearch}
	query := strings.TrimSpace(action.SearchQuery)
	if query == "" {
		query = c.profile.Request
	}
	page := max(action.SearchPage, 1)
	label := fmt.Sprintf("search_businesses: {\"search_query\":%q,\"search_page\":%d}", query, page)

	resp, result, err := c.search(ctx, domain.Search{
		Query:           query,
		SearchAlgorithm: c.algorithm,
		Limit:           c.bandwidth,
		Page:            page,
	})
	if err != nil {
		c.record(label, fmt.Sprintf("Failed to search businesses. %v", err))
		return o, err
	}
	if result.IsError {
		c.record(label, fmt.Sprintf("Failed to search businesses. %s", result.Content))
		return o, nil
	}

	names := make([]string, 0, len(resp.Businesses))
	for _, b := range resp.Businesses {
		names = append(names, b.Name())
	}
	c.logger.Info("search completed",
		"query", query,
		"algorithm", string(c.algorithm),
		"found", len(resp.Businesses),
		"businesses", strings.Join(names, ","),
	)

	c.record(label, formatSearchResult(c.step, page, resp)...)
	o.found = len(resp.Businesses)
	return o, nil
}

func (c *Customer) sendMessages(ctx context.Context, action CustomerAction) (stepOutcome, error) {
	o := stepOutcome{action: CustomerSend}
	if action.Messages == nil {
		c.fail("messages cannot be empty when action_type is send_messages")
		return o, nil
	}

	total := len(action.Messages.TextMessages) + len(action.Messages.PayMessages)
	var lines []string
	var infraErr error

	for _, tm := range action.Messages.TextMessages {
		lines = append(lines, fmt.Sprintf("Sent to %s: %s", tm.ToBusinessID, tm.Content))
		result, err := c.sendMessage(ctx, tm.ToBusinessID, domain.TextMessage{Content: tm.Content})
		switch {
		case err != nil:
			infraErr = errors.Join(infraErr, err)
			c.logger.Error("send message failed", "to", tm.ToBusinessID, "err", err)
			lines = append(lines, fmt.Sprintf("❌ Send failed: %v", err))
		case result.IsError:
			c.logger.Error("send message rejected", "to", tm.ToBusinessID, "content", string(result.Content))
			lines = append(lines, fmt.Sprintf("❌ Send failed: %s", result.Content))
		default:
			o.textsSent++
			lines = append(lines, "✅ Message sent successfully")
		}
	}

	for _, pm := range action.Messages.PayMessages {
		paid, payLines, err := c.pay(ctx, pm)
		if err != nil {
			infraErr = errors.Join(infraErr, err)
		}
		if paid {
			o.paid++
		}
		lines = append(lines, payLines...)
	}

	c.record(fmt.Sprintf("send_messages message_count=%d", total), lines...)
	return o, infraErr
}

// pay accepts a proposal from the local ledger. Payments go to the
// business that sent the proposal, whatever the model named.
func (c *Customer) pay(ctx context.Context, pm CustomerPayRequest) (bool, []string, error) {
	stored, ok := c.ledger.Get(pm.ProposalMessageID)
	if !ok {
		msg := fmt.Sprintf("Error: proposal_to_accept '%s' does not match any known proposals.", pm.ProposalMessageID)
		c.logger.Warn("payment for unknown proposal", "proposal_id", pm.ProposalMessageID)
		return false, []string{msg}, nil
	}

	method := pm.PaymentMethod
	if method == "" {
		method = "credit_card"
	}
	note := pm.PaymentMessage
	if note == "" {
		note = fmt.Sprintf("Accepting your proposal for %d items", len(stored.Proposal.Items))
	}
	payment := domain.Payment{
		ProposalMessageID: pm.ProposalMessageID,
		PaymentMethod:     &method,
		PaymentMessage:    &note,
	}
	if pm.DeliveryAddress != "" {
		addr := pm.DeliveryAddress
		payment.DeliveryAddress = &addr
	}

	lines := []string{fmt.Sprintf("Sent to %s: %s", stored.BusinessID, compactMessage(payment))}
	c.logger.Info("sending payment",
		"amount", stored.Proposal.TotalPrice,
		"business_id", stored.BusinessID,
		"proposal_id", pm.ProposalMessageID,
	)

	result, err := c.sendMessage(ctx, stored.BusinessID, payment)
	if err != nil {
		c.logger.Error("payment failed", "proposal_id", pm.ProposalMessageID, "err", err)
		return false, append(lines, fmt.Sprintf("Message failed to send: %v", err)), err
	}
	if result.IsError {
		c.logger.Error("payment rejected", "proposal_id", pm.ProposalMessageID, "content", string(result.Content))
		return false, append(lines, fmt.Sprintf("Message failed to send: Failed to send payment: %s", result.Content)), nil
	}
	if _, err := c.ledger.Accept(pm.ProposalMessageID); err != nil {
		return false, append(lines, "Message failed to send: Failed to update order proposal status."), nil
	}
	c.completed = append(c.completed, pm.ProposalMessageID)
	return true, append(lines, "🎉 PAYMENT COMPLETED SUCCESSFULLY! Transaction accepted by platform. The purchase has been finalized."), nil
}

// receive fetches unseen messages, files proposals in the local ledger and
// records them in history. It returns the number of messages and of new
// proposals received.
func (c *Customer) receive(ctx context.Context, label string, recordEmpty bool) (int, int, error) {
	resp, err := c.fetchMessages(ctx)
	if err != nil {
		return 0, 0, err
	}
	proposals := 0
	for _, m := range resp.Messages {
		p, ok := m.Message.(domain.OrderProposal)
		if !ok {
			continue
		}
		if err := c.ledger.Add(p, m.FromAgentID, c.id); err != nil {
			c.logger.Warn("duplicate proposal ignored", "proposal_id", p.ID, "from", m.FromAgentID)
			continue
		}
		proposals++
		c.logger.Debug("stored order proposal", "proposal_id", p.ID, "from", m.FromAgentID, "index", m.Index)
	}

	if len(resp.Messages) == 0 {
		if recordEmpty {
			c.record(label, "📭 No new messages")
		}
		return 0, 0, nil
	}

	lines := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		lines = append(lines, fmt.Sprintf("📨 Received %s from %s: %s", m.Message.Type(), m.FromAgentID, compactMessage(m.Message)))
	}
	c.record(label, lines...)
	return len(resp.Messages), proposals, nil
}

func (c *Customer) record(label string, lines ...string) {
	c.history = append(c.history, historyEntry{Label: label, Lines: lines})
}

func (c *Customer) fail(diagnostic string) {
	c.history = append(c.history, historyEntry{Failure: diagnostic})
}

// CustomerSummary describes what a customer achieved.
type CustomerSummary struct {
	CustomerID            string   `json:"customer_id"`
	CustomerName          string   `json:"customer_name"`
	Request               string   `json:"request"`
	Phase                 Phase    `json:"phase"`
	Steps                 int      `json:"steps"`
	ProposalsReceived     int      `json:"proposals_received"`
	TransactionsCompleted int      `json:"transactions_completed"`
	CompletedProposalIDs  []string `json:"completed_proposal_ids"`
}

func (c *Customer) Summary() CustomerSummary {
	return CustomerSummary{
		CustomerID:            c.profile.ID,
		CustomerName:          c.profile.Name,
		Request:               c.profile.Request,
		Phase:                 c.phase,
		Steps:                 c.step,
		ProposalsReceived:     len(c.ledger.List()),
		TransactionsCompleted: len(c.completed),
		CompletedProposalIDs:  append([]string(nil), c.completed...),
	}
}
