// SPDX-License-Identifier: Apache-2.0

// Package analytics replays an experiment's log and computes customer
// utility, market welfare, proposal validity, and activity summaries.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
)

// Options tune one analysis run.
type Options struct {
	// FuzzyMatchDistance is the largest edit distance at which a proposed
	// item still counts as a requested menu item. Zero means exact names.
	FuzzyMatchDistance int
	Logger             *slog.Logger
}

// SearchRecord is one successful customer search.
type SearchRecord struct {
	Query      string   `json:"query"`
	Page       int      `json:"page"`
	Algorithm  string   `json:"algorithm"`
	Businesses []string `json:"businesses"`
}

// MenuMatch is a business able to serve every requested item, priced at
// its posted menu prices.
type MenuMatch struct {
	BusinessID string
	Price      float64
}

// Analysis holds the replayed state of one experiment. Build it with
// Analyze, then read Results or render a report.
type Analysis struct {
	opts   Options
	logger *slog.Logger

	customers  map[string]domain.Customer
	businesses map[string]domain.Business

	actionStats  map[string]int
	messageStats map[string]int

	customerMessages map[string][]domain.Message
	businessMessages map[string][]domain.Message

	proposals        []domain.OrderProposal
	proposalBusiness map[string]string
	payments         []domain.Payment
	customerOrders   map[string][]domain.OrderProposal
	customerPayments map[string][]domain.Payment
	purchased        map[string]bool
	searches         map[string][]SearchRecord

	llmCalls       map[string][]domain.LLMCallLog
	failedLLMCalls int
	providers      map[string]bool
	models         map[string]bool

	invalid      map[string][]ProposalError
	invalidOrder []string
}

// Run loads every table of db and analyzes it.
func Run(ctx context.Context, db store.Database, opts Options) (*Analysis, error) {
	snap, err := store.Load(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	return Analyze(snap, opts)
}

// Analyze replays snap. Rows must be in index order.
func Analyze(snap store.Snapshot, opts Options) (*Analysis, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Analysis{
		opts:             opts,
		logger:           logger,
		customers:        make(map[string]domain.Customer),
		businesses:       make(map[string]domain.Business),
		actionStats:      make(map[string]int),
		messageStats:     make(map[string]int),
		customerMessages: make(map[string][]domain.Message),
		businessMessages: make(map[string][]domain.Message),
		proposalBusiness: make(map[string]string),
		customerOrders:   make(map[string][]domain.OrderProposal),
		customerPayments: make(map[string][]domain.Payment),
		purchased:        make(map[string]bool),
		searches:         make(map[string][]SearchRecord),
		llmCalls:         make(map[string][]domain.LLMCallLog),
		providers:        make(map[string]bool),
		models:           make(map[string]bool),
		invalid:          make(map[string][]ProposalError),
	}

	for _, row := range snap.Agents {
		switch row.Data.Kind {
		case domain.KindCustomer:
			if row.Data.Customer == nil {
				return nil, fmt.Errorf("agent %s: customer profile missing", row.ID)
			}
			a.customers[row.ID] = *row.Data.Customer
		case domain.KindBusiness:
			if row.Data.Business == nil {
				return nil, fmt.Errorf("agent %s: business profile missing", row.ID)
			}
			a.businesses[row.ID] = *row.Data.Business
		default:
			return nil, fmt.Errorf("agent %s: unrecognized agent kind %q", row.ID, row.Data.Kind)
		}
	}

	for _, row := range snap.Logs {
		a.addLog(row)
	}
	for _, row := range snap.Actions {
		a.addAction(row)
	}
	return a, nil
}

func (a *Analysis) addLog(row domain.LogRow) {
	call, ok := domain.DecodeLLMCall(row.Data)
	if !ok {
		return
	}
	agentID := row.Data.AgentID()
	if agentID == "" {
		agentID = "unknown"
	}
	a.llmCalls[agentID] = append(a.llmCalls[agentID], call)
	if !call.Success {
		a.failedLLMCalls++
	}
	if call.Provider != "" {
		a.providers[call.Provider] = true
	}
	if call.Model != "" {
		a.models[call.Model] = true
	}
}

func (a *Analysis) addAction(row domain.ActionRow) {
	a.actionStats[row.Data.Request.Name]++

	action, err := domain.DecodeAction(row.Data.Request.Parameters)
	if err != nil {
		a.logger.Warn("skip undecodable action", "index", row.Index, "error", err)
		return
	}
	agentID := row.Data.AgentID

	switch act := action.(type) {
	case domain.SendMessage:
		if !row.Data.Result.IsError {
			a.addMessage(act, agentID)
		}
	case domain.Search:
		if row.Data.Result.IsError {
			return
		}
		var resp domain.SearchResponse
		if err := json.Unmarshal(row.Data.Result.Content, &resp); err != nil {
			a.logger.Warn("skip undecodable search result", "index", row.Index, "error", err)
			return
		}
		names := make([]string, 0, len(resp.Businesses))
		for _, b := range resp.Businesses {
			names = append(names, b.Name())
		}
		a.searches[agentID] = append(a.searches[agentID], SearchRecord{
			Query:      act.Query,
			Page:       act.Page,
			Algorithm:  string(act.SearchAlgorithm),
			Businesses: names,
		})
	case domain.FetchMessages:
	}
}

// addMessage records a delivered message. The acting agent is the sender;
// the executor overrides from_agent_id with it.
func (a *Analysis) addMessage(act domain.SendMessage, sender string) {
	a.messageStats[string(act.Message.Type())]++

	_, fromCustomer := a.customers[sender]
	_, fromBusiness := a.businesses[sender]
	switch {
	case fromCustomer:
		a.customerMessages[sender] = append(a.customerMessages[sender], act.Message)
	case fromBusiness:
		a.businessMessages[sender] = append(a.businessMessages[sender], act.Message)
	}

	switch m := act.Message.(type) {
	case domain.OrderProposal:
		a.proposals = append(a.proposals, m)
		if errs := a.checkProposal(m, sender, act.ToAgentID); len(errs) > 0 {
			if _, seen := a.invalid[m.ID]; !seen {
				a.invalidOrder = append(a.invalidOrder, m.ID)
			}
			a.invalid[m.ID] = append(a.invalid[m.ID], errs...)
		}
		if !fromBusiness {
			return
		}
		if _, ok := a.proposalBusiness[m.ID]; !ok {
			a.proposalBusiness[m.ID] = sender
		}
		if _, ok := a.customers[act.ToAgentID]; ok {
			a.customerOrders[act.ToAgentID] = append(a.customerOrders[act.ToAgentID], m)
		} else {
			a.logger.Warn("order proposal to unknown customer", "proposal_id", m.ID, "to_agent_id", act.ToAgentID)
		}
	case domain.Payment:
		a.payments = append(a.payments, m)
		a.purchased[m.ProposalMessageID] = true
		if fromCustomer {
			a.customerPayments[sender] = append(a.customerPayments[sender], m)
		}
	case domain.TextMessage:
	}
}

// receivedProposal returns the proposal a customer received with id.
func (a *Analysis) receivedProposal(customerID, id string) (domain.OrderProposal, bool) {
	for _, p := range a.customerOrders[customerID] {
		if p.ID == id {
			return p, true
		}
	}
	return domain.OrderProposal{}, false
}

// MenuMatches lists businesses whose menu holds every item the customer
// requested, cheapest first.
func (a *Analysis) MenuMatches(customerID string) []MenuMatch {
	c, ok := a.customers[customerID]
	if !ok {
		return nil
	}
	return MenuMatchesFor(c, a.businesses)
}

// MenuMatchesFor lists the businesses able to serve every item c requests,
// cheapest first, ties broken by id.
func MenuMatchesFor(c domain.Customer, businesses map[string]domain.Business) []MenuMatch {
	var out []MenuMatch
	for id, b := range businesses {
		total, ok := 0.0, true
		for _, item := range c.RequestedItems() {
			price, has := b.MenuFeatures[item]
			if !has {
				ok = false
				break
			}
			total += price
		}
		if ok {
			out = append(out, MenuMatch{BusinessID: id, Price: round2(total)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].BusinessID < out[j].BusinessID
	})
	return out
}

// AmenityMatch reports whether the business offers every amenity the
// customer requires.
func (a *Analysis) AmenityMatch(customerID, businessID string) bool {
	c, ok := a.customers[customerID]
	if !ok {
		return false
	}
	b, ok := a.businesses[businessID]
	if !ok {
		return false
	}
	return b.SatisfiesAmenities(c.AmenityFeatures)
}

// OptimalBusiness returns the cheapest business that satisfies both the
// menu and the amenity requirements of the customer.
func (a *Analysis) OptimalBusiness(customerID string) (string, bool) {
	for _, m := range a.MenuMatches(customerID) {
		if a.AmenityMatch(customerID, m.BusinessID) {
			return m.BusinessID, true
		}
	}
	return "", false
}

// CustomerUtility returns the customer's realized utility and whether the
// customer's needs were met by at least one paid proposal.
func (a *Analysis) CustomerUtility(customerID string) (float64, bool) {
	utility, needsMet, _ := a.customerUtility(customerID)
	return utility, needsMet
}

func (a *Analysis) customerUtility(customerID string) (float64, bool, map[string][]FuzzyMatch) {
	c, ok := a.customers[customerID]
	if !ok {
		return 0, false, nil
	}
	requested := c.RequestedItems()

	var paid float64
	needsMet := false
	fuzzy := make(map[string][]FuzzyMatch)
	for _, pay := range a.customerPayments[customerID] {
		p, ok := a.receivedProposal(customerID, pay.ProposalMessageID)
		if !ok {
			continue
		}
		businessID, ok := a.proposalBusiness[p.ID]
		if !ok {
			continue
		}
		paid += p.TotalPrice

		matched, matches := a.validItems(businessID, p)
		if !coversAll(matched, requested) {
			continue
		}
		if len(matches) > 0 {
			fuzzy[p.ID] = matches
		}
		if a.AmenityMatch(customerID, businessID) {
			needsMet = true
		}
	}

	score := 0.0
	if needsMet {
		score = 2 * c.TotalWillingnessToPay()
	}
	return round2(score - paid), needsMet, fuzzy
}

// validItems returns the proposal's items that are on the business menu,
// allowing fuzzy matches up to the configured distance.
func (a *Analysis) validItems(businessID string, p domain.OrderProposal) (map[string]bool, []FuzzyMatch) {
	b, ok := a.businesses[businessID]
	if !ok {
		return map[string]bool{}, nil
	}
	names := make([]string, 0, len(p.Items))
	for _, item := range p.Items {
		names = append(names, item.ItemName)
	}
	return MatchItems(b.MenuItems(), names, a.opts.FuzzyMatchDistance)
}

// BusinessRevenue sums the paid proposals of each business.
func (a *Analysis) BusinessRevenue() map[string]float64 {
	out := make(map[string]float64)
	for customerID, payments := range a.customerPayments {
		for _, pay := range payments {
			p, ok := a.receivedProposal(customerID, pay.ProposalMessageID)
			if !ok {
				continue
			}
			if businessID, ok := a.proposalBusiness[p.ID]; ok {
				out[businessID] += p.TotalPrice
			}
		}
	}
	return out
}

func coversAll(have map[string]bool, want []string) bool {
	for _, w := range want {
		if !have[w] {
			return false
		}
	}
	return true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
