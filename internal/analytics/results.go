// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

type TransactionSummary struct {
	OrderProposalsCreated     int      `json:"order_proposals_created"`
	PaymentsMade              int      `json:"payments_made"`
	AveragePaidOrderValue     *float64 `json:"average_paid_order_value"`
	AverageProposalValue      *float64 `json:"average_proposal_value"`
	InvalidProposalsPurchased int      `json:"invalid_proposals_purchased"`
	TotalInvalidProposals     int      `json:"total_invalid_proposals"`
}

type CustomerSummary struct {
	CustomerID        string  `json:"customer_id"`
	CustomerName      string  `json:"customer_name"`
	MessagesSent      int     `json:"messages_sent"`
	SearchesMade      int     `json:"searches_made"`
	ProposalsReceived int     `json:"proposals_received"`
	PaymentsMade      int     `json:"payments_made"`
	Utility           float64 `json:"utility"`
	NeedsMet          bool    `json:"needs_met"`
}

type BusinessSummary struct {
	BusinessID    string  `json:"business_id"`
	BusinessName  string  `json:"business_name"`
	MessagesSent  int     `json:"messages_sent"`
	ProposalsSent int     `json:"proposals_sent"`
	Utility       float64 `json:"utility"`
}

// Results is the serialized outcome of an analysis.
type Results struct {
	TotalCustomers       int                `json:"total_customers"`
	TotalBusinesses      int                `json:"total_businesses"`
	TotalActionsExecuted int                `json:"total_actions_executed"`
	TotalMessagesSent    int                `json:"total_messages_sent"`
	ActionBreakdown      map[string]int     `json:"action_breakdown"`
	MessageTypeBreakdown map[string]int     `json:"message_type_breakdown"`
	TransactionSummary   TransactionSummary `json:"transaction_summary"`
	CustomerSummaries    []CustomerSummary  `json:"customer_summaries"`
	BusinessSummaries    []BusinessSummary  `json:"business_summaries"`

	CustomersWhoMadePurchases       int      `json:"customers_who_made_purchases"`
	CustomersWithNeedsMet           int      `json:"customers_with_needs_met"`
	TotalMarketplaceCustomerUtility float64  `json:"total_marketplace_customer_utility"`
	AverageUtilityPerActiveCustomer *float64 `json:"average_utility_per_active_customer"`
	PurchaseCompletionRate          float64  `json:"purchase_completion_rate"`

	LLMProviders   []string `json:"llm_providers"`
	LLMModels      []string `json:"llm_models"`
	TotalLLMCalls  int      `json:"total_llm_calls"`
	FailedLLMCalls int      `json:"failed_llm_calls"`

	InvalidProposals              map[string][]ProposalError `json:"invalid_proposals"`
	PurchasedProposalFuzzyMatches map[string][]FuzzyMatch    `json:"purchased_proposal_fuzzy_matches"`
	FuzzyMatchDistance            int                        `json:"fuzzy_match_distance"`
}

// Results aggregates the replayed state. Customers and businesses are
// listed in id order.
func (a *Analysis) Results() Results {
	revenue := a.BusinessRevenue()

	ts := TransactionSummary{
		OrderProposalsCreated: len(a.proposals),
		PaymentsMade:          len(a.payments),
		TotalInvalidProposals: len(a.invalid),
	}
	if len(a.proposals) > 0 {
		var sum float64
		for _, p := range a.proposals {
			sum += p.TotalPrice
		}
		avg := sum / float64(len(a.proposals))
		ts.AverageProposalValue = &avg
	}
	var paid []float64
	for customerID, payments := range a.customerPayments {
		for _, pay := range payments {
			if p, ok := a.receivedProposal(customerID, pay.ProposalMessageID); ok {
				paid = append(paid, p.TotalPrice)
			}
		}
	}
	if len(paid) > 0 {
		var sum float64
		for _, v := range paid {
			sum += v
		}
		avg := sum / float64(len(paid))
		ts.AveragePaidOrderValue = &avg
	}
	for id := range a.invalid {
		if a.purchased[id] {
			ts.InvalidProposalsPurchased++
		}
	}

	res := Results{
		TotalCustomers:                len(a.customers),
		TotalBusinesses:               len(a.businesses),
		ActionBreakdown:               a.actionStats,
		MessageTypeBreakdown:          a.messageStats,
		TransactionSummary:            ts,
		LLMProviders:                  sortedKeys(a.providers),
		LLMModels:                     sortedKeys(a.models),
		FailedLLMCalls:                a.failedLLMCalls,
		InvalidProposals:              a.invalid,
		PurchasedProposalFuzzyMatches: make(map[string][]FuzzyMatch),
		FuzzyMatchDistance:            a.opts.FuzzyMatchDistance,
	}
	for _, n := range a.actionStats {
		res.TotalActionsExecuted += n
	}
	for _, n := range a.messageStats {
		res.TotalMessagesSent += n
	}
	for _, calls := range a.llmCalls {
		res.TotalLLMCalls += len(calls)
	}

	for _, id := range sortedKeys(a.customers) {
		c := a.customers[id]
		utility, needsMet, fuzzy := a.customerUtility(id)
		for pid, m := range fuzzy {
			res.PurchasedProposalFuzzyMatches[pid] = m
		}
		s := CustomerSummary{
			CustomerID:        id,
			CustomerName:      c.Name,
			MessagesSent:      len(a.customerMessages[id]),
			SearchesMade:      len(a.searches[id]),
			ProposalsReceived: len(a.customerOrders[id]),
			PaymentsMade:      len(a.customerPayments[id]),
			Utility:           utility,
			NeedsMet:          needsMet,
		}
		res.CustomerSummaries = append(res.CustomerSummaries, s)
		res.TotalMarketplaceCustomerUtility += utility
		if s.PaymentsMade > 0 {
			res.CustomersWhoMadePurchases++
		}
		if needsMet {
			res.CustomersWithNeedsMet++
		}
	}

	for _, id := range sortedKeys(a.businesses) {
		proposals := 0
		for _, m := range a.businessMessages[id] {
			if _, ok := m.(domain.OrderProposal); ok {
				proposals++
			}
		}
		res.BusinessSummaries = append(res.BusinessSummaries, BusinessSummary{
			BusinessID:    id,
			BusinessName:  a.businesses[id].Name,
			MessagesSent:  len(a.businessMessages[id]),
			ProposalsSent: proposals,
			Utility:       revenue[id],
		})
	}

	if res.CustomersWhoMadePurchases > 0 {
		avg := res.TotalMarketplaceCustomerUtility / float64(res.CustomersWhoMadePurchases)
		res.AverageUtilityPerActiveCustomer = &avg
	}
	if len(a.customers) > 0 {
		res.PurchaseCompletionRate = float64(res.CustomersWhoMadePurchases) / float64(len(a.customers)) * 100
	}
	return res
}

// ResultsPath is the file analytics results are saved to for an experiment.
func ResultsPath(dbName string) string {
	return fmt.Sprintf("analytics_results_%s.json", dbName)
}

// SaveJSON writes results to path as indented JSON.
func SaveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
