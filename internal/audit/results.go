// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/traces"
)

type CustomerStats struct {
	Received int `json:"received"`
	Found    int `json:"found"`
	Missing  int `json:"missing"`
}

// MissingDetail is the diagnostic bundle for a proposal that did not reach
// the customer's last LLM call.
type MissingDetail struct {
	ProposalID string `json:"proposal_id"`
	BusinessID string `json:"business_id"`
	CustomerID string `json:"customer_id"`
	Reason     string `json:"reason"`

	LLMModel          string                `json:"llm_model,omitempty"`
	LLMProvider       string                `json:"llm_provider,omitempty"`
	LLMPrompt         json.RawMessage       `json:"llm_prompt,omitempty"`
	LLMResponse       json.RawMessage       `json:"llm_response,omitempty"`
	LLMTimestamp      *time.Time            `json:"llm_timestamp,omitempty"`
	Proposal          *domain.OrderProposal `json:"proposal,omitempty"`
	ProposalTimestamp *time.Time            `json:"proposal_timestamp,omitempty"`

	CustomerMessagesToBusiness []TimedMessage  `json:"customer_messages_to_business,omitempty"`
	Payment                    *domain.Payment `json:"payment,omitempty"`
	FetchMessagesActions       []FetchRecord   `json:"fetch_messages_actions,omitempty"`
	CustomerTimeline           []TimelineEvent `json:"customer_timeline,omitempty"`
}

type BusinessTransaction struct {
	BusinessID   string  `json:"business_id"`
	BusinessName string  `json:"business_name"`
	PricePaid    float64 `json:"price_paid"`
	TracePath    string  `json:"trace_path"`
}

// SuboptimalCustomer is a paying customer whose utility fell short of the
// best reachable utility.
type SuboptimalCustomer struct {
	CustomerID             string                `json:"customer_id"`
	CustomerName           string                `json:"customer_name"`
	ActualUtility          float64               `json:"actual_utility"`
	OptimalUtility         float64               `json:"optimal_utility"`
	UtilityGap             float64               `json:"utility_gap"`
	NeedsMet               bool                  `json:"needs_met"`
	BusinessesTransacted   []BusinessTransaction `json:"businesses_transacted"`
	ProposalsReceivedTotal int                   `json:"proposals_received_total"`
	ProposalsInFinalLLMLog int                   `json:"proposals_in_final_llm_log"`
	TracePath              string                `json:"trace_path"`
}

type FetchStats struct {
	TotalFetchActions     int     `json:"total_fetch_actions"`
	CustomersWithFetches  int     `json:"customers_with_fetches"`
	AvgFetchesPerCustomer float64 `json:"avg_fetches_per_customer"`
}

// Results is the serialized outcome of an audit.
type Results struct {
	TotalProposals       int                      `json:"total_proposals"`
	ProposalsFound       int                      `json:"proposals_found"`
	ProposalsMissing     int                      `json:"proposals_missing"`
	CustomersWithoutLogs []string                 `json:"customers_without_logs"`
	MissingDetails       []MissingDetail          `json:"missing_details"`
	CustomerStats        map[string]CustomerStats `json:"customer_stats"`
	UniqueCustomers      []string                 `json:"unique_customers"`
	UniqueBusinesses     []string                 `json:"unique_businesses"`
	MissingReasons       map[string]int           `json:"missing_reasons"`

	CustomersWithSuboptimalUtility      []SuboptimalCustomer `json:"customers_with_suboptimal_utility"`
	CustomersWithSuboptimalUtilityCount int                  `json:"customers_with_suboptimal_utility_count"`
	CustomersWhoMadePurchases           int                  `json:"customers_who_made_purchases"`
	CustomersWithNeedsMet               int                  `json:"customers_with_needs_met"`
	TotalCustomers                      int                  `json:"total_customers"`
	TotalPayments                       int                  `json:"total_payments"`

	FetchMessagesStats FetchStats `json:"fetch_messages_stats"`
}

// Results audits every proposal in send order.
func (a *Audit) Results() Results {
	res := Results{
		TotalProposals: len(a.proposals),
		CustomerStats:  make(map[string]CustomerStats),
		MissingReasons: make(map[string]int),
		TotalCustomers: len(a.customers),
		TotalPayments:  len(a.payments),
	}
	uniqueCustomers := make(map[string]bool)
	uniqueBusinesses := make(map[string]bool)
	withoutLogs := make(map[string]bool)

	for _, p := range a.proposals {
		origin, ok := a.origins[p.ID]
		if !ok {
			a.logger.Warn("no origin for proposal", "proposal_id", p.ID)
			continue
		}
		uniqueCustomers[origin.customerID] = true
		uniqueBusinesses[origin.businessID] = true
		stats := res.CustomerStats[origin.customerID]
		stats.Received++

		detail := MissingDetail{ProposalID: p.ID, BusinessID: origin.businessID, CustomerID: origin.customerID}
		last, ok := a.lastLLM[origin.customerID]
		switch {
		case !ok:
			withoutLogs[origin.customerID] = true
			detail.Reason = ReasonNoLLMLogs
		case ContainsProposal(last.call, p.ID):
			res.ProposalsFound++
			stats.Found++
			res.CustomerStats[origin.customerID] = stats
			continue
		default:
			detail.Reason = ReasonNotInLatest
			a.diagnose(&detail, p, origin, last)
		}

		res.ProposalsMissing++
		stats.Missing++
		res.CustomerStats[origin.customerID] = stats
		res.MissingReasons[detail.Reason]++
		res.MissingDetails = append(res.MissingDetails, detail)
	}
	res.UniqueCustomers = sortedKeys(uniqueCustomers)
	res.UniqueBusinesses = sortedKeys(uniqueBusinesses)
	res.CustomersWithoutLogs = sortedKeys(withoutLogs)

	for _, id := range sortedKeys(a.customers) {
		payments := a.customerPayments[id]
		if len(payments) > 0 {
			res.CustomersWhoMadePurchases++
		}
		utility, needsMet, optimal := a.Utility(id)
		if needsMet {
			res.CustomersWithNeedsMet++
		}
		if optimal == nil || len(payments) == 0 || utility >= *optimal {
			continue
		}
		res.CustomersWithSuboptimalUtility = append(res.CustomersWithSuboptimalUtility, a.suboptimal(id, utility, *optimal, needsMet))
	}
	sort.SliceStable(res.CustomersWithSuboptimalUtility, func(i, j int) bool {
		return res.CustomersWithSuboptimalUtility[i].UtilityGap > res.CustomersWithSuboptimalUtility[j].UtilityGap
	})
	res.CustomersWithSuboptimalUtilityCount = len(res.CustomersWithSuboptimalUtility)

	for _, f := range a.fetches {
		res.FetchMessagesStats.TotalFetchActions += len(f)
	}
	res.FetchMessagesStats.CustomersWithFetches = len(a.fetches)
	if n := res.FetchMessagesStats.CustomersWithFetches; n > 0 {
		res.FetchMessagesStats.AvgFetchesPerCustomer = float64(res.FetchMessagesStats.TotalFetchActions) / float64(n)
	}
	return res
}

func (a *Audit) diagnose(d *MissingDetail, p domain.OrderProposal, origin proposalOrigin, last llmEntry) {
	d.LLMModel = orUnknown(last.call.Model)
	d.LLMProvider = orUnknown(last.call.Provider)
	d.LLMPrompt = last.call.Prompt
	d.LLMResponse = last.call.Response
	if !last.at.IsZero() {
		at := last.at
		d.LLMTimestamp = &at
	}
	proposal := p
	d.Proposal = &proposal
	if !origin.at.IsZero() {
		at := origin.at
		d.ProposalTimestamp = &at
	}
	d.CustomerMessagesToBusiness = a.messagesTo(origin.customerID, origin.businessID)
	d.Payment = a.paymentFor(p.ID)
	d.FetchMessagesActions = a.fetches[origin.customerID]
	d.CustomerTimeline = a.timelines[origin.customerID]
}

func (a *Audit) suboptimal(customerID string, utility, optimal float64, needsMet bool) SuboptimalCustomer {
	s := SuboptimalCustomer{
		CustomerID:             customerID,
		CustomerName:           a.customers[customerID].Name,
		ActualUtility:          utility,
		OptimalUtility:         optimal,
		UtilityGap:             round2(optimal - utility),
		NeedsMet:               needsMet,
		ProposalsReceivedTotal: len(a.customerProposal[customerID]),
		TracePath:              traces.CustomerPath(a.opts.DBName, customerID),
	}
	for _, pay := range a.customerPayments[customerID] {
		p, ok := a.received(customerID, pay.ProposalMessageID)
		if !ok {
			continue
		}
		origin, ok := a.origins[p.ID]
		if !ok {
			continue
		}
		name := "Unknown"
		if b, ok := a.businesses[origin.businessID]; ok {
			name = b.Name
		}
		s.BusinessesTransacted = append(s.BusinessesTransacted, BusinessTransaction{
			BusinessID:   origin.businessID,
			BusinessName: name,
			PricePaid:    p.TotalPrice,
			TracePath:    traces.BusinessPath(a.opts.DBName, origin.businessID, customerID),
		})
	}
	if last, ok := a.lastLLM[customerID]; ok {
		for _, p := range a.customerProposal[customerID] {
			if ContainsProposal(last.call, p.ID) {
				s.ProposalsInFinalLLMLog++
			}
		}
	}
	return s
}

// ResultsPath is the file audit results are saved to for an experiment.
func ResultsPath(dbName string) string {
	return fmt.Sprintf("audit_results_%s.json", dbName)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
