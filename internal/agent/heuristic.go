// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/llm"
)

// maxInquiries bounds how many businesses the heuristic customer contacts.
const maxInquiries = 3

var (
	reRequest  = regexp.MustCompile(`They have the following request: (.*)`)
	reBusiness = regexp.MustCompile(`\(ID: ([^)]+)\):`)
	reProposal = regexp.MustCompile(`Received order_proposal from (\S+): (\{.*\})`)
	reMenuLine = regexp.MustCompile(`(?m)^  - (Item-\d+): (.+) - \$([0-9.]+)$`)
	reCustomer = regexp.MustCompile(`to_customer_id: (\S+)`)
	reConvo    = regexp.MustCompile(`(?s)Conversation so far:\n(.*)\n\nCustomer just said: "(.*)"\n\nContext:`)
)

// Heuristic is a deterministic stand-in for a language model. It reads
// the same prompts the agents send and answers with a plausible decision,
// so a full marketplace run works offline.
func Heuristic(_ context.Context, req llm.Request) (string, error) {
	if req.Schema == nil {
		return "OK", nil
	}
	var prompt strings.Builder
	for _, m := range req.Messages {
		prompt.WriteString(m.Content)
		prompt.WriteByte('\n')
	}

	var out any
	switch req.Schema.Name {
	case customerActionSchema.Name:
		out = heuristicCustomer(prompt.String())
	case businessActionSchema.Name:
		out = heuristicBusiness(prompt.String())
	default:
		return "", fmt.Errorf("heuristic model has no policy for schema %q", req.Schema.Name)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func heuristicCustomer(prompt string) CustomerAction {
	if strings.Contains(prompt, "PAYMENT COMPLETED SUCCESSFULLY") {
		return CustomerAction{ActionType: CustomerEnd, Reason: "Payment completed."}
	}

	type offer struct {
		business string
		proposal domain.OrderProposal
	}
	var offers []offer
	for _, m := range reProposal.FindAllStringSubmatch(prompt, -1) {
		var p domain.OrderProposal
		if err := json.Unmarshal([]byte(m[2]), &p); err != nil || p.ID == "" {
			continue
		}
		offers = append(offers, offer{business: m[1], proposal: p})
	}
	if len(offers) > 0 {
		sort.SliceStable(offers, func(i, j int) bool {
			return offers[i].proposal.TotalPrice < offers[j].proposal.TotalPrice
		})
		best := offers[0]
		return CustomerAction{
			ActionType: CustomerSend,
			Reason:     fmt.Sprintf("Cheapest proposal is %s at $%.2f.", best.proposal.ID, best.proposal.TotalPrice),
			Messages: &CustomerMessages{
				TextMessages: []CustomerTextRequest{},
				PayMessages: []CustomerPayRequest{{
					ToBusinessID:      best.business,
					ProposalMessageID: best.proposal.ID,
				}},
			},
		}
	}

	request := ""
	if m := reRequest.FindStringSubmatch(prompt); m != nil {
		request = strings.TrimSpace(m[1])
	}

	var businesses []string
	seen := map[string]bool{}
	for _, m := range reBusiness.FindAllStringSubmatch(prompt, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			businesses = append(businesses, m[1])
		}
	}
	if len(businesses) == 0 {
		if strings.Contains(prompt, "No businesses found") {
			return CustomerAction{ActionType: CustomerEnd, Reason: "No businesses match the request."}
		}
		return CustomerAction{ActionType: CustomerSearch, Reason: "Find businesses for the request.", SearchQuery: request, SearchPage: 1}
	}

	if !strings.Contains(prompt, "✅ Message sent successfully") {
		texts := make([]CustomerTextRequest, 0, maxInquiries)
		for _, id := range businesses[:min(len(businesses), maxInquiries)] {
			texts = append(texts, CustomerTextRequest{
				ToBusinessID: id,
				Content:      fmt.Sprintf("Hi! I would like to order: %s. Could you send me a proposal?", request),
			})
		}
		return CustomerAction{
			ActionType: CustomerSend,
			Reason:     "Ask promising businesses for proposals.",
			Messages:   &CustomerMessages{TextMessages: texts, PayMessages: []CustomerPayRequest{}},
		}
	}

	return CustomerAction{ActionType: CustomerCheck, Reason: "Wait for proposals."}
}

func heuristicBusiness(prompt string) BusinessAction {
	customerID := ""
	if m := reCustomer.FindStringSubmatch(prompt); m != nil {
		customerID = m[1]
	}
	conversation := ""
	if m := reConvo.FindStringSubmatch(prompt); m != nil {
		conversation = strings.ToLower(m[1] + "\n" + m[2])
	}

	var menu, wanted []proposalItem
	for _, m := range reMenuLine.FindAllStringSubmatch(prompt, -1) {
		price, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		item := proposalItem{ID: m[1], ItemName: m[2], Quantity: 1, UnitPrice: price}
		menu = append(menu, item)
		if strings.Contains(conversation, strings.ToLower(m[2])) {
			wanted = append(wanted, item)
		}
	}

	if len(wanted) == 0 {
		if len(menu) == 0 || !strings.Contains(conversation, "you:") {
			names := make([]string, 0, len(menu))
			for _, it := range menu {
				names = append(names, fmt.Sprintf("%s ($%.2f)", it.ItemName, it.UnitPrice))
			}
			return BusinessAction{
				ActionType: BusinessText,
				TextMessage: &BusinessTextRequest{
					ToCustomerID: customerID,
					Content:      "Thanks for reaching out! Our menu: " + strings.Join(names, ", ") + ". What would you like?",
				},
			}
		}
		wanted = menu[:1]
	}

	var total float64
	for _, it := range wanted {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return BusinessAction{
		ActionType: BusinessProposal,
		OrderProposalMessage: &BusinessProposalRequest{
			ToCustomerID: customerID,
			Items:        wanted,
			TotalPrice:   total,
		},
	}
}
