// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type builder struct {
	snap  store.Snapshot
	index int64
}

func (b *builder) agent(p domain.AgentProfile) *builder {
	b.snap.Agents = append(b.snap.Agents, domain.AgentRow{ID: p.ID, Data: p, Index: int64(len(b.snap.Agents) + 1)})
	return b
}

func (b *builder) action(agentID string, a domain.Action, result domain.ActionResult) *builder {
	params, err := json.Marshal(a)
	if err != nil {
		panic(err)
	}
	b.index++
	b.snap.Actions = append(b.snap.Actions, domain.ActionRow{
		ID:        fmt.Sprintf("action-%d", b.index),
		CreatedAt: t0.Add(time.Duration(b.index) * time.Second),
		Data: domain.ActionRowData{
			AgentID: agentID,
			Request: domain.ActionRequest{Name: a.RequestName(), Parameters: params},
			Result:  result,
		},
		Index: b.index,
	})
	return b
}

func (b *builder) send(from, to string, msg domain.Message) *builder {
	return b.action(from, domain.SendMessage{FromAgentID: from, ToAgentID: to, Message: msg},
		domain.ActionResult{Content: json.RawMessage(`{}`)})
}

func (b *builder) fetch(agentID string, msgs ...domain.ReceivedMessage) *builder {
	content, err := json.Marshal(domain.FetchMessagesResponse{Messages: msgs})
	if err != nil {
		panic(err)
	}
	return b.action(agentID, domain.FetchMessages{}, domain.ActionResult{Content: content})
}

func (b *builder) llmLog(agentID, prompt, response string) *builder {
	p, _ := json.Marshal(prompt)
	r, _ := json.Marshal(response)
	data, err := json.Marshal(domain.LLMCallLog{
		Type:     domain.LLMCallType,
		Prompt:   p,
		Response: r,
		Model:    "gpt-test",
		Provider: "mock",
		Success:  true,
	})
	if err != nil {
		panic(err)
	}
	b.snap.Logs = append(b.snap.Logs, domain.LogRow{
		ID:        fmt.Sprintf("log-%d", len(b.snap.Logs)+1),
		CreatedAt: t0,
		Data:      domain.Log{Level: domain.LogInfo, Name: "llm", Data: data, Metadata: map[string]any{"agent_id": agentID}},
		Index:     int64(len(b.snap.Logs) + 1),
	})
	return b
}

func customer(id string) domain.Customer {
	return domain.Customer{
		ID:              id,
		Name:            "Customer " + id,
		MenuFeatures:    map[string]float64{"taco": 10, "burrito": 15},
		AmenityFeatures: []string{"wifi"},
	}
}

func business(id string, taco, burrito float64) domain.Business {
	return domain.Business{
		ID:              id,
		Name:            "Taqueria " + id,
		MenuFeatures:    map[string]float64{"taco": taco, "burrito": burrito},
		AmenityFeatures: map[string]bool{"wifi": true},
	}
}

func order(id string, taco, burrito float64) domain.OrderProposal {
	return domain.OrderProposal{
		ID: id,
		Items: []domain.OrderItem{
			{ID: "1", ItemName: "taco", Quantity: 1, UnitPrice: taco},
			{ID: "2", ItemName: "burrito", Quantity: 1, UnitPrice: burrito},
		},
		TotalPrice: taco + burrito,
	}
}

func TestProposalFoundInLastCall(t *testing.T) {
	b := &builder{}
	b.agent(domain.CustomerProfile(customer("customer-1"))).
		agent(domain.BusinessProfile(business("biz-1", 10, 15))).
		send("biz-1", "customer-1", order("prop-1", 10, 15)).
		llmLog("customer-1", "older prompt", "").
		llmLog("customer-1", "you received proposal prop-1 from biz-1", "pay")

	res := Build(b.snap, Options{}).Results()
	assert.Equal(t, 1, res.TotalProposals)
	assert.Equal(t, 1, res.ProposalsFound)
	assert.Zero(t, res.ProposalsMissing)
	assert.Empty(t, res.MissingDetails)
	assert.Equal(t, CustomerStats{Received: 1, Found: 1}, res.CustomerStats["customer-1"])
	assert.Equal(t, []string{"customer-1"}, res.UniqueCustomers)
	assert.Equal(t, []string{"biz-1"}, res.UniqueBusinesses)
}

func TestProposalMissingFromLastCall(t *testing.T) {
	b := &builder{}
	b.agent(domain.CustomerProfile(customer("customer-1"))).
		agent(domain.BusinessProfile(business("biz-1", 10, 15))).
		send("customer-1", "biz-1", domain.TextMessage{Content: "taco and burrito please"}).
		send("biz-1", "customer-1", order("prop-1", 10, 15)).
		fetch("customer-1", domain.ReceivedMessage{FromAgentID: "biz-1", ToAgentID: "customer-1", Message: order("prop-1", 10, 15), Index: 2}).
		llmLog("customer-1", "saw prop-1 earlier", "").
		llmLog("customer-1", "nothing new", "wait")

	res := Build(b.snap, Options{}).Results()
	assert.Equal(t, 1, res.ProposalsMissing)
	assert.Equal(t, map[string]int{ReasonNotInLatest: 1}, res.MissingReasons)
	require.Len(t, res.MissingDetails, 1)

	d := res.MissingDetails[0]
	assert.Equal(t, "prop-1", d.ProposalID)
	assert.Equal(t, "biz-1", d.BusinessID)
	assert.Equal(t, "customer-1", d.CustomerID)
	assert.Equal(t, "gpt-test", d.LLMModel)
	assert.JSONEq(t, `"nothing new"`, string(d.LLMPrompt))
	require.NotNil(t, d.Proposal)
	assert.Equal(t, "prop-1", d.Proposal.ID)
	assert.Nil(t, d.Payment)
	require.Len(t, d.CustomerMessagesToBusiness, 1)
	require.Len(t, d.FetchMessagesActions, 1)
	assert.Equal(t, []string{"prop-1"}, d.FetchMessagesActions[0].ProposalIDs())

	require.Len(t, d.CustomerTimeline, 3)
	assert.Equal(t, eventCustomerAction, d.CustomerTimeline[0].Type)
	assert.Equal(t, eventBusinessMessage, d.CustomerTimeline[1].Type)
	assert.Equal(t, "biz-1", d.CustomerTimeline[1].Message.FromAgentID)
	assert.Equal(t, "FetchMessages", d.CustomerTimeline[2].Action.ActionType)
}

func TestCustomerWithoutLogs(t *testing.T) {
	b := &builder{}
	b.agent(domain.CustomerProfile(customer("customer-1"))).
		agent(domain.BusinessProfile(business("biz-1", 10, 15))).
		send("biz-1", "customer-1", order("prop-1", 10, 15))

	res := Build(b.snap, Options{}).Results()
	assert.Equal(t, 1, res.ProposalsMissing)
	assert.Equal(t, []string{"customer-1"}, res.CustomersWithoutLogs)
	require.Len(t, res.MissingDetails, 1)
	assert.Equal(t, ReasonNoLLMLogs, res.MissingDetails[0].Reason)
	assert.Nil(t, res.MissingDetails[0].Proposal)
}

func TestSuboptimalCustomersSortedByGap(t *testing.T) {
	b := &builder{}
	b.agent(domain.CustomerProfile(customer("customer-1"))).
		agent(domain.CustomerProfile(customer("customer-2"))).
		agent(domain.BusinessProfile(business("cheap", 8, 12))).
		agent(domain.BusinessProfile(business("pricey", 11, 16))).
		agent(domain.BusinessProfile(business("luxury", 20, 30))).
		send("pricey", "customer-1", order("prop-1", 11, 16)).
		send("customer-1", "pricey", domain.Payment{ProposalMessageID: "prop-1"}).
		send("luxury", "customer-2", order("prop-2", 20, 30)).
		send("customer-2", "luxury", domain.Payment{ProposalMessageID: "prop-2"})

	a := Build(b.snap, Options{DBName: "exp1"})

	utility, needsMet, optimal := a.Utility("customer-1")
	assert.Equal(t, 23.0, utility)
	assert.True(t, needsMet)
	require.NotNil(t, optimal)
	assert.Equal(t, 30.0, *optimal)

	res := a.Results()
	assert.Equal(t, 2, res.CustomersWhoMadePurchases)
	assert.Equal(t, 2, res.CustomersWithNeedsMet)
	require.Len(t, res.CustomersWithSuboptimalUtility, 2)
	assert.Equal(t, 2, res.CustomersWithSuboptimalUtilityCount)

	first := res.CustomersWithSuboptimalUtility[0]
	assert.Equal(t, "customer-2", first.CustomerID)
	assert.Equal(t, 30.0, first.UtilityGap)
	require.Len(t, first.BusinessesTransacted, 1)
	assert.Equal(t, "Taqueria luxury", first.BusinessesTransacted[0].BusinessName)
	assert.Equal(t, 50.0, first.BusinessesTransacted[0].PricePaid)
	assert.Equal(t, "exp1-agent-llm-traces/customers/customer-2-0.md", first.TracePath)
	assert.Equal(t, "exp1-agent-llm-traces/businesses/luxury-customer-2-0.md", first.BusinessesTransacted[0].TracePath)

	assert.Equal(t, "customer-1", res.CustomersWithSuboptimalUtility[1].CustomerID)
	assert.Equal(t, 7.0, res.CustomersWithSuboptimalUtility[1].UtilityGap)
}

func TestNeedsMetRequiresExactItems(t *testing.T) {
	partial := domain.OrderProposal{
		ID:         "prop-1",
		Items:      []domain.OrderItem{{ID: "1", ItemName: "taco", Quantity: 1, UnitPrice: 10}},
		TotalPrice: 10,
	}
	extra := order("prop-2", 10, 15)
	extra.Items = append(extra.Items, domain.OrderItem{ID: "3", ItemName: "churro", Quantity: 1, UnitPrice: 4})
	extra.TotalPrice = 29

	for name, p := range map[string]domain.OrderProposal{"missing item": partial, "extra item": extra} {
		t.Run(name, func(t *testing.T) {
			b := &builder{}
			b.agent(domain.CustomerProfile(customer("customer-1"))).
				agent(domain.BusinessProfile(business("biz-1", 10, 15))).
				send("biz-1", "customer-1", p).
				send("customer-1", "biz-1", domain.Payment{ProposalMessageID: p.ID})

			utility, needsMet, _ := Build(b.snap, Options{}).Utility("customer-1")
			assert.False(t, needsMet)
			assert.Equal(t, -p.TotalPrice, utility)
		})
	}
}

func TestContainsProposalChecksResponse(t *testing.T) {
	call := domain.LLMCallLog{
		Prompt:   json.RawMessage(`[{"role":"user","content":"hello"}]`),
		Response: json.RawMessage(`{"action_type":"pay","proposal_id":"prop-9"}`),
	}
	assert.True(t, ContainsProposal(call, "prop-9"))
	assert.False(t, ContainsProposal(call, "prop-10"))
}

func TestWriteReport(t *testing.T) {
	b := &builder{}
	b.agent(domain.CustomerProfile(customer("customer-1"))).
		agent(domain.BusinessProfile(business("biz-1", 10, 15))).
		send("biz-1", "customer-1", order("prop-1", 10, 15)).
		llmLog("customer-1", "nothing", "")

	a := Build(b.snap, Options{})
	var buf bytes.Buffer
	a.WriteReport(&buf, a.Results())

	out := buf.String()
	assert.Contains(t, out, "MARKETPLACE PROPOSAL AUDIT")
	assert.Contains(t, out, "Proposals missing from customer logs: 1")
	assert.Contains(t, out, ReasonNotInLatest+": 1")
	assert.Contains(t, out, "Proposal: prop-1")
	assert.Contains(t, out, "Payment Message: None")
}
