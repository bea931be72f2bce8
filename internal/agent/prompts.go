// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/llm"
)

func (c *Customer) prompt() []domain.ChatMessage {
	history, last := c.formatHistory()
	return []domain.ChatMessage{
		llm.System(customerSystemPrompt(c.profile, c.header())),
		llm.User(strings.TrimSpace("# Action Trajectory\n\n" + history + "\n\n" + customerStepPrompt(last, c.phase))),
	}
}

func customerSystemPrompt(p domain.Customer, header string) string {
	return fmt.Sprintf(`You are an autonomous agent working for customer %s (%s). They have the following request: %s

Your agent ID is: "%s" and your name is "%s".

IMPORTANT: You do NOT have access to the customer directly. You must fulfill their request using only the tools available to you.

# Available Tools (these are your ONLY available actions)
- search_businesses(search_query, search_page): Find businesses matching criteria
- send_messages: Contact businesses (text for questions, pay to accept proposals)
- check_messages(): Get responses from businesses
- end_transaction: Complete after paying for a proposal

# Shopping Strategy
1. **Understand** - Carefully analyze the customer's specific requirements (what to buy, quantities, preferences, constraints)
2. **Search** - Find businesses matching those exact needs
3. **Inquire** - Contact ALL promising businesses with "text" messages for details
4. **Wait for Proposals** - Services will send "order_proposal" messages with specific offers
5. **Compare** - Compare all proposals for price/quality
6. **Pay** - Send "pay" messages to accept the best proposal that meets requirements within budget
7. **Confirm** - End transaction ONLY after successfully paying for a proposal

# Important Notes:
- Services create proposals, you pay to accept them
- Use "text" messages to inquire, "pay" messages to accept proposals
- You CANNOT create orders - only accept proposals by paying
- Must complete the purchase by paying for a proposal. Do not wait for the customer - you ARE acting for them.`,
		p.Name, p.ID, p.Request, p.ID, header)
}

func customerStepPrompt(last int, phase Phase) string {
	return fmt.Sprintf(`Step %d: What action should you take? (current phase: %s)

Send "text" messages to ask questions or express interest. Services will send "order_proposal" messages with offers. Send "pay" messages to accept proposals you want to purchase. When you receive an order_proposal message, use its id as the proposal_message_id in your payment. Always check for responses after sending messages. You must pay for proposals when you have sufficient information - do not wait for the customer. Only end the transaction after successfully paying for a proposal.

Choose your action carefully.`, last+1, phase)
}

// formatHistory renders the trajectory and returns the last step number.
func (c *Customer) formatHistory() (string, int) {
	var b strings.Builder
	n := 0
	for _, e := range c.history {
		n++
		fmt.Fprintf(&b, "\n=== STEP %d [%s] ===\n", n, c.header())
		if e.Failure != "" {
			fmt.Fprintf(&b, "Error: %s\n", e.Failure)
			continue
		}
		fmt.Fprintf(&b, "Action: %s\n", e.Label)
		for _, line := range e.Lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return strings.TrimSpace(b.String()), n
}

func formatSearchResult(step, page int, resp domain.SearchResponse) []string {
	total := len(resp.Businesses)
	if resp.TotalPossibleResults != nil {
		total = *resp.TotalPossibleResults
	}
	pages := 1
	if resp.TotalPages != nil {
		pages = *resp.TotalPages
	}

	lines := []string{fmt.Sprintf("Step %d result: Searched %d business(es). Showing page %d of %d search results.", step, total, page, pages)}
	for _, p := range resp.Businesses {
		if p.Business == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("Found business: %s (ID: %s):\n  Description: %s\n  Rating: %.2f\n",
			p.Business.Name, p.ID, p.Business.Description, p.Business.Rating))
	}
	if len(resp.Businesses) == 0 {
		lines = append(lines, "No businesses found")
	}
	return lines
}

// compactMessage renders a message without its type tag or expiry.
func compactMessage(m domain.Message) string {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return string(raw)
	}
	delete(fields, "type")
	delete(fields, "expiry_time")
	out, err := json.Marshal(fields)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func businessPrompt(b domain.Business, customerID string, history []string) []domain.ChatMessage {
	delivery := "No"
	if b.AmenityFeatures["delivery"] {
		delivery = "Yes"
	}

	amenityNames := make([]string, 0, len(b.AmenityFeatures))
	for name := range b.AmenityFeatures {
		amenityNames = append(amenityNames, name)
	}
	sort.Strings(amenityNames)
	features := "  - (none)"
	if len(amenityNames) > 0 {
		lines := make([]string, 0, len(amenityNames))
		for _, name := range amenityNames {
			v := "No"
			if b.AmenityFeatures[name] {
				v = "Yes"
			}
			lines = append(lines, fmt.Sprintf("  - %s: %s", name, v))
		}
		features = strings.Join(lines, "\n")
	}

	menu := "  - (none listed)"
	if items := menuLines(b); len(items) > 0 {
		menu = strings.Join(items, "\n")
	}

	last := ""
	earlier := ""
	if len(history) > 0 {
		last = history[len(history)-1]
		earlier = strings.Join(history[:len(history)-1], "\n")
	}

	prompt := fmt.Sprintf(`You are a business owner responding to a customer inquiry. Be helpful, professional, and try to make a sale.

Your business:
- Name: %s
- Rating: %.1f/1.0
- Description: %s
- Hours: Unknown
- Delivery available: %s
- Amenities provided by your business:
%s
- Menu items and prices:
%s
ONLY tell potential customers what you have on the menu with CORRECT PRICES.

Conversation so far:
%s

Customer just said: "%s"

Context: Customer is making an inquiry. Use text action to respond, or create an order_proposal if they want to purchase something specific.

Generate a BusinessAction with:
- action_type: "text" for general inquiries/questions, "order_proposal" for creating structured proposals
- text_message: {to_customer_id, content} (if action_type is "text")
- order_proposal_message: {to_customer_id, items, total_price, special_instructions, estimated_delivery} (if action_type is "order_proposal")

For all message types, use:
- to_customer_id: %s

CREATING ORDER PROPOSALS:
When customers show interest in purchasing (asking about prices, availability, wanting to order),
PREFER creating order_proposal over text responses:

1. Use action_type="order_proposal" when:
   - Customer expresses interest in purchasing specific items
   - You can create a concrete proposal with items, quantities, and prices
   - Customer is asking "how much for..." or "I want to order..."

2. The order_proposal_message should contain:
   - items: list of items with id (use the menu item ID like "Item-1"), item_name, quantity, unit_price from your menu
   - total_price: sum of all items
   - special_instructions: any relevant notes
   - estimated_delivery: time estimate if applicable

DECISION PRIORITY:
1. If customer wants to purchase specific items: use action_type="order_proposal"
2. For general inquiries: use action_type="text"`,
		b.Name, b.Rating, b.Description, delivery, features, menu, earlier, last, customerID)

	return []domain.ChatMessage{llm.User(prompt)}
}

// menuLines numbers menu items in name order, formatted for prompts.
func menuLines(b domain.Business) []string {
	names := b.MenuItems()
	out := make([]string, 0, len(names))
	for i, name := range names {
		out = append(out, fmt.Sprintf("  - Item-%d: %s - $%.2f", i+1, name, b.MenuFeatures[name]))
	}
	return out
}
