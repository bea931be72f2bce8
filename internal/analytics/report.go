// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/fatih/color"
)

var (
	heading = color.New(color.FgHiCyan)
	section = color.New(color.FgHiBlue)
	accent  = color.New(color.FgHiYellow)
	good    = color.New(color.FgHiGreen)
	search  = color.New(color.FgHiMagenta)
)

// WriteReport renders a console report of res. Color follows fatih/color,
// which disables itself when stdout is not a terminal.
func (a *Analysis) WriteReport(w io.Writer, res Results) {
	rule := strings.Repeat("=", 40)

	heading.Fprintln(w, strings.Repeat("=", 60))
	heading.Fprintln(w, "MARKETPLACE SIMULATION ANALYTICS REPORT")
	heading.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w)

	section.Fprintln(w, "SIMULATION OVERVIEW:")
	fmt.Fprintf(w, "Found %d customers and %d businesses\n", res.TotalCustomers, res.TotalBusinesses)
	fmt.Fprintf(w, "Total actions executed: %d\n", res.TotalActionsExecuted)
	fmt.Fprintf(w, "Total messages sent: %d\n\n", res.TotalMessagesSent)

	accent.Fprintln(w, "ACTION BREAKDOWN:")
	writeCounts(w, res.ActionBreakdown)
	accent.Fprintln(w, "MESSAGE TYPE BREAKDOWN:")
	writeCounts(w, res.MessageTypeBreakdown)

	heading.Fprintln(w, "CUSTOMER SUMMARY:")
	fmt.Fprintln(w, rule)
	for _, c := range res.CustomerSummaries {
		fmt.Fprintf(w, "%s:\t%d messages, %d proposals, %d payments,\tutility: %.2f\n",
			c.CustomerName, c.MessagesSent, c.ProposalsReceived, c.PaymentsMade, c.Utility)
	}
	fmt.Fprintln(w)

	heading.Fprintln(w, "BUSINESS SUMMARY:")
	fmt.Fprintln(w, rule)
	for _, b := range res.BusinessSummaries {
		fmt.Fprintf(w, "%s:\t%d messages, %d proposals sent,\tutility: %.2f\n",
			b.BusinessName, b.MessagesSent, b.ProposalsSent, b.Utility)
	}
	fmt.Fprintln(w)

	heading.Fprintln(w, "DETAILED CUSTOMER ANALYSIS:")
	fmt.Fprintln(w, rule)
	for _, c := range res.CustomerSummaries {
		a.writeCustomer(w, c)
	}

	a.writeTransactions(w, res)

	section.Fprintln(w, "\nLLM CALL SUMMARY:")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "LLM providers: %v\n", res.LLMProviders)
	fmt.Fprintf(w, "LLM models: %v\n", res.LLMModels)
	fmt.Fprintf(w, "Total LLM calls: %d\n", res.TotalLLMCalls)
	fmt.Fprintf(w, "Failed LLM calls: %d\n", res.FailedLLMCalls)

	searches, queries, pages := 0, 0, 0
	for _, recs := range a.searches {
		searches += len(recs)
		seen := make(map[string]bool)
		for _, r := range recs {
			seen[r.Query] = true
		}
		queries += len(seen)
		pages += len(recs)
	}
	search.Fprintln(w, "\nSEARCH SUMMARY:")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Searches per customer: %.2f\n", ratio(searches, len(a.searches)))
	fmt.Fprintf(w, "Pages per query: %.2f\n", ratio(pages, queries))
	fmt.Fprintf(w, "Total searches: %d\n", searches)

	heading.Fprintln(w, "\nFINAL SUMMARY:")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Customers who made purchases: %d/%d\n", res.CustomersWhoMadePurchases, res.TotalCustomers)
	fmt.Fprintf(w, "Customers with needs met: %d/%d\n", res.CustomersWithNeedsMet, res.TotalCustomers)
	fmt.Fprintf(w, "\nPurchase completion rate: %.1f%%\n", res.PurchaseCompletionRate)
	fmt.Fprintf(w, "Total marketplace customer utility: %.2f\n", res.TotalMarketplaceCustomerUtility)
	if res.AverageUtilityPerActiveCustomer != nil {
		fmt.Fprintf(w, "Average utility per active customer: %.2f\n", *res.AverageUtilityPerActiveCustomer)
	}
}

func (a *Analysis) writeCustomer(w io.Writer, s CustomerSummary) {
	c := a.customers[s.CustomerID]
	accent.Fprintf(w, "\n%s (ID: %s)\n", c.Name, s.CustomerID)
	req := c.Request
	if r := []rune(req); len(r) > 100 {
		req = string(r[:100]) + "..."
	}
	fmt.Fprintf(w, "Request: %s\n", req)
	fmt.Fprintf(w, "Desired items: %v\n", c.RequestedItems())
	fmt.Fprintf(w, "Required amenities: %v\n", c.AmenityFeatures)

	matches := a.MenuMatches(s.CustomerID)
	var optimal *float64
	if len(matches) > 0 {
		optimal = &matches[0].Price
		fmt.Fprintf(w, "\n%d businesses can fulfill menu requirements:\n", len(matches))
		for i, m := range matches[:min(3, len(matches))] {
			amenities := a.AmenityMatch(s.CustomerID, m.BusinessID)
			status := ""
			switch {
			case amenities && m.Price == *optimal:
				status = " (OPTIMAL)"
			case amenities:
				status = " (GOOD FIT)"
			}
			fmt.Fprintf(w, "  %d. %s - $%.2f - Amenities: %s%s\n",
				i+1, a.businessName(m.BusinessID), m.Price, yesNo(amenities), status)
		}
	}

	fmt.Fprintf(w, "\nActivity: %d messages sent, %d proposals received, %d payments made.\n",
		s.MessagesSent, s.ProposalsReceived, s.PaymentsMade)

	fmt.Fprintln(w, "\nSearch Activity:")
	if recs := a.searches[s.CustomerID]; len(recs) > 0 {
		unique := make(map[string]bool)
		fmt.Fprintln(w, "  Queries:")
		for _, r := range recs {
			unique[r.Query] = true
			fmt.Fprintf(w, "   - Query: %q\n", r.Query)
			fmt.Fprintf(w, "     Page: %d\n", r.Page)
			fmt.Fprintf(w, "     Algorithm: %s\n", r.Algorithm)
			fmt.Fprintf(w, "     Businesses: %s\n", strings.Join(r.Businesses, ","))
		}
		fmt.Fprintf(w, "  Total searches made: %d\n", len(recs))
		fmt.Fprintf(w, "  Unique queries tried: %d\n", len(unique))
	}

	if payments := a.customerPayments[s.CustomerID]; len(payments) > 0 {
		good.Fprintf(w, "\n%d payment(s) made:\n", len(payments))
		for _, pay := range payments {
			a.writePayment(w, c, s.CustomerID, pay, optimal)
		}
	}
	fmt.Fprintf(w, "\nCustomer utility: %.2f (needs met: %t)\n", s.Utility, s.NeedsMet)
}

func (a *Analysis) writePayment(w io.Writer, c domain.Customer, customerID string, pay domain.Payment, optimal *float64) {
	p, ok := a.receivedProposal(customerID, pay.ProposalMessageID)
	if !ok {
		fmt.Fprintln(w, "  - Payment (no matching proposal found)")
		return
	}
	businessID := a.proposalBusiness[p.ID]
	fmt.Fprintf(w, "  - Paid $%.2f to %s, ", p.TotalPrice, a.businessName(businessID))

	items := make(map[string]bool, len(p.Items))
	names := make([]string, 0, len(p.Items))
	for _, item := range p.Items {
		if !items[item.ItemName] {
			names = append(names, item.ItemName)
		}
		items[item.ItemName] = true
	}
	sort.Strings(names)

	switch {
	case !sameSet(items, c.RequestedItems()):
		fmt.Fprintln(w, "which does NOT match the requested menu items.")
		fmt.Fprintf(w, "    (Ordered items: %s)\n", strings.Join(names, ", "))
	case businessID != "" && a.AmenityMatch(customerID, businessID):
		fmt.Fprint(w, "which matches all requested amenities, ")
		switch {
		case optimal == nil:
			fmt.Fprintln(w)
		case p.TotalPrice < *optimal:
			fmt.Fprintf(w, "and is BETTER than the optimal posted price by $%.2f.\n", round2(*optimal-p.TotalPrice))
		case p.TotalPrice == *optimal:
			fmt.Fprintf(w, "and is the optimal price of $%.2f.\n", *optimal)
		default:
			fmt.Fprintf(w, "but is NOT the optimal price of $%.2f.\n", *optimal)
		}
	default:
		fmt.Fprintln(w, "which does NOT match all requested amenities.")
	}
	fmt.Fprintln(w, "    Order items:")
	for _, item := range p.Items {
		fmt.Fprintf(w, "      - %s: $%.2f x %d\n", item.ItemName, item.UnitPrice, item.Quantity)
	}
}

func (a *Analysis) writeTransactions(w io.Writer, res Results) {
	ts := res.TransactionSummary
	good.Fprintln(w, "\nTRANSACTION SUMMARY:")
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintf(w, "Order proposals created: %d\n", ts.OrderProposalsCreated)
	fmt.Fprintf(w, "Payments made: %d\n", ts.PaymentsMade)
	fmt.Fprintf(w, "Average proposal value: $%s\n", money(ts.AverageProposalValue))
	fmt.Fprintf(w, "Average paid order value: $%s\n", money(ts.AveragePaidOrderValue))
	fmt.Fprintf(w, "Total invalid proposals: %d\n", ts.TotalInvalidProposals)
	fmt.Fprintf(w, "Invalid proposals purchased: %d\n", ts.InvalidProposalsPurchased)

	byType := make(map[ProposalErrorType][]ProposalError)
	for _, id := range a.invalidOrder {
		for _, e := range a.invalid[id] {
			byType[e.Type] = append(byType[e.Type], e)
		}
	}
	types := make([]ProposalErrorType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if len(byType[types[i]]) != len(byType[types[j]]) {
			return len(byType[types[i]]) > len(byType[types[j]])
		}
		return types[i] < types[j]
	})

	fmt.Fprintln(w, "\nError types:")
	if len(types) == 0 {
		fmt.Fprintln(w, "  - No errors")
	}
	const indent = "      "
	for _, t := range types {
		errs := byType[t]
		fmt.Fprintf(w, "  - %s: %d\n", t, len(errs))
		if header := errorHeader(t); header != "" {
			fmt.Fprintln(w, indent+header)
			fmt.Fprintln(w, indent+strings.Repeat("-", len(header)))
		}
		sort.SliceStable(errs, func(i, j int) bool { return errs[i].sortKey() > errs[j].sortKey() })
		for _, e := range errs {
			switch e.Type {
			case InvalidMenuItem:
				dist := 0
				if e.ClosestMenuItemDistance != nil {
					dist = *e.ClosestMenuItemDistance
				}
				fmt.Fprintf(w, "%sDistance: %d\n", indent, dist)
				fmt.Fprintf(w, "%s  Proposed: %s\n", indent, quote(e.ProposedMenuItem))
				fmt.Fprintf(w, "%s  Matched:  %s\n\n", indent, quote(e.ClosestMenuItem))
			case InvalidMenuItemPrice:
				fmt.Fprintf(w, "%s%s | $%.2f | $%.2f\n", indent, e.MenuItem, e.ProposedPrice, e.ActualPrice)
			case InvalidTotalPrice:
				fmt.Fprintf(w, "%s$%.2f | $%.2f | $%.2f\n", indent, e.ProposedTotalPrice, e.CalculatedTotalPrice, e.sortKey())
			case InvalidBusiness:
				fmt.Fprintf(w, "%s%s\n", indent, e.BusinessAgentID)
			case InvalidCustomer:
				fmt.Fprintf(w, "%s%s\n", indent, e.CustomerAgentID)
			}
		}
	}

	fmt.Fprintf(w, "\n%d purchased proposals contained invalid menu items that fuzzy-matched an actual menu item with distance <= %d\n",
		len(res.PurchasedProposalFuzzyMatches), res.FuzzyMatchDistance)
	for _, id := range sortedKeys(res.PurchasedProposalFuzzyMatches) {
		fmt.Fprintf(w, "  Proposal: %s\n", id)
		for _, m := range res.PurchasedProposalFuzzyMatches[id] {
			fmt.Fprintf(w, "%sDistance: %d\n", indent, m.Distance)
			fmt.Fprintf(w, "%s  Proposed: %s\n", indent, quote(m.ProposedItem))
			fmt.Fprintf(w, "%s  Matched:  %s\n\n", indent, quote(m.MenuItem))
		}
	}
}

func errorHeader(t ProposalErrorType) string {
	switch t {
	case InvalidMenuItemPrice:
		return "Item | Proposed | Actual"
	case InvalidTotalPrice:
		return "Proposed | Calculated | Delta"
	case InvalidBusiness:
		return "Business"
	case InvalidCustomer:
		return "Customer"
	}
	return ""
}

func (a *Analysis) businessName(id string) string {
	if b, ok := a.businesses[id]; ok {
		return b.Name
	}
	return "Unknown"
}

func writeCounts(w io.Writer, counts map[string]int) {
	keys := sortedKeys(counts)
	sort.SliceStable(keys, func(i, j int) bool { return counts[keys[i]] > counts[keys[j]] })
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, counts[k])
	}
	fmt.Fprintln(w)
}

func sameSet(have map[string]bool, want []string) bool {
	if len(have) != len(want) {
		return false
	}
	return coversAll(have, want)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func money(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b)
}
