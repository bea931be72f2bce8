// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
)

var (
	heading = color.New(color.FgHiCyan)
	found   = color.New(color.FgHiGreen)
	missing = color.New(color.FgHiRed)
	warn    = color.New(color.FgHiYellow)
)

const timelinePreview = 3

// WriteReport renders res for the console.
func (a *Audit) WriteReport(w io.Writer, res Results) {
	banner := strings.Repeat("=", 60)
	heading.Fprintln(w, banner)
	heading.Fprintln(w, "MARKETPLACE PROPOSAL AUDIT")
	heading.Fprintln(w, banner)
	fmt.Fprintf(w, "\nLoaded %d proposals and %d payments\n", res.TotalProposals, res.TotalPayments)

	heading.Fprintln(w, "\nOVERALL STATISTICS:")
	fmt.Fprintf(w, "Total proposals sent: %d\n", res.TotalProposals)
	found.Fprintf(w, "Proposals found in customer logs: %d\n", res.ProposalsFound)
	missing.Fprintf(w, "Proposals missing from customer logs: %d\n", res.ProposalsMissing)
	if res.TotalProposals > 0 {
		fmt.Fprintf(w, "Success rate: %.1f%%\n", float64(res.ProposalsFound)/float64(res.TotalProposals)*100)
	}

	heading.Fprintln(w, "\nCUSTOMER & BUSINESS STATISTICS:")
	fmt.Fprintf(w, "Unique customers who received proposals: %d\n", len(res.UniqueCustomers))
	fmt.Fprintf(w, "Unique businesses who sent proposals: %d\n", len(res.UniqueBusinesses))
	if n := len(res.UniqueCustomers); n > 0 {
		fmt.Fprintf(w, "Average proposals per customer: %.1f\n", float64(res.TotalProposals)/float64(n))
	}

	fs := res.FetchMessagesStats
	heading.Fprintln(w, "\nFETCHMESSAGES STATISTICS:")
	fmt.Fprintf(w, "Total FetchMessages actions with non-zero results: %d\n", fs.TotalFetchActions)
	fmt.Fprintf(w, "Customers who fetched messages: %d\n", fs.CustomersWithFetches)
	if fs.CustomersWithFetches > 0 {
		fmt.Fprintf(w, "Average fetches per active customer: %.1f\n", fs.AvgFetchesPerCustomer)
	}

	all, partial, none := 0, 0, 0
	for _, s := range res.CustomerStats {
		if s.Received == 0 {
			continue
		}
		switch {
		case s.Missing == 0:
			all++
		case s.Found == 0:
			none++
		default:
			partial++
		}
	}
	heading.Fprintln(w, "\nCUSTOMER DELIVERY STATUS:")
	found.Fprintf(w, "Customers who received all proposals in LLM logs: %d\n", all)
	warn.Fprintf(w, "Customers who received some proposals in LLM logs: %d\n", partial)
	missing.Fprintf(w, "Customers who received no proposals in LLM logs: %d\n", none)

	if len(res.MissingReasons) > 0 {
		heading.Fprintln(w, "\nMISSING PROPOSAL REASONS:")
		reasons := sortedKeys(res.MissingReasons)
		sort.SliceStable(reasons, func(i, j int) bool { return res.MissingReasons[reasons[i]] > res.MissingReasons[reasons[j]] })
		for _, r := range reasons {
			fmt.Fprintf(w, "  %s: %d\n", r, res.MissingReasons[r])
		}
	}
	warn.Fprintf(w, "\nUnique customers without LLM logs: %d\n", len(res.CustomersWithoutLogs))

	heading.Fprintln(w, "\nUTILITY ANALYSIS:")
	fmt.Fprintf(w, "Customers who made purchases: %d/%d\n", res.CustomersWhoMadePurchases, res.TotalCustomers)
	denom := res.CustomersWhoMadePurchases
	if denom == 0 {
		denom = res.TotalCustomers
	}
	fmt.Fprintf(w, "Customers with needs met: %d/%d\n", res.CustomersWithNeedsMet, denom)

	if len(res.CustomersWithSuboptimalUtility) == 0 {
		found.Fprintln(w, "\nAll customers who made purchases achieved optimal utility!")
	} else {
		warn.Fprintf(w, "\nCustomers with less than optimal utility: %d\n", len(res.CustomersWithSuboptimalUtility))
		for _, c := range res.CustomersWithSuboptimalUtility {
			fmt.Fprintf(w, "  - %s (ID: %s)\n", c.CustomerName, c.CustomerID)
			fmt.Fprintf(w, "    Actual utility: %.2f, Optimal utility: %.2f, Gap: %.2f\n", c.ActualUtility, c.OptimalUtility, c.UtilityGap)
			fmt.Fprintf(w, "    Needs met: %t\n", c.NeedsMet)
			fmt.Fprintf(w, "    Proposals in final LLM log: %d/%d\n", c.ProposalsInFinalLLMLog, c.ProposalsReceivedTotal)
			fmt.Fprintf(w, "    Customer trace: %s\n", c.TracePath)
			if len(c.BusinessesTransacted) > 0 {
				fmt.Fprintln(w, "    Transacted with:")
				for _, b := range c.BusinessesTransacted {
					fmt.Fprintf(w, "      - %s (ID: %s) - Paid: $%.2f\n", b.BusinessName, b.BusinessID, b.PricePaid)
					fmt.Fprintf(w, "        Business trace: %s\n", b.TracePath)
				}
			}
		}
	}

	if len(res.MissingDetails) > 0 {
		missing.Fprintln(w, "\nMISSING PROPOSAL DETAILS:")
		for _, d := range res.MissingDetails {
			writeMissing(w, d)
		}
	}
}

func writeMissing(w io.Writer, d MissingDetail) {
	fmt.Fprintf(w, "  Proposal: %s\n", d.ProposalID)
	fmt.Fprintf(w, "    Business: %s\n", d.BusinessID)
	fmt.Fprintf(w, "    Customer: %s\n", d.CustomerID)
	fmt.Fprintf(w, "    Reason: %s\n", d.Reason)

	if n := len(d.CustomerMessagesToBusiness); n > 0 {
		fmt.Fprintf(w, "    Customer Messages to Business: %d\n", n)
		for i, m := range d.CustomerMessagesToBusiness {
			fmt.Fprintf(w, "      Message %d (type: %s, timestamp: %s):\n", i+1, m.Message.Type(), m.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
			fmt.Fprintf(w, "        %s\n", truncate(pretty(m.Message), 300))
		}
	}
	if d.Proposal != nil {
		ts := "unknown"
		if d.ProposalTimestamp != nil {
			ts = d.ProposalTimestamp.Format("2006-01-02T15:04:05Z07:00")
		}
		fmt.Fprintf(w, "    Proposal Details (timestamp: %s):\n", ts)
		fmt.Fprintf(w, "      %s\n", truncate(pretty(d.Proposal), 500))
	}
	if d.Payment != nil {
		fmt.Fprintln(w, "    Payment Message:")
		fmt.Fprintf(w, "      %s\n", truncate(pretty(d.Payment), 300))
	} else {
		fmt.Fprintln(w, "    Payment Message: None (customer did not pay for this proposal)")
	}
	if n := len(d.FetchMessagesActions); n > 0 {
		fmt.Fprintf(w, "    FetchMessages Actions: %d calls with non-zero results\n", n)
		for i, f := range d.FetchMessagesActions {
			filter := "None"
			if f.FromAgentIDFilter != nil {
				filter = *f.FromAgentIDFilter
			}
			fmt.Fprintf(w, "      Fetch %d (timestamp: %s):\n", i+1, f.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
			fmt.Fprintf(w, "        Fetched %d messages (from_agent_id_filter: %s)\n", f.NumMessagesFetched, filter)
			if ids := f.ProposalIDs(); len(ids) > 0 {
				fmt.Fprintf(w, "        Proposal IDs in fetch: %s\n", strings.Join(ids, ", "))
			}
		}
	}
	if n := len(d.CustomerTimeline); n > 0 {
		fmt.Fprintf(w, "    Customer Timeline: %d events (actions + messages received)\n", n)
		fmt.Fprintln(w, "      (Full timeline available in JSON output)")
		show := min(timelinePreview, n)
		fmt.Fprintf(w, "      First %d events:\n", show)
		for _, e := range d.CustomerTimeline[:show] {
			writeEvent(w, e)
		}
		if n > show*2 {
			fmt.Fprintf(w, "      ... (%d more events)\n", n-show*2)
			fmt.Fprintf(w, "      Last %d events:\n", show)
			for _, e := range d.CustomerTimeline[n-show:] {
				writeEvent(w, e)
			}
		}
	}
	if len(d.LLMPrompt) > 0 {
		ts := "unknown"
		if d.LLMTimestamp != nil {
			ts = d.LLMTimestamp.Format("2006-01-02T15:04:05Z07:00")
		}
		fmt.Fprintf(w, "    LLM Prompt (model: %s, provider: %s, timestamp: %s, truncated to 1000 chars):\n", d.LLMModel, d.LLMProvider, ts)
		fmt.Fprintf(w, "      %s\n", truncate(rawText(d.LLMPrompt), 1000))
	}
	if len(d.LLMResponse) > 0 {
		fmt.Fprintln(w, "    LLM Response (truncated to 500 chars):")
		fmt.Fprintf(w, "      %s\n", truncate(rawText(d.LLMResponse), 500))
	}
	fmt.Fprintln(w)
}

func writeEvent(w io.Writer, e TimelineEvent) {
	ts := e.timestamp().Format("2006-01-02T15:04:05Z07:00")
	switch {
	case e.Action != nil:
		fmt.Fprintf(w, "        [%d] %s: Customer action: %s\n", e.Index, ts, e.Action.ActionType)
	case e.Message != nil:
		fmt.Fprintf(w, "        [%d] %s: Received %s from %s\n", e.Index, ts, e.Message.Message.Type(), e.Message.FromAgentID)
	}
}

// rawText shows a JSON string as its content and anything else indented.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return pretty(v)
}

func pretty(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
