// SPDX-License-Identifier: Apache-2.0

// Package traces writes every agent's LLM calls to markdown files, one
// file set per customer and one per business-customer conversation.
package traces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
)

const (
	customersDir  = "customers"
	businessesDir = "businesses"
	unknownPeer   = "unknown"
)

// Dir is the output directory for an experiment's traces.
func Dir(dbName string) string {
	return dbName + "-agent-llm-traces"
}

// CustomerPath is the first trace file of a customer.
func CustomerPath(dbName, customerID string) string {
	return filepath.Join(Dir(dbName), customersDir, fmt.Sprintf("%s-0.md", customerID))
}

// BusinessPath is the first trace file of a business's conversation with
// one customer.
func BusinessPath(dbName, businessID, customerID string) string {
	return filepath.Join(Dir(dbName), businessesDir, fmt.Sprintf("%s-%s-0.md", businessID, customerID))
}

// Call is one decoded LLM call log with its row position.
type Call struct {
	Index     int64
	CreatedAt time.Time
	AgentID   string
	Log       domain.LLMCallLog
}

// Messages returns the prompt as chat messages. A plain string prompt is
// reported as one user message.
func (c Call) Messages() []domain.ChatMessage {
	var msgs []domain.ChatMessage
	if err := json.Unmarshal(c.Log.Prompt, &msgs); err == nil {
		return msgs
	}
	var s string
	if err := json.Unmarshal(c.Log.Prompt, &s); err == nil {
		return []domain.ChatMessage{{Role: "user", Content: s}}
	}
	if len(c.Log.Prompt) == 0 {
		return nil
	}
	return []domain.ChatMessage{{Role: "user", Content: string(c.Log.Prompt)}}
}

// Options tune an extraction.
type Options struct {
	// CallsPerFile splits long traces into numbered parts. Zero keeps one
	// file per trace.
	CallsPerFile int
	Logger       *slog.Logger
}

// Summary counts what Extract wrote.
type Summary struct {
	Dir       string
	Files     int
	Calls     int
	Customers int
	Threads   int
}

// Extract loads db and writes its traces under outDir.
func Extract(ctx context.Context, db store.Database, outDir string, opts Options) (Summary, error) {
	snap, err := store.Load(ctx, db)
	if err != nil {
		return Summary{}, fmt.Errorf("load experiment: %w", err)
	}
	return Write(snap, outDir, opts)
}

// Write renders the traces contained in snap.
func Write(snap store.Snapshot, outDir string, opts Options) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	profiles := make(map[string]domain.AgentProfile, len(snap.Agents))
	var customerIDs []string
	for _, row := range snap.Agents {
		profiles[row.ID] = row.Data
		if row.Data.Kind == domain.KindCustomer {
			customerIDs = append(customerIDs, row.ID)
		}
	}
	// Longest ids first so "customer-10" is not mistaken for "customer-1".
	sort.Slice(customerIDs, func(i, j int) bool {
		if len(customerIDs[i]) != len(customerIDs[j]) {
			return len(customerIDs[i]) > len(customerIDs[j])
		}
		return customerIDs[i] < customerIDs[j]
	})

	customerCalls := make(map[string][]Call)
	businessCalls := make(map[[2]string][]Call)
	for _, call := range Calls(snap.Logs) {
		p, ok := profiles[call.AgentID]
		if !ok {
			logger.Warn("llm call from unknown agent", "agent_id", call.AgentID, "index", call.Index)
			continue
		}
		switch p.Kind {
		case domain.KindCustomer:
			customerCalls[call.AgentID] = append(customerCalls[call.AgentID], call)
		case domain.KindBusiness:
			key := [2]string{call.AgentID, Peer(call, customerIDs)}
			businessCalls[key] = append(businessCalls[key], call)
		}
	}

	sum := Summary{Dir: outDir}
	for _, sub := range []string{customersDir, businessesDir} {
		if err := os.MkdirAll(filepath.Join(outDir, sub), 0o755); err != nil {
			return Summary{}, fmt.Errorf("create trace dir: %w", err)
		}
	}

	for id, calls := range customerCalls {
		title := fmt.Sprintf("%s (%s)", profiles[id].Name(), id)
		n, err := writeParts(filepath.Join(outDir, customersDir), id, title, calls, opts.CallsPerFile)
		if err != nil {
			return Summary{}, err
		}
		sum.Files += n
		sum.Calls += len(calls)
		sum.Customers++
	}
	for key, calls := range businessCalls {
		businessID, customerID := key[0], key[1]
		title := fmt.Sprintf("%s (%s) with %s", profiles[businessID].Name(), businessID, customerID)
		n, err := writeParts(filepath.Join(outDir, businessesDir), businessID+"-"+customerID, title, calls, opts.CallsPerFile)
		if err != nil {
			return Summary{}, err
		}
		sum.Files += n
		sum.Calls += len(calls)
		sum.Threads++
	}
	logger.Info("traces written", "dir", outDir, "files", sum.Files, "calls", sum.Calls)
	return sum, nil
}

// Calls decodes the LLM call logs among rows, keeping index order.
func Calls(rows []domain.LogRow) []Call {
	var out []Call
	for _, row := range rows {
		call, ok := domain.DecodeLLMCall(row.Data)
		if !ok {
			continue
		}
		out = append(out, Call{Index: row.Index, CreatedAt: row.CreatedAt, AgentID: row.Data.AgentID(), Log: call})
	}
	return out
}

// Peer finds the customer a business call was about by looking for a
// customer id in the prompt.
func Peer(call Call, customerIDs []string) string {
	texts := call.Log.PromptTexts()
	for _, id := range customerIDs {
		for _, t := range texts {
			if strings.Contains(t, id) {
				return id
			}
		}
	}
	return unknownPeer
}

func writeParts(dir, stem, title string, calls []Call, perFile int) (int, error) {
	if perFile <= 0 {
		perFile = len(calls)
	}
	files := 0
	for part, start := 0, 0; start < len(calls); part, start = part+1, start+perFile {
		end := min(start+perFile, len(calls))
		var buf bytes.Buffer
		Render(&buf, title, calls[start:end])
		path := filepath.Join(dir, fmt.Sprintf("%s-%d.md", stem, part))
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return files, fmt.Errorf("write trace %s: %w", path, err)
		}
		files++
	}
	return files, nil
}

// Render writes calls as one markdown document.
func Render(w io.Writer, title string, calls []Call) {
	fmt.Fprintf(w, "# LLM trace: %s\n\n", title)
	for i, c := range calls {
		fmt.Fprintf(w, "## Call %d (index %d)\n\n", i+1, c.Index)
		if !c.CreatedAt.IsZero() {
			fmt.Fprintf(w, "- time: %s\n", c.CreatedAt.UTC().Format(time.RFC3339))
		}
		fmt.Fprintf(w, "- provider: %s\n- model: %s\n- success: %t\n- duration_ms: %d\n- token_count: %d\n",
			orUnknown(c.Log.Provider), orUnknown(c.Log.Model), c.Log.Success, c.Log.DurationMS, c.Log.TokenCount)
		if c.Log.ErrorMessage != "" {
			fmt.Fprintf(w, "- error: %s\n", c.Log.ErrorMessage)
		}
		fmt.Fprintln(w)

		for _, m := range c.Messages() {
			fmt.Fprintf(w, "### %s\n\n", m.Role)
			writeFenced(w, m.Content)
		}
		fmt.Fprintln(w, "### response")
		fmt.Fprintln(w)
		writeFenced(w, c.Log.ResponseText())
	}
}

// writeFenced picks a fence longer than any backtick run in s.
func writeFenced(w io.Writer, s string) {
	fence := "```"
	for strings.Contains(s, fence) {
		fence += "`"
	}
	fmt.Fprintf(w, "%s\n%s\n%s\n\n", fence, strings.TrimRight(s, "\n"), fence)
}

func orUnknown(s string) string {
	if s == "" {
		return unknownPeer
	}
	return s
}

// ErrExists is returned when the output directory already holds traces.
var ErrExists = errors.New("trace directory already exists")

// Prepare resolves the output directory for dbName under parent and
// refuses to reuse a non-empty one.
func Prepare(parent, dbName string) (string, error) {
	dir := filepath.Join(parent, Dir(dbName))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return dir, nil
		}
		return "", fmt.Errorf("inspect %s: %w", dir, err)
	}
	if len(entries) > 0 {
		return "", fmt.Errorf("%s: %w", dir, ErrExists)
	}
	return dir, nil
}
