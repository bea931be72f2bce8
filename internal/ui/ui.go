// SPDX-License-Identifier: Apache-2.0

// Package ui serves a read-only HTML view of one experiment: agents,
// their conversations, and their LLM traces.
package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/adiadia/agent-marketplace/internal/analytics"
	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
	"github.com/adiadia/agent-marketplace/internal/traces"
)

var errUnknownAgent = errors.New("unknown agent")

type Options struct {
	// Title names the experiment in page headers.
	Title  string
	Logger *slog.Logger
}

// Entry is one delivered message as shown in a conversation.
type Entry struct {
	Index     int64          `json:"index"`
	CreatedAt time.Time      `json:"created_at"`
	From      string         `json:"from_agent_id"`
	To        string         `json:"to_agent_id"`
	Message   domain.Message `json:"message"`
}

// Thread is the conversation between an agent and one peer.
type Thread struct {
	Peer     string  `json:"peer"`
	PeerName string  `json:"peer_name"`
	Entries  []Entry `json:"entries"`
}

type handler struct {
	db       store.Database
	title    string
	logger   *slog.Logger
	markdown goldmark.Markdown
}

// NewHandler builds the visualizer routes. Every request reads the
// database afresh, so a running experiment can be watched.
func NewHandler(db store.Database, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		db:       db,
		title:    opts.Title,
		logger:   logger,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}

	r := chi.NewRouter()
	r.Get("/", h.index)
	r.Get("/agents/{id}", h.agent)
	r.Get("/agents/{id}/traces", h.trace)
	r.Route("/api", func(r chi.Router) {
		r.Get("/agents", h.apiAgents)
		r.Get("/agents/{id}/threads", h.apiThreads)
		r.Get("/analytics", h.apiAnalytics)
	})
	return r
}

type overview struct {
	Title      string
	Customers  []domain.AgentProfile
	Businesses []domain.AgentProfile
	Actions    int
	Messages   int
	LLMCalls   int
}

func (h *handler) index(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(r.Context(), w)
	if !ok {
		return
	}
	view := overview{Title: h.title, Actions: len(snap.Actions), LLMCalls: len(traces.Calls(snap.Logs))}
	for _, row := range snap.Agents {
		switch row.Data.Kind {
		case domain.KindCustomer:
			view.Customers = append(view.Customers, row.Data)
		case domain.KindBusiness:
			view.Businesses = append(view.Businesses, row.Data)
		}
	}
	view.Messages = len(messages(snap))
	h.render(w, indexPage, view)
}

type agentView struct {
	Title   string
	Profile domain.AgentProfile
	Threads []Thread
}

func (h *handler) agent(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(r.Context(), w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	profile, err := findAgent(snap, id)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.render(w, agentPage, agentView{Title: h.title, Profile: profile, Threads: Threads(snap, id)})
}

type traceView struct {
	Title   string
	Profile domain.AgentProfile
	Body    template.HTML
}

func (h *handler) trace(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(r.Context(), w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	profile, err := findAgent(snap, id)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var calls []traces.Call
	for _, c := range traces.Calls(snap.Logs) {
		if c.AgentID == id {
			calls = append(calls, c)
		}
	}

	var md bytes.Buffer
	traces.Render(&md, fmt.Sprintf("%s (%s)", profile.Name(), id), calls)
	var body bytes.Buffer
	if err := h.markdown.Convert(md.Bytes(), &body); err != nil {
		h.logger.Error("render trace failed", "agent_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	// goldmark escapes raw HTML in the source unless WithUnsafe is set.
	h.render(w, tracePage, traceView{Title: h.title, Profile: profile, Body: template.HTML(body.String())})
}

func (h *handler) apiAgents(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(r.Context(), w)
	if !ok {
		return
	}
	out := make([]domain.AgentProfile, 0, len(snap.Agents))
	for _, row := range snap.Agents {
		out = append(out, row.Data)
	}
	writeJSON(w, out)
}

func (h *handler) apiThreads(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(r.Context(), w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := findAgent(snap, id); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, Threads(snap, id))
}

func (h *handler) apiAnalytics(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(r.Context(), w)
	if !ok {
		return
	}
	a, err := analytics.Analyze(snap, analytics.Options{Logger: h.logger})
	if err != nil {
		h.logger.Error("analyze failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, a.Results())
}

func (h *handler) load(ctx context.Context, w http.ResponseWriter) (store.Snapshot, bool) {
	snap, err := store.Load(ctx, h.db)
	if err != nil {
		if errors.Is(err, domain.ErrTooBusy) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "database too busy", http.StatusServiceUnavailable)
			return store.Snapshot{}, false
		}
		h.logger.Error("load experiment failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return store.Snapshot{}, false
	}
	return snap, true
}

func (h *handler) render(w http.ResponseWriter, t *template.Template, data any) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		h.logger.Error("render page failed", "template", t.Name(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func findAgent(snap store.Snapshot, id string) (domain.AgentProfile, error) {
	for _, row := range snap.Agents {
		if row.ID == id {
			return row.Data, nil
		}
	}
	return domain.AgentProfile{}, fmt.Errorf("%s: %w", id, errUnknownAgent)
}

// messages returns every successfully sent message in index order.
func messages(snap store.Snapshot) []Entry {
	var out []Entry
	for _, row := range snap.Actions {
		if row.Data.Result.IsError || row.Data.Request.Name != domain.RequestSendMessage {
			continue
		}
		action, err := domain.DecodeAction(row.Data.Request.Parameters)
		if err != nil {
			continue
		}
		send, ok := action.(domain.SendMessage)
		if !ok {
			continue
		}
		out = append(out, Entry{
			Index:     row.Index,
			CreatedAt: row.CreatedAt,
			From:      row.Data.AgentID,
			To:        send.ToAgentID,
			Message:   send.Message,
		})
	}
	return out
}

// Threads groups the messages an agent sent or received by peer, peers
// ordered by their first message.
func Threads(snap store.Snapshot, agentID string) []Thread {
	names := make(map[string]string, len(snap.Agents))
	for _, row := range snap.Agents {
		names[row.ID] = row.Data.Name()
	}
	byPeer := make(map[string]*Thread)
	var order []string
	for _, e := range messages(snap) {
		var peer string
		switch agentID {
		case e.From:
			peer = e.To
		case e.To:
			peer = e.From
		default:
			continue
		}
		t, ok := byPeer[peer]
		if !ok {
			t = &Thread{Peer: peer, PeerName: names[peer]}
			byPeer[peer] = t
			order = append(order, peer)
		}
		t.Entries = append(t.Entries, e)
	}
	out := make([]Thread, 0, len(order))
	for _, p := range order {
		out = append(out, *byPeer[p])
	}
	return out
}
