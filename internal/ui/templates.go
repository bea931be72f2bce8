// SPDX-License-Identifier: Apache-2.0

package ui

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

var funcs = template.FuncMap{
	"describe": describe,
	"money":    func(v float64) string { return fmt.Sprintf("$%.2f", v) },
	"join":     strings.Join,
}

// describe renders a message as one line of plain text.
func describe(m domain.Message) string {
	switch msg := m.(type) {
	case domain.TextMessage:
		return msg.Content
	case domain.OrderProposal:
		items := make([]string, 0, len(msg.Items))
		for _, it := range msg.Items {
			items = append(items, fmt.Sprintf("%dx %s @ $%.2f", it.Quantity, it.ItemName, it.UnitPrice))
		}
		return fmt.Sprintf("Order proposal %s: %s (total $%.2f)", msg.ID, strings.Join(items, ", "), msg.TotalPrice)
	case domain.Payment:
		return fmt.Sprintf("Payment for proposal %s", msg.ProposalMessageID)
	default:
		return ""
	}
}

const layout = `{{define "head"}}<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>
body{font-family:sans-serif;max-width:960px;margin:2em auto;color:#222}
table{border-collapse:collapse}td,th{padding:4px 8px;border-bottom:1px solid #ddd;text-align:left}
.msg{margin:4px 0}.meta{color:#888;font-size:small}
pre{background:#f6f6f6;padding:8px;overflow-x:auto}
</style></head><body>
<p><a href="/">{{.Title}}</a></p>{{end}}
{{define "foot"}}</body></html>{{end}}
`

var indexPage = template.Must(template.New("index").Funcs(funcs).Parse(layout + `{{template "head" .}}
<h1>{{.Title}}</h1>
<p>{{len .Customers}} customers, {{len .Businesses}} businesses, {{.Actions}} actions, {{.Messages}} messages, {{.LLMCalls}} LLM calls.</p>
<h2>Customers</h2>
<table><tr><th>ID</th><th>Name</th><th>Request</th></tr>
{{range .Customers}}<tr><td><a href="/agents/{{.ID}}">{{.ID}}</a></td><td>{{.Name}}</td><td>{{.Customer.Request}}</td></tr>
{{end}}</table>
<h2>Businesses</h2>
<table><tr><th>ID</th><th>Name</th><th>Rating</th><th>Menu</th></tr>
{{range .Businesses}}<tr><td><a href="/agents/{{.ID}}">{{.ID}}</a></td><td>{{.Name}}</td><td>{{.Business.Rating}}</td><td>{{join .Business.MenuItems ", "}}</td></tr>
{{end}}</table>
{{template "foot"}}`))

var agentPage = template.Must(template.New("agent").Funcs(funcs).Parse(layout + `{{template "head" .}}
<h1>{{.Profile.Name}} <span class="meta">{{.Profile.ID}} ({{.Profile.Kind}})</span></h1>
<p><a href="/agents/{{.Profile.ID}}/traces">LLM trace</a></p>
{{with .Profile.Customer}}<p>{{.Request}}</p>
<table><tr><th>Item</th><th>Willing to pay</th></tr>
{{range $item, $price := .MenuFeatures}}<tr><td>{{$item}}</td><td>{{money $price}}</td></tr>{{end}}
</table>{{if .AmenityFeatures}}<p>Requires: {{join .AmenityFeatures ", "}}</p>{{end}}{{end}}
{{with .Profile.Business}}<p>{{.Description}}</p>
<table><tr><th>Item</th><th>Price</th></tr>
{{range $item, $price := .MenuFeatures}}<tr><td>{{$item}}</td><td>{{money $price}}</td></tr>{{end}}
</table><p>Amenities: {{join .TrueAmenities ", "}}</p>{{end}}
<h2>Conversations</h2>
{{range .Threads}}<h3>{{if .PeerName}}{{.PeerName}} {{end}}<span class="meta">{{.Peer}}</span></h3>
{{range .Entries}}<div class="msg"><span class="meta">#{{.Index}} {{.From}} &rarr; {{.To}}</span> {{describe .Message}}</div>
{{end}}{{else}}<p>No messages.</p>{{end}}
{{template "foot"}}`))

var tracePage = template.Must(template.New("trace").Funcs(funcs).Parse(layout + `{{template "head" .}}
<p><a href="/agents/{{.Profile.ID}}">{{.Profile.Name}}</a></p>
{{.Body}}
{{template "foot"}}`))
