// SPDX-License-Identifier: Apache-2.0

// Package search ranks registered businesses for customer queries.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/store"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// ErrUnsupportedAlgorithm is returned for algorithms this engine does not
// implement. The protocol layer reports it as a failed action.
var ErrUnsupportedAlgorithm = fmt.Errorf("%w: unsupported search algorithm", domain.ErrInvalidAction)

type Engine struct {
	agents store.AgentTable
}

func NewEngine(agents store.AgentTable) *Engine {
	return &Engine{agents: agents}
}

func (e *Engine) Search(ctx context.Context, q domain.Search) (domain.SearchResponse, error) {
	businesses, err := e.businesses(ctx)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	businesses = applyConstraints(businesses, q.Constraints)

	var ranked []domain.Business
	switch q.SearchAlgorithm {
	case domain.SearchSimple, domain.SearchFiltered:
		ranked = businesses
	case domain.SearchLexical:
		ranked = rankLexical(businesses, q.Query)
	case domain.SearchRNR, domain.SearchOptimal:
		return domain.SearchResponse{}, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, q.SearchAlgorithm)
	default:
		return domain.SearchResponse{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, q.SearchAlgorithm)
	}

	return paginate(ranked, q), nil
}

func (e *Engine) businesses(ctx context.Context) ([]domain.Business, error) {
	out := make([]domain.Business, 0, 32)
	offset := 0
	for {
		rows, err := e.agents.GetAll(ctx, store.RangeParams{Limit: store.DefaultBatchSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("load businesses: %w", err)
		}
		for _, row := range rows {
			if row.Data.Kind == domain.KindBusiness && row.Data.Business != nil {
				out = append(out, *row.Data.Business)
			}
		}
		if len(rows) < store.DefaultBatchSize {
			break
		}
		offset += len(rows)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func applyConstraints(in []domain.Business, c *domain.SearchConstraints) []domain.Business {
	if c == nil {
		return in
	}
	out := make([]domain.Business, 0, len(in))
	for _, b := range in {
		if c.MinRating != nil && b.Rating < *c.MinRating {
			continue
		}
		if !b.SatisfiesAmenities(c.RequiredAmenities) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// rankLexical scores businesses by how many distinct query tokens appear
// in their name, description, menu and offered amenities. Businesses
// matching no token are dropped unless the query is empty.
func rankLexical(in []domain.Business, query string) []domain.Business {
	queryTokens := uniqueTokens(query)
	if len(queryTokens) == 0 {
		return in
	}

	type scored struct {
		business domain.Business
		score    int
	}
	matches := make([]scored, 0, len(in))
	for _, b := range in {
		doc := make(map[string]bool)
		for _, field := range documentFields(b) {
			for _, tok := range tokenize(field) {
				doc[tok] = true
			}
		}
		score := 0
		for _, tok := range queryTokens {
			if doc[tok] {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{business: b, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if matches[i].business.Rating != matches[j].business.Rating {
			return matches[i].business.Rating > matches[j].business.Rating
		}
		return matches[i].business.ID < matches[j].business.ID
	})

	out := make([]domain.Business, len(matches))
	for i, m := range matches {
		out[i] = m.business
	}
	return out
}

func documentFields(b domain.Business) []string {
	fields := []string{b.Name, b.Description}
	fields = append(fields, b.MenuItems()...)
	fields = append(fields, b.TrueAmenities()...)
	return fields
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func uniqueTokens(s string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 8)
	for _, tok := range tokenize(s) {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

func paginate(ranked []domain.Business, q domain.Search) domain.SearchResponse {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)
	page := max(q.Page, 1)

	total := len(ranked)
	totalPages := (total + limit - 1) / limit
	// Pages past the end are empty; checking first keeps the offset in range.
	start := total
	if page <= totalPages {
		start = (page - 1) * limit
	}
	end := min(start+limit, total)

	profiles := make([]domain.AgentProfile, 0, end-start)
	for _, b := range ranked[start:end] {
		profiles = append(profiles, domain.BusinessProfile(b))
	}

	return domain.SearchResponse{
		Businesses:           profiles,
		SearchAlgorithm:      string(q.SearchAlgorithm),
		TotalPossibleResults: &total,
		TotalPages:           &totalPages,
	}
}
