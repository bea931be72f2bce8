// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"sort"
	"strings"
)

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	s1, s2 := []rune(a), []rune(b)
	if len(s1) < len(s2) {
		s1, s2 = s2, s1
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	cur := make([]int, len(s2)+1)
	for i, c1 := range s1 {
		cur[0] = i + 1
		for j, c2 := range s2 {
			cost := 1
			if c1 == c2 {
				cost = 0
			}
			cur[j+1] = min(prev[j+1]+1, cur[j]+1, prev[j]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(s2)]
}

// FuzzyMatch pairs a proposed item name with the menu item it was
// accepted as.
type FuzzyMatch struct {
	Distance     int    `json:"distance"`
	ProposedItem string `json:"proposed_item"`
	MenuItem     string `json:"menu_item"`
}

// MatchItems returns the menu items covered by proposed. Exact names match
// first. With maxDistance > 0 the leftovers are paired greedily by
// ascending case-insensitive edit distance, and neither side of a pair is
// used twice. Ties are broken by menu item, then proposed item.
func MatchItems(menu, proposed []string, maxDistance int) (map[string]bool, []FuzzyMatch) {
	menuLeft := toSet(menu)
	propLeft := toSet(proposed)
	matched := make(map[string]bool)
	for name := range propLeft {
		if menuLeft[name] {
			matched[name] = true
		}
	}
	if maxDistance <= 0 {
		return matched, nil
	}
	for name := range matched {
		delete(menuLeft, name)
		delete(propLeft, name)
	}

	var candidates []FuzzyMatch
	for m := range menuLeft {
		for p := range propLeft {
			d := Levenshtein(strings.ToLower(m), strings.ToLower(p))
			if d <= maxDistance {
				candidates = append(candidates, FuzzyMatch{Distance: d, ProposedItem: p, MenuItem: m})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.MenuItem != b.MenuItem {
			return a.MenuItem < b.MenuItem
		}
		return a.ProposedItem < b.ProposedItem
	})

	var fuzzy []FuzzyMatch
	for _, c := range candidates {
		if !menuLeft[c.MenuItem] || !propLeft[c.ProposedItem] {
			continue
		}
		matched[c.MenuItem] = true
		fuzzy = append(fuzzy, c)
		delete(menuLeft, c.MenuItem)
		delete(propLeft, c.ProposedItem)
	}
	return matched, fuzzy
}

// closestItem returns the menu item nearest to name. Ties go to the
// alphabetically first item.
func closestItem(name string, menu []string) (string, int) {
	best, bestDist := "", -1
	lower := strings.ToLower(name)
	for _, m := range menu {
		d := Levenshtein(lower, strings.ToLower(m))
		if bestDist < 0 || d < bestDist || (d == bestDist && m < best) {
			best, bestDist = m, d
		}
	}
	return best, bestDist
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
