//go:build property

// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestMatchItemsIsDeterministic feeds the matcher random menus and
// proposals. Property: the result does not depend on input order and no
// menu or proposed item appears in two fuzzy pairs.
func TestMatchItemsIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	word := gen.SliceOfN(5, gen.RuneRange('a', 'c')).Map(func(rs []rune) string { return string(rs) })
	words := gen.SliceOf(word)

	properties.Property("fuzzy matching is order independent and one to one", prop.ForAll(
		func(menu, proposed []string, distance int) bool {
			m1, f1 := MatchItems(menu, proposed, distance)
			m2, f2 := MatchItems(reversed(menu), reversed(proposed), distance)
			if !reflect.DeepEqual(m1, m2) || !reflect.DeepEqual(f1, f2) {
				return false
			}

			usedMenu := map[string]bool{}
			usedProposed := map[string]bool{}
			menuSet := toSet(menu)
			for _, f := range f1 {
				if usedMenu[f.MenuItem] || usedProposed[f.ProposedItem] {
					return false
				}
				if f.Distance > distance || !menuSet[f.MenuItem] || !m1[f.MenuItem] {
					return false
				}
				usedMenu[f.MenuItem] = true
				usedProposed[f.ProposedItem] = true
			}
			return true
		},
		words,
		words,
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[len(in)-1-i] = s
	}
	return out
}
