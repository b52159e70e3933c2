package cli

import (
	"slices"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// maxHintDistance is the largest edit distance still offered as a typo fix.
const maxHintDistance = 2

// SuggestProviders returns the known provider names closest to name, best
// first. Subsequence matches ("gh" -> "github") rank before pure typo
// matches ("gmial" -> "gmail").
func SuggestProviders(name string, known []string) []string {
	if name == "" {
		return nil
	}

	ranks := fuzzy.RankFindFold(name, known)
	sort.Sort(ranks)
	out := make([]string, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, r.Target)
	}

	for _, candidate := range known {
		if slices.Contains(out, candidate) {
			continue
		}
		if fuzzy.LevenshteinDistance(name, candidate) <= maxHintDistance {
			out = append(out, candidate)
		}
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}
