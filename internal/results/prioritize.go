package results

import (
	"sort"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// attentionWeights orders outcomes by how urgently an operator needs to look at them.
var attentionWeights = map[schemas.Outcome]int{
	schemas.OutcomeFailure: 2,
	schemas.OutcomeUnknown: 1,
	schemas.OutcomeSuccess: 0,
}

// Prioritize returns a copy of results with failures first, then unknowns, then
// successes. The original order is kept within each outcome.
func Prioritize(results []schemas.SiteResult) []schemas.SiteResult {
	out := append([]schemas.SiteResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		return attentionWeights[out[i].Outcome] > attentionWeights[out[j].Outcome]
	})
	return out
}

// NeedsAttention returns the results that are not a confirmed success.
func NeedsAttention(results []schemas.SiteResult) []schemas.SiteResult {
	var out []schemas.SiteResult
	for _, r := range Prioritize(results) {
		if r.Outcome != schemas.OutcomeSuccess {
			out = append(out, r)
		}
	}
	return out
}
