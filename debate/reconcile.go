package debate

import (
	"sort"

	"github.com/hupe1980/debatemesh/core"
)

// Reconciler turns the surviving participant answers into one final answer.
// The default policy is documented on DefaultReconciler; supply a custom
// implementation via router options when the original weighting rules need to
// differ.
type Reconciler interface {
	Reconcile(answers []ParticipantAnswer) core.Output
}

// ReconcilerFunc adapts a function to the Reconciler interface.
type ReconcilerFunc func(answers []ParticipantAnswer) core.Output

// Reconcile implements Reconciler.
func (f ReconcilerFunc) Reconcile(answers []ParticipantAnswer) core.Output {
	return f(answers)
}

// DefaultReconciler applies the documented default policy:
//
//  1. A normalized majority (two or more matching answers) wins. Between
//     equally sized groups the one holding the heaviest participant wins.
//  2. With no majority, the highest-weighted participant wins.
//  3. Remaining ties fall to the lowest cost tier (fast < balanced < sota),
//     then to the lexicographically smallest participant name, so the same
//     disagreeing inputs always yield the same final answer.
type DefaultReconciler struct{}

// Reconcile implements Reconciler. answers must be non-empty.
func (DefaultReconciler) Reconcile(answers []ParticipantAnswer) core.Output {
	ordered := make([]ParticipantAnswer, len(answers))
	copy(ordered, answers)
	sort.Slice(ordered, func(i, j int) bool {
		return preferred(ordered[i], ordered[j])
	})

	groups := groupByNormalized(ordered)
	best := groups[0]
	for _, g := range groups[1:] {
		if len(g) > len(best) {
			best = g
		}
	}
	if len(best) >= 2 {
		return best[0].Output
	}

	// All answers materially disagree; ordered[0] already encodes
	// weight > tier > name preference.
	return ordered[0].Output
}

// preferred orders answers by descending weight, ascending tier rank, then
// participant name.
func preferred(a, b ParticipantAnswer) bool {
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	if a.Tier.rank() != b.Tier.rank() {
		return a.Tier.rank() < b.Tier.rank()
	}
	return a.Participant < b.Participant
}

// groupByNormalized buckets answers by their normalized form, preserving the
// preference order inside and across groups.
func groupByNormalized(ordered []ParticipantAnswer) [][]ParticipantAnswer {
	index := map[string]int{}
	var groups [][]ParticipantAnswer
	for _, ans := range ordered {
		key := ans.Output.Normalized()
		if i, ok := index[key]; ok {
			groups[i] = append(groups[i], ans)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, []ParticipantAnswer{ans})
	}
	return groups
}

// agreementScore is the fraction of the debate's participants whose answer
// matched the final answer. Failed participants count against the score.
func agreementScore(answers []ParticipantAnswer, final core.Output, participants int) float64 {
	if participants == 0 {
		return 0
	}
	matches := 0
	for _, ans := range answers {
		if ans.Output.Equal(final) {
			matches++
		}
	}
	return float64(matches) / float64(participants)
}
