package core

import (
	"cmp"
	"slices"

	"github.com/dotcommander/bookwright/internal/narrative"
)

// mergeOutcome is what survives proposal resolution for one chapter pass.
type mergeOutcome struct {
	Segments  []string
	Applied   []narrative.Proposal
	Discarded []narrative.Proposal
}

// mergeProposals resolves rewrite proposals against segments. Proposals
// below the aggressiveness threshold or with an invalid span are discarded.
// The rest are taken in precedence order; one overlapping an accepted
// proposal is discarded. Survivors are spliced from the back so earlier
// indexes stay valid.
func mergeProposals(segments []string, proposals []narrative.Proposal, cfg RunConfig) mergeOutcome {
	out := mergeOutcome{Segments: slices.Clone(segments)}
	threshold, ok := cfg.Aggressiveness.Threshold()
	if !ok {
		out.Discarded = slices.Clone(proposals)
		return out
	}

	ordered := slices.Clone(proposals)
	slices.SortStableFunc(ordered, func(a, b narrative.Proposal) int {
		return cmp.Compare(cfg.rank(a.Source), cfg.rank(b.Source))
	})

	for _, p := range ordered {
		if p.Confidence < threshold || p.Start < 0 || p.End < p.Start || p.End > len(segments) {
			out.Discarded = append(out.Discarded, p)
			continue
		}
		if slices.ContainsFunc(out.Applied, p.Overlaps) || slices.ContainsFunc(out.Applied, func(q narrative.Proposal) bool {
			// Two insertions at the same point conflict too.
			return p.Start == p.End && q.Start == q.End && p.Start == q.Start
		}) {
			out.Discarded = append(out.Discarded, p)
			continue
		}
		out.Applied = append(out.Applied, p)
	}

	splice := slices.Clone(out.Applied)
	slices.SortFunc(splice, func(a, b narrative.Proposal) int {
		return cmp.Or(cmp.Compare(b.Start, a.Start), cmp.Compare(b.End, a.End))
	})
	for _, p := range splice {
		out.Segments = slices.Replace(out.Segments, p.Start, p.End, p.Replacement...)
	}
	return out
}
