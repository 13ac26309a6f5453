package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dotcommander/bookwright/internal/narrative"
)

func TestMergeProposals(t *testing.T) {
	segments := []string{"a", "b", "c", "d"}
	prop := func(src narrative.Role, start, end int, conf float64, repl ...string) narrative.Proposal {
		return narrative.Proposal{Source: src, Start: start, End: end, Confidence: conf, Replacement: repl}
	}

	tests := []struct {
		name           string
		aggressiveness Aggressiveness
		precedence     []narrative.Role
		proposals      []narrative.Proposal
		want           []string
		applied        int
		discarded      int
	}{
		{
			name:           "no proposals",
			aggressiveness: AggressivenessModerate,
			want:           segments,
		},
		{
			name:           "higher precedence wins overlap",
			aggressiveness: AggressivenessAggressive,
			proposals: []narrative.Proposal{
				prop(narrative.RoleDialogueExpert, 1, 3, 0.9, "D"),
				prop(narrative.RoleContinuityChecker, 2, 3, 0.9, "C"),
			},
			want:      []string{"a", "b", "C", "d"},
			applied:   1,
			discarded: 1,
		},
		{
			name:           "configured precedence",
			aggressiveness: AggressivenessAggressive,
			precedence:     []narrative.Role{narrative.RoleDialogueExpert, narrative.RoleContinuityChecker},
			proposals: []narrative.Proposal{
				prop(narrative.RoleContinuityChecker, 2, 3, 0.9, "C"),
				prop(narrative.RoleDialogueExpert, 1, 3, 0.9, "D"),
			},
			want:      []string{"a", "D", "d"},
			applied:   1,
			discarded: 1,
		},
		{
			name:           "disjoint spans all apply",
			aggressiveness: AggressivenessModerate,
			proposals: []narrative.Proposal{
				prop(narrative.RoleStyleReviewer, 0, 1, 0.6, "A1", "A2"),
				prop(narrative.RolePacingAdvisor, 3, 4, 0.7),
			},
			want:    []string{"A1", "A2", "b", "c"},
			applied: 2,
		},
		{
			name:           "conservative drops low confidence",
			aggressiveness: AggressivenessConservative,
			proposals: []narrative.Proposal{
				prop(narrative.RoleStyleReviewer, 0, 1, 0.79, "X"),
				prop(narrative.RolePacingAdvisor, 1, 2, 0.8, "Y"),
			},
			want:      []string{"a", "Y", "c", "d"},
			applied:   1,
			discarded: 1,
		},
		{
			name:           "none applies nothing",
			aggressiveness: AggressivenessNone,
			proposals:      []narrative.Proposal{prop(narrative.RoleStyleReviewer, 0, 1, 1, "X")},
			want:           segments,
			discarded:      1,
		},
		{
			name:           "out of range span is discarded",
			aggressiveness: AggressivenessAggressive,
			proposals: []narrative.Proposal{
				prop(narrative.RoleStyleReviewer, 3, 9, 1, "X"),
				prop(narrative.RoleStyleReviewer, 2, 1, 1, "Y"),
			},
			want:      segments,
			discarded: 2,
		},
		{
			name:           "insertion next to a replaced span",
			aggressiveness: AggressivenessAggressive,
			proposals: []narrative.Proposal{
				prop(narrative.RoleStyleReviewer, 1, 2, 1, "B"),
				prop(narrative.RoleDialogueExpert, 1, 1, 1, "ins"),
			},
			want:    []string{"a", "ins", "B", "c", "d"},
			applied: 2,
		},
		{
			name:           "competing insertions keep the first",
			aggressiveness: AggressivenessAggressive,
			proposals: []narrative.Proposal{
				prop(narrative.RolePacingAdvisor, 4, 4, 1, "p"),
				prop(narrative.RoleStyleReviewer, 4, 4, 1, "s"),
			},
			want:      []string{"a", "b", "c", "d", "s"},
			applied:   1,
			discarded: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig(1)
			cfg.Aggressiveness = tt.aggressiveness
			if tt.precedence != nil {
				cfg.Precedence = tt.precedence
			}
			out := mergeProposals(segments, tt.proposals, cfg)
			assert.Equal(t, tt.want, out.Segments)
			assert.Len(t, out.Applied, tt.applied)
			assert.Len(t, out.Discarded, tt.discarded)
		})
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, segments, "input must not be modified")
}
