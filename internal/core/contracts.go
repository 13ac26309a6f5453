package core

import (
	"fmt"
	"slices"

	"github.com/dotcommander/bookwright/internal/narrative"
)

// Stage orders the crew inside one run. Roles in the same stage must not
// depend on each other's output.
type Stage int

const (
	StagePlanning Stage = iota
	StageCasting
	StageDrafting
	StageReviewing
	StageGating
)

// Contract declares what a role reads and writes.
type Contract struct {
	Stage    Stage
	Reads    narrative.Field
	Optional narrative.Field
	Writes   narrative.Field
}

// Scope is the store scope for a chapter.
func (c Contract) Scope(chapter int) narrative.Scope {
	return narrative.Scope{Fields: c.Reads | c.Optional, Chapter: chapter}
}

// Contracts is the read/write table for the eight roles.
var Contracts = map[narrative.Role]Contract{
	narrative.RolePlotArchitect: {
		Stage:  StagePlanning,
		Writes: narrative.FieldOutline | narrative.FieldChapterPlan,
	},
	narrative.RoleCharacterDesigner: {
		Stage:  StageCasting,
		Reads:  narrative.FieldOutline,
		Writes: narrative.FieldCast,
	},
	narrative.RoleWriter: {
		Stage:    StageDrafting,
		Reads:    narrative.FieldChapterPlan | narrative.FieldCast,
		Optional: narrative.FieldPriorChapters,
		Writes:   narrative.FieldDraft,
	},
	narrative.RoleContinuityChecker: {
		Stage:    StageReviewing,
		Reads:    narrative.FieldOutline | narrative.FieldCast | narrative.FieldDraft,
		Optional: narrative.FieldPriorChapters,
		Writes:   narrative.FieldAnnotations | narrative.FieldDraft | narrative.FieldOutline,
	},
	narrative.RoleStyleReviewer: {
		Stage:    StageReviewing,
		Reads:    narrative.FieldDraft,
		Optional: narrative.FieldPriorChapters,
		Writes:   narrative.FieldAnnotations | narrative.FieldDraft,
	},
	narrative.RolePacingAdvisor: {
		Stage:  StageReviewing,
		Reads:  narrative.FieldDraft | narrative.FieldChapterPlan,
		Writes: narrative.FieldAnnotations | narrative.FieldDraft,
	},
	narrative.RoleDialogueExpert: {
		Stage:  StageReviewing,
		Reads:  narrative.FieldDraft | narrative.FieldCast,
		Writes: narrative.FieldAnnotations | narrative.FieldDraft,
	},
	narrative.RoleQualityAnalyst: {
		Stage:    StageGating,
		Reads:    narrative.FieldDraft | narrative.FieldChapterPlan,
		Optional: narrative.FieldAnnotations,
		Writes:   narrative.FieldVerdict | narrative.FieldAnnotations,
	},
}

// runOutputs must be produced by some enabled role for a run to finish.
const runOutputs = narrative.FieldOutline | narrative.FieldCast | narrative.FieldDraft | narrative.FieldVerdict

// ValidatePipeline checks that every field a role requires is written by an
// enabled role in an earlier stage, and that the crew as a whole produces
// an outline, a cast, drafts and verdicts.
func ValidatePipeline(roles []narrative.Role) error {
	var produced narrative.Field
	for _, r := range roles {
		c, ok := Contracts[r]
		if !ok {
			return fmt.Errorf("role %q has no contract", r)
		}
		produced |= c.Writes
	}
	if !produced.Has(runOutputs) {
		return fmt.Errorf("pipeline produces %s, needs %s", produced&runOutputs, runOutputs)
	}

	for _, r := range roles {
		c := Contracts[r]
		var err error
		c.Reads.Each(func(f narrative.Field) {
			if err != nil {
				return
			}
			if !slices.ContainsFunc(roles, func(w narrative.Role) bool {
				wc := Contracts[w]
				return wc.Stage < c.Stage && wc.Writes.Has(f)
			}) {
				err = fmt.Errorf("%s reads %s but no earlier role writes it", r, f)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
