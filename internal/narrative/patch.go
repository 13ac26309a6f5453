package narrative

import (
	"slices"
)

// PatchKind names the slice of state a patch replaces or extends.
type PatchKind string

const (
	PatchOutline     PatchKind = "outline"
	PatchAmendment   PatchKind = "amendment"
	PatchCast        PatchKind = "cast"
	PatchDraft       PatchKind = "draft"
	PatchAnnotations PatchKind = "annotations"
	PatchRewrite     PatchKind = "rewrite"
	PatchStatus      PatchKind = "status"
)

// writers is the write-permission table. Continuity is the only role that
// may amend the outline.
var writers = map[PatchKind][]Role{
	PatchOutline:   {RolePlotArchitect},
	PatchAmendment: {RoleContinuityChecker},
	PatchCast:      {RoleCharacterDesigner},
	PatchDraft:     {RoleWriter},
	PatchAnnotations: {
		RoleContinuityChecker,
		RoleStyleReviewer,
		RolePacingAdvisor,
		RoleDialogueExpert,
		RoleQualityAnalyst,
	},
	PatchRewrite: {RoleOrchestrator},
	PatchStatus:  {RoleOrchestrator, RoleQualityAnalyst},
}

// CanWrite reports whether role may issue a patch of the given kind.
func CanWrite(role Role, kind PatchKind) bool {
	return slices.Contains(writers[kind], role)
}

// Patch is an agent's output expressed as a change to the narrative state.
// Only the fields relevant to Kind are read.
type Patch struct {
	Kind      PatchKind
	Agent     Role
	ChapterID int

	Outline     *PlotOutline
	Amendment   *Amendment
	Cast        []CharacterProfile
	Draft       *ChapterDraft
	Annotations []Annotation
	Segments    []string
	Status      Status
	Reason      string
}

// State is the canonical document. It is exported so snapshots and
// comparisons can be made; callers only ever see copies.
type State struct {
	Outline     *PlotOutline
	Cast        []CharacterProfile
	Drafts      map[int]*ChapterDraft
	Annotations []Annotation
}

func (s *State) clone() *State {
	out := &State{
		Cast:        cloneCast(s.Cast),
		Drafts:      make(map[int]*ChapterDraft, len(s.Drafts)),
		Annotations: slices.Clone(s.Annotations),
	}
	if s.Outline != nil {
		o := cloneOutline(*s.Outline)
		out.Outline = &o
	}
	for id, d := range s.Drafts {
		c := cloneDraft(*d)
		out.Drafts[id] = &c
	}
	return out
}

func cloneOutline(o PlotOutline) PlotOutline {
	o.Chapters = slices.Clone(o.Chapters)
	for i := range o.Chapters {
		o.Chapters[i] = clonePlan(o.Chapters[i])
	}
	return o
}

func clonePlan(p ChapterPlan) ChapterPlan {
	p.Beats = slices.Clone(p.Beats)
	p.Characters = slices.Clone(p.Characters)
	return p
}

func cloneCast(cast []CharacterProfile) []CharacterProfile {
	if cast == nil {
		return nil
	}
	out := make([]CharacterProfile, len(cast))
	for i, c := range cast {
		c.Traits = slices.Clone(c.Traits)
		c.Relationships = slices.Clone(c.Relationships)
		out[i] = c
	}
	return out
}

func cloneDraft(d ChapterDraft) ChapterDraft {
	d.Segments = slices.Clone(d.Segments)
	d.Characters = slices.Clone(d.Characters)
	return d
}
