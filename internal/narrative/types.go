// Package narrative holds the shared document of record for a generation run:
// the plot outline, the cast, chapter drafts and review annotations. All
// mutation goes through Store.Apply.
package narrative

import (
	"fmt"
	"strings"
)

// Role identifies one of the crew members allowed to read or write state.
type Role string

const (
	RolePlotArchitect     Role = "plot_architect"
	RoleCharacterDesigner Role = "character_designer"
	RoleWriter            Role = "writer"
	RoleContinuityChecker Role = "continuity_checker"
	RoleStyleReviewer     Role = "style_reviewer"
	RolePacingAdvisor     Role = "pacing_advisor"
	RoleDialogueExpert    Role = "dialogue_expert"
	RoleQualityAnalyst    Role = "quality_analyst"

	// RoleOrchestrator is used for bookkeeping patches (status transitions)
	// that no agent issues directly.
	RoleOrchestrator Role = "orchestrator"
)

// Roles lists the eight crew roles in pipeline order.
var Roles = []Role{
	RolePlotArchitect,
	RoleCharacterDesigner,
	RoleWriter,
	RoleContinuityChecker,
	RoleStyleReviewer,
	RolePacingAdvisor,
	RoleDialogueExpert,
	RoleQualityAnalyst,
}

// ParseRole accepts the snake_case role names used in configuration.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// ChapterPlan is one entry of the plot outline.
type ChapterPlan struct {
	ID         int      `json:"id"`
	Title      string   `json:"title"`
	Synopsis   string   `json:"synopsis"`
	Beats      []string `json:"beats"`
	Characters []string `json:"characters,omitempty"`
}

// PlotOutline is the ordered chapter plan. There is exactly one per run.
type PlotOutline struct {
	Title    string        `json:"title"`
	Premise  string        `json:"premise"`
	Chapters []ChapterPlan `json:"chapters"`
}

// Chapter returns the plan for chapter id.
func (o *PlotOutline) Chapter(id int) (ChapterPlan, bool) {
	if o == nil {
		return ChapterPlan{}, false
	}
	for _, ch := range o.Chapters {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChapterPlan{}, false
}

// Relationship is a named edge to another character, e.g. "rival of".
type Relationship struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// CharacterProfile describes one member of the cast.
type CharacterProfile struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Role          string         `json:"role"`
	Traits        []string       `json:"traits"`
	Voice         string         `json:"voice"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// IsProtagonist reports whether the profile fills a protagonist role.
func (c CharacterProfile) IsProtagonist() bool {
	return strings.EqualFold(strings.TrimSpace(c.Role), "protagonist")
}

// Status is the lifecycle of a stored chapter draft.
type Status string

const (
	StatusDrafted  Status = "DRAFTED"
	StatusReviewed Status = "REVIEWED"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether no further transitions may occur.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// ChapterDraft is the working text of one chapter.
type ChapterDraft struct {
	ChapterID  int      `json:"chapter_id"`
	Segments   []string `json:"segments"`
	Characters []string `json:"characters,omitempty"`
	Status     Status   `json:"status"`
	Revision   int      `json:"revision"`
	Reason     string   `json:"reason,omitempty"`
}

// Text joins the segments into prose.
func (d ChapterDraft) Text() string {
	return strings.Join(d.Segments, "\n\n")
}

// Severity of a review finding.
type Severity string

const (
	SeverityBlocking Severity = "BLOCKING"
	SeverityAdvisory Severity = "ADVISORY"
)

// Annotation is a review finding against one chapter revision.
type Annotation struct {
	ID          string   `json:"id"`
	Source      Role     `json:"source"`
	Severity    Severity `json:"severity"`
	ChapterID   int      `json:"chapter_id"`
	Revision    int      `json:"revision"`
	Description string   `json:"description"`
	Resolved    bool     `json:"resolved"`
}

// Blocking reports whether the annotation still blocks acceptance.
func (a Annotation) Blocking() bool {
	return a.Severity == SeverityBlocking && !a.Resolved
}

// Proposal suggests replacing the segment span [Start, End) of a chapter.
type Proposal struct {
	Source      Role     `json:"source"`
	ChapterID   int      `json:"chapter_id"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Replacement []string `json:"replacement"`
	Confidence  float64  `json:"confidence"`
}

// Overlaps reports whether two proposals touch a common segment.
func (p Proposal) Overlaps(q Proposal) bool {
	return p.Start < q.End && q.Start < p.End
}

// Amendment asks for an outline change. Only the continuity checker may
// issue one.
type Amendment struct {
	ChapterID int      `json:"chapter_id"`
	Synopsis  string   `json:"synopsis"`
	Beats     []string `json:"beats"`
	Reason    string   `json:"reason"`
}

// ChapterRecord is the packaging-facing view of a finished chapter.
type ChapterRecord struct {
	ChapterID int               `json:"chapter_id"`
	Title     string            `json:"title"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata"`
}
