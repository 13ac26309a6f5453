package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/dotcommander/bookwright/internal/narrative"
)

// ChapterOutcome is the terminal record of one chapter.
type ChapterOutcome struct {
	ChapterID int          `json:"chapter_id"`
	Title     string       `json:"title"`
	Status    ChapterState `json:"status"`
	// Revisions is the revision counter the chapter ended with.
	Revisions int `json:"revisions"`
	// RevisingTransitions counts entries into REVISING.
	RevisingTransitions int           `json:"revising_transitions"`
	Reason              string        `json:"reason,omitempty"`
	Err                 error         `json:"-"`
	Duration            time.Duration `json:"duration"`
}

// Report summarizes a run. It is returned for every run that got past
// planning, including cancelled ones.
type Report struct {
	RunID      string                       `json:"run_id"`
	Title      string                       `json:"title"`
	Phase      RunPhase                     `json:"phase"`
	Chapters   []ChapterOutcome             `json:"chapters"`
	Audit      []narrative.AuditRecord      `json:"audit"`
	Records    []narrative.ChapterRecord    `json:"-"`
	Outline    *narrative.PlotOutline       `json:"-"`
	Cast       []narrative.CharacterProfile `json:"-"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
}

// Accepted is the aggregate success count.
func (r *Report) Accepted() int {
	return r.count(ChapterAccepted)
}

// Rejected counts chapters that ended REJECTED.
func (r *Report) Rejected() int {
	return r.count(ChapterRejected)
}

// Terminal counts chapters in a terminal state.
func (r *Report) Terminal() int {
	return r.Accepted() + r.Rejected()
}

func (r *Report) count(s ChapterState) int {
	n := 0
	for _, c := range r.Chapters {
		if c.Status == s {
			n++
		}
	}
	return n
}

// Chapter returns the outcome for a chapter id.
func (r *Report) Chapter(id int) (ChapterOutcome, bool) {
	for _, c := range r.Chapters {
		if c.ChapterID == id {
			return c, true
		}
	}
	return ChapterOutcome{}, false
}

// Manuscript returns the assembled chapter records.
func (r *Report) Manuscript() []narrative.ChapterRecord {
	return r.Records
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s, %d/%d chapters accepted\n", r.RunID, r.Phase, r.Accepted(), len(r.Chapters))
	for _, c := range r.Chapters {
		fmt.Fprintf(&b, "  chapter %d %-9s revisions=%d", c.ChapterID, c.Status, c.Revisions)
		if c.Reason != "" {
			fmt.Fprintf(&b, " reason=%q", c.Reason)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
