package core

import (
	"fmt"
	"slices"
)

// ChapterState is the orchestrator's view of one chapter's progress.
type ChapterState string

const (
	ChapterPlanned   ChapterState = "PLANNED"
	ChapterDrafting  ChapterState = "DRAFTING"
	ChapterReviewing ChapterState = "REVIEWING"
	ChapterRevising  ChapterState = "REVISING"
	ChapterAccepted  ChapterState = "ACCEPTED"
	ChapterRejected  ChapterState = "REJECTED"
)

// Terminal reports whether the chapter is finished.
func (s ChapterState) Terminal() bool {
	return s == ChapterAccepted || s == ChapterRejected
}

var chapterTransitions = map[ChapterState][]ChapterState{
	ChapterPlanned:   {ChapterDrafting, ChapterRejected},
	ChapterDrafting:  {ChapterReviewing, ChapterRevising, ChapterRejected},
	ChapterReviewing: {ChapterAccepted, ChapterRevising, ChapterRejected},
	ChapterRevising:  {ChapterDrafting, ChapterReviewing, ChapterRejected},
}

// RunPhase is the global state of a run.
type RunPhase string

const (
	PhaseInit      RunPhase = "INIT"
	PhasePlotReady RunPhase = "PLOT_READY"
	PhaseCastReady RunPhase = "CAST_READY"
	PhaseWriting   RunPhase = "WRITING"
	PhaseAssembled RunPhase = "ASSEMBLED"
	PhaseFailed    RunPhase = "FAILED"
)

var runTransitions = map[RunPhase][]RunPhase{
	PhaseInit:      {PhasePlotReady, PhaseFailed},
	PhasePlotReady: {PhaseCastReady, PhaseFailed},
	PhaseCastReady: {PhaseWriting, PhaseFailed},
	PhaseWriting:   {PhaseAssembled, PhaseFailed},
}

// chapterMachine tracks one chapter through its states.
type chapterMachine struct {
	id       int
	state    ChapterState
	revising int
}

func newChapterMachine(id int) *chapterMachine {
	return &chapterMachine{id: id, state: ChapterPlanned}
}

func (m *chapterMachine) to(next ChapterState) error {
	if !slices.Contains(chapterTransitions[m.state], next) {
		return fmt.Errorf("chapter %d: illegal transition %s -> %s", m.id, m.state, next)
	}
	if next == ChapterRevising {
		m.revising++
	}
	m.state = next
	return nil
}

func advanceRun(from, to RunPhase) (RunPhase, error) {
	if !slices.Contains(runTransitions[from], to) {
		return from, fmt.Errorf("illegal run transition %s -> %s", from, to)
	}
	return to, nil
}
