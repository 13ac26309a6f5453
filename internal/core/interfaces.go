package core

import (
	"context"

	"github.com/dotcommander/bookwright/internal/narrative"
)

// Agent is the uniform contract every crew member fulfils. Implementations
// read only the View they are given and never touch the store.
type Agent interface {
	Role() narrative.Role
	Produce(ctx context.Context, view View) (Result, error)
}

// ChapterSink receives each chapter record as soon as the chapter is
// accepted.
type ChapterSink interface {
	SaveChapter(ctx context.Context, runID string, rec narrative.ChapterRecord) error
}

// Brief is the run-level request every agent may read.
type Brief struct {
	Title    string `json:"title,omitempty"`
	Genre    string `json:"genre"`
	Premise  string `json:"premise"`
	Style    string `json:"style"`
	Chapters int    `json:"chapters"`
}

// View is the read-only context handed to an agent.
type View struct {
	narrative.Snapshot

	Brief Brief
	// Feedback carries findings the agent must address, e.g. blocking
	// annotations from the previous pass fed back to the writer.
	Feedback []narrative.Annotation
	Revision int
}

// Verdict is the quality analyst's decision on a chapter.
type Verdict string

const (
	VerdictNone   Verdict = ""
	VerdictAccept Verdict = "ACCEPT"
	VerdictReject Verdict = "REJECT"
)

// Result is an agent's typed output. Only the fields matching the agent's
// declared writes are read by the orchestrator.
type Result struct {
	Outline     *narrative.PlotOutline
	Cast        []narrative.CharacterProfile
	Segments    []string
	Characters  []string
	Annotations []narrative.Annotation
	Proposals   []narrative.Proposal
	Amendment   *narrative.Amendment
	Verdict     Verdict
	Title       string
	Confidence  float64
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc struct {
	role narrative.Role
	fn   func(ctx context.Context, view View) (Result, error)
}

// NewAgentFunc returns an Agent for role backed by fn.
func NewAgentFunc(role narrative.Role, fn func(ctx context.Context, view View) (Result, error)) *AgentFunc {
	return &AgentFunc{role: role, fn: fn}
}

func (a *AgentFunc) Role() narrative.Role { return a.role }

func (a *AgentFunc) Produce(ctx context.Context, view View) (Result, error) {
	return a.fn(ctx, view)
}
