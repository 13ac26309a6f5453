package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/dotcommander/bookwright/internal/narrative"
)

// =============================================================================
// Agent-level sentinel errors
// =============================================================================

var (
	// ErrIncoherentPlot is returned by the plot architect when the requested
	// chapter count is non-positive or a chapter has no beats. Never retried.
	ErrIncoherentPlot = errors.New("incoherent plot")

	// ErrInsufficientCast is returned by the character designer when no
	// protagonist was produced. Retried with adjusted context.
	ErrInsufficientCast = errors.New("insufficient cast")

	// ErrMalformedOutput marks generated text that could not be parsed into
	// the agent's result. Treated as transient.
	ErrMalformedOutput = errors.New("malformed agent output")

	// ErrTimeout marks an agent call that exceeded the per-call timeout.
	ErrTimeout = errors.New("agent call timed out")
)

// =============================================================================
// Orchestrator error taxonomy
// =============================================================================

// FatalPlanningError aborts the whole run before any chapter is drafted.
type FatalPlanningError struct {
	Role  narrative.Role
	Cause error
}

func (e *FatalPlanningError) Error() string {
	return fmt.Sprintf("fatal planning error in %s: %v", e.Role, e.Cause)
}

func (e *FatalPlanningError) Unwrap() error {
	return e.Cause
}

// Kind classifies a generation failure.
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// AgentGenerationError is a classified failure of one agent call.
type AgentGenerationError struct {
	Role      narrative.Role
	ChapterID int
	Kind      Kind
	Cause     error
}

func (e *AgentGenerationError) Error() string {
	if e.ChapterID > 0 {
		return fmt.Sprintf("%s generation error in %s (chapter %d): %v", e.Kind, e.Role, e.ChapterID, e.Cause)
	}
	return fmt.Sprintf("%s generation error in %s: %v", e.Kind, e.Role, e.Cause)
}

func (e *AgentGenerationError) Unwrap() error {
	return e.Cause
}

// Transient reports whether the failure may be retried.
func (e *AgentGenerationError) Transient() bool {
	return e.Kind == KindTransient
}

// RevisionBudgetExhaustedError records a chapter that ran out of revisions.
type RevisionBudgetExhaustedError struct {
	ChapterID int
	Revisions int
	Last      error
}

func (e *RevisionBudgetExhaustedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("chapter %d: revision budget exhausted after %d revisions: %v", e.ChapterID, e.Revisions, e.Last)
	}
	return fmt.Sprintf("chapter %d: revision budget exhausted after %d revisions", e.ChapterID, e.Revisions)
}

func (e *RevisionBudgetExhaustedError) Unwrap() error {
	return e.Last
}

// =============================================================================
// Classification
// =============================================================================

// transienter is implemented by errors that know whether they are
// retryable, such as agent.GenerationError.
type transienter interface {
	Transient() bool
}

// Classify maps an agent error to transient or permanent. Unknown errors
// are permanent.
func Classify(err error) Kind {
	var t transienter
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrMalformedOutput):
		return KindTransient
	case errors.As(err, &t):
		if t.Transient() {
			return KindTransient
		}
		return KindPermanent
	default:
		return KindPermanent
	}
}

// IsFatal reports whether err terminates a whole run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fatal *FatalPlanningError
	return errors.As(err, &fatal) ||
		errors.Is(err, narrative.ErrInvalidStateTransition) ||
		errors.Is(err, context.Canceled)
}

// IsTransient reports whether err is a retryable agent failure.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}
