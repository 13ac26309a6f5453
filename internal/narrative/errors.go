package narrative

import (
	"errors"
	"fmt"
)

// ErrInvalidStateTransition is matched by every patch rejection. A rejected
// patch is a defect in the caller's ordering and is never retried.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// InvalidStateTransitionError describes why Apply refused a patch.
type InvalidStateTransitionError struct {
	Kind      PatchKind
	Agent     Role
	ChapterID int
	Reason    string
}

func (e *InvalidStateTransitionError) Error() string {
	if e.ChapterID > 0 {
		return fmt.Sprintf("invalid state transition: %s patch from %s on chapter %d: %s", e.Kind, e.Agent, e.ChapterID, e.Reason)
	}
	return fmt.Sprintf("invalid state transition: %s patch from %s: %s", e.Kind, e.Agent, e.Reason)
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

func reject(p Patch, format string, args ...any) error {
	return &InvalidStateTransitionError{
		Kind:      p.Kind,
		Agent:     p.Agent,
		ChapterID: p.ChapterID,
		Reason:    fmt.Sprintf(format, args...),
	}
}
