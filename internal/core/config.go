package core

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dotcommander/bookwright/internal/narrative"
)

// Aggressiveness controls which rewrite proposals the orchestrator applies.
type Aggressiveness string

const (
	AggressivenessNone         Aggressiveness = "none"
	AggressivenessConservative Aggressiveness = "conservative"
	AggressivenessModerate     Aggressiveness = "moderate"
	AggressivenessAggressive   Aggressiveness = "aggressive"
)

// Threshold is the minimum proposal confidence applied at this level. The
// second return value is false when no proposal is ever applied.
func (a Aggressiveness) Threshold() (float64, bool) {
	switch a {
	case AggressivenessConservative:
		return 0.8, true
	case AggressivenessModerate:
		return 0.5, true
	case AggressivenessAggressive:
		return 0, true
	default:
		return 0, false
	}
}

// ParseAggressiveness accepts the configuration spelling.
func ParseAggressiveness(s string) (Aggressiveness, error) {
	a := Aggressiveness(s)
	switch a {
	case AggressivenessNone, AggressivenessConservative, AggressivenessModerate, AggressivenessAggressive:
		return a, nil
	}
	return "", fmt.Errorf("unknown aggressiveness %q", s)
}

// ExhaustionPolicy decides what happens to the rest of the book when a
// chapter runs out of revisions.
type ExhaustionPolicy string

const (
	PolicyContinue ExhaustionPolicy = "continue"
	PolicyAbort    ExhaustionPolicy = "abort"
)

// ParseExhaustionPolicy accepts the configuration spelling.
func ParseExhaustionPolicy(s string) (ExhaustionPolicy, error) {
	p := ExhaustionPolicy(s)
	if p != PolicyContinue && p != PolicyAbort {
		return "", fmt.Errorf("unknown exhaustion policy %q", s)
	}
	return p, nil
}

// DefaultPrecedence orders conflicting rewrite proposals, highest first.
var DefaultPrecedence = []narrative.Role{
	narrative.RoleContinuityChecker,
	narrative.RoleStyleReviewer,
	narrative.RolePacingAdvisor,
	narrative.RoleDialogueExpert,
}

// RunConfig is read once at the start of a run and never changed.
type RunConfig struct {
	Brief          Brief
	Chapters       int
	Enabled        []narrative.Role
	MaxRevisions   int
	Aggressiveness Aggressiveness
	Precedence     []narrative.Role
	OnExhausted    ExhaustionPolicy
	CallTimeout    time.Duration

	// PlanningAttempts bounds how often the plot architect and character
	// designer are asked again after a retryable failure.
	PlanningAttempts int
	RetryBackoff     time.Duration

	OutputFormats []string
}

// DefaultRunConfig returns a run of n chapters with every role enabled.
func DefaultRunConfig(n int) RunConfig {
	return RunConfig{
		Chapters:         n,
		Enabled:          slices.Clone(narrative.Roles),
		MaxRevisions:     3,
		Aggressiveness:   AggressivenessModerate,
		Precedence:       slices.Clone(DefaultPrecedence),
		OnExhausted:      PolicyContinue,
		CallTimeout:      2 * time.Minute,
		PlanningAttempts: 3,
		RetryBackoff:     time.Second,
		OutputFormats:    []string{"txt"},
	}
}

// Validate checks the configuration before a run. A non-positive chapter
// count is left for the plot architect to reject.
func (c RunConfig) Validate() error {
	var errs []error
	if c.MaxRevisions < 0 {
		errs = append(errs, fmt.Errorf("max revisions must be >= 0, got %d", c.MaxRevisions))
	}
	if c.PlanningAttempts < 1 {
		errs = append(errs, fmt.Errorf("planning attempts must be >= 1, got %d", c.PlanningAttempts))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout))
	}
	if _, err := ParseAggressiveness(string(c.Aggressiveness)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseExhaustionPolicy(string(c.OnExhausted)); err != nil {
		errs = append(errs, err)
	}
	for _, r := range c.Precedence {
		if !slices.Contains(DefaultPrecedence, r) {
			errs = append(errs, fmt.Errorf("precedence names %s, which never proposes rewrites", r))
		}
	}
	if err := ValidatePipeline(c.Enabled); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// enabled reports whether role takes part in the run.
func (c RunConfig) enabled(role narrative.Role) bool {
	return slices.Contains(c.Enabled, role)
}

// rank orders a proposal source by precedence. Unlisted sources rank last.
func (c RunConfig) rank(role narrative.Role) int {
	order := c.Precedence
	if len(order) == 0 {
		order = DefaultPrecedence
	}
	if i := slices.Index(order, role); i >= 0 {
		return i
	}
	return len(order)
}
