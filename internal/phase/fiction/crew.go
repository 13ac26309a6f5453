package fiction

import (
	"log/slog"

	"github.com/dotcommander/bookwright/internal/agent"
	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/narrative"
)

type settings struct {
	temperatures map[narrative.Role]float64
	maxTokens    int
	prompts      *agent.PromptCache
	logger       *slog.Logger
}

// Option customizes the crew built by NewCrew.
type Option func(*settings)

// WithTemperature overrides the sampling temperature of one role.
func WithTemperature(role narrative.Role, t float64) Option {
	return func(s *settings) {
		s.temperatures[role] = t
	}
}

func WithMaxTokens(n int) Option {
	return func(s *settings) {
		s.maxTokens = n
	}
}

// WithPrompts replaces the embedded prompt templates.
func WithPrompts(p *agent.PromptCache) Option {
	return func(s *settings) {
		s.prompts = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// NewCrew returns all eight crew members backed by gen, in pipeline order.
func NewCrew(gen agent.Generator, opts ...Option) []core.Agent {
	s := settings{
		temperatures: make(map[narrative.Role]float64),
		prompts:      Prompts,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return []core.Agent{
		&PlotArchitect{newMember(narrative.RolePlotArchitect, gen, s)},
		&CharacterDesigner{newMember(narrative.RoleCharacterDesigner, gen, s)},
		&Writer{newMember(narrative.RoleWriter, gen, s)},
		&Reviewer{member: newMember(narrative.RoleContinuityChecker, gen, s), amends: true},
		&Reviewer{member: newMember(narrative.RoleStyleReviewer, gen, s)},
		&Reviewer{member: newMember(narrative.RolePacingAdvisor, gen, s)},
		&Reviewer{member: newMember(narrative.RoleDialogueExpert, gen, s)},
		&QualityAnalyst{member: newMember(narrative.RoleQualityAnalyst, gen, s), threshold: DefaultAcceptScore},
	}
}
