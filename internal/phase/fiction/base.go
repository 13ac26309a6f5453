// Package fiction implements the eight crew members that plan, write and
// review a book. Each one renders an embedded prompt, calls a Generator and
// decodes the JSON answer into a core.Result.
package fiction

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/dotcommander/bookwright/internal/agent"
	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/narrative"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Prompts is the shared cache over the embedded templates.
var Prompts = agent.NewPromptCache(promptFS)

// Default sampling temperatures per role.
var DefaultTemperatures = map[narrative.Role]float64{
	narrative.RolePlotArchitect:     0.7,
	narrative.RoleCharacterDesigner: 0.7,
	narrative.RoleWriter:            0.7,
	narrative.RoleContinuityChecker: 0.3,
	narrative.RoleStyleReviewer:     0.4,
	narrative.RolePacingAdvisor:     0.4,
	narrative.RoleDialogueExpert:    0.4,
	narrative.RoleQualityAnalyst:    0.4,
}

// member is the part every crew member shares: one role, one prompt and a
// generator to send it to.
type member struct {
	role    narrative.Role
	gen     agent.Generator
	prompts *agent.PromptCache
	params  agent.Params
	logger  *slog.Logger
}

func newMember(role narrative.Role, gen agent.Generator, s settings) member {
	temp, ok := s.temperatures[role]
	if !ok {
		temp = DefaultTemperatures[role]
	}
	return member{
		role:    role,
		gen:     gen,
		prompts: s.prompts,
		params: agent.Params{
			System:      systemPrompts[role],
			Temperature: temp,
			MaxTokens:   s.maxTokens,
			JSON:        true,
			Operation:   string(role),
		},
		logger: s.logger.With("component", "fiction", "role", role),
	}
}

func (m member) Role() narrative.Role {
	return m.role
}

// ask renders the role's template with data, sends it and decodes the JSON
// reply into out. Generation errors are returned as-is so the caller can
// classify them; undecodable replies wrap core.ErrMalformedOutput.
func (m member) ask(ctx context.Context, data any, out any) error {
	path := "prompts/" + string(m.role) + ".tmpl"
	prompt, err := m.prompts.Render(path, data)
	if err != nil {
		return fmt.Errorf("building %s prompt: %w", m.role, err)
	}

	start := time.Now()
	reply, err := m.gen.Generate(ctx, prompt, m.params)
	if err != nil {
		return err
	}
	if err := decodeJSON(reply, out); err != nil {
		m.logger.Warn("undecodable reply",
			"reply_length", len(reply),
			"error", err)
		return fmt.Errorf("%w: %s: %w", core.ErrMalformedOutput, m.role, err)
	}
	m.logger.Debug("reply decoded",
		"duration_ms", time.Since(start).Milliseconds(),
		"reply_length", len(reply))
	return nil
}

var systemPrompts = map[narrative.Role]string{
	narrative.RolePlotArchitect:     "You are a master plot architect who designs compelling, coherent novel outlines.",
	narrative.RoleCharacterDesigner: "You are a character designer who builds memorable casts with distinct voices and clear relationships.",
	narrative.RoleWriter:            "You are a novelist. You write vivid prose that follows the outline and keeps every character consistent.",
	narrative.RoleContinuityChecker: "You are a continuity editor. You find contradictions in plot, timeline and character facts.",
	narrative.RoleStyleReviewer:     "You are a line editor focused on prose style, voice and consistency of tone.",
	narrative.RolePacingAdvisor:     "You are a structural editor focused on pacing, tension and scene rhythm.",
	narrative.RoleDialogueExpert:    "You are a dialogue editor. You make every character sound like themselves.",
	narrative.RoleQualityAnalyst:    "You are an acquisitions editor who scores chapters and decides whether they are ready.",
}
