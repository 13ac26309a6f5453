package fiction

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/narrative"
)

// CharacterDesigner builds the cast from the outline.
type CharacterDesigner struct {
	member
}

type castPrompt struct {
	Brief    core.Brief
	Outline  *narrative.PlotOutline
	Feedback []narrative.Annotation
}

func (c *CharacterDesigner) Produce(ctx context.Context, view core.View) (core.Result, error) {
	var reply castReply
	err := c.ask(ctx, castPrompt{Brief: view.Brief, Outline: view.Outline, Feedback: view.Feedback}, &reply)
	if err != nil {
		return core.Result{}, err
	}

	// aliases resolves declared IDs and display names to assigned IDs.
	aliases := make(map[string]string)
	taken := make(map[string]bool)
	var cast []narrative.CharacterProfile
	for i, ch := range reply.Characters {
		name := strings.TrimSpace(ch.Name)
		id := slug(ch.ID)
		if id == "" {
			id = slug(name)
		}
		if prev, ok := aliases[id]; ok && id != "" && sameName(cast, prev, name) {
			continue // listed twice
		}
		if id == "" || taken[id] {
			id = fmt.Sprintf("char_%d", i+1)
		}
		taken[id] = true
		for _, key := range []string{id, slug(ch.ID), slug(name)} {
			if _, ok := aliases[key]; !ok && key != "" {
				aliases[key] = id
			}
		}
		if name == "" {
			name = id
		}
		cast = append(cast, narrative.CharacterProfile{
			ID:            id,
			Name:          name,
			Role:          strings.ToLower(strings.TrimSpace(ch.Role)),
			Traits:        nonEmpty(ch.Traits),
			Voice:         strings.TrimSpace(ch.Voice),
			Relationships: ch.Relationships,
		})
	}

	// Relationships may name characters by display name or by an ID the
	// model never declared; keep only edges that resolve.
	for i := range cast {
		var kept []narrative.Relationship
		for _, r := range cast[i].Relationships {
			target, ok := aliases[slug(r.Target)]
			if !ok || target == cast[i].ID {
				continue
			}
			kept = append(kept, narrative.Relationship{Kind: strings.TrimSpace(r.Kind), Target: target})
		}
		cast[i].Relationships = kept
	}

	protagonists := 0
	for _, ch := range cast {
		if ch.IsProtagonist() {
			protagonists++
		}
	}
	if protagonists == 0 {
		return core.Result{}, fmt.Errorf("%w: %d characters, no protagonist", core.ErrInsufficientCast, len(cast))
	}

	c.logger.Info("cast designed", "characters", len(cast), "attempt", view.Revision+1)
	return core.Result{Cast: cast}, nil
}

// slug lowercases s and joins its words with underscores. Letters and
// digits of any script are kept.
func slug(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r)
	})
	return strings.Join(words, "_")
}

func sameName(cast []narrative.CharacterProfile, id, name string) bool {
	for _, c := range cast {
		if c.ID == id {
			return strings.EqualFold(c.Name, name) || name == ""
		}
	}
	return false
}
