package fiction

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/narrative"
)

// PlotArchitect drafts the chapter-by-chapter outline from the brief.
type PlotArchitect struct {
	member
}

func (p *PlotArchitect) Produce(ctx context.Context, view core.View) (core.Result, error) {
	if view.Brief.Chapters <= 0 {
		return core.Result{}, fmt.Errorf("%w: %d chapters requested", core.ErrIncoherentPlot, view.Brief.Chapters)
	}

	var reply outlineReply
	if err := p.ask(ctx, view.Brief, &reply); err != nil {
		return core.Result{}, err
	}

	outline := &narrative.PlotOutline{
		Title:   strings.TrimSpace(reply.Title),
		Premise: strings.TrimSpace(reply.Premise),
	}
	if view.Brief.Title != "" {
		outline.Title = view.Brief.Title
	}
	if outline.Premise == "" {
		outline.Premise = view.Brief.Premise
	}
	for i, ch := range reply.Chapters {
		plan := narrative.ChapterPlan{
			ID:         i + 1,
			Title:      strings.TrimSpace(ch.Title),
			Synopsis:   strings.TrimSpace(ch.Synopsis),
			Beats:      nonEmpty(ch.Beats),
			Characters: nonEmpty(ch.Characters),
		}
		if plan.Title == "" {
			plan.Title = fmt.Sprintf("Chapter %d", plan.ID)
		}
		if len(plan.Beats) == 0 {
			return core.Result{}, fmt.Errorf("%w: chapter %d has no beats", core.ErrIncoherentPlot, plan.ID)
		}
		outline.Chapters = append(outline.Chapters, plan)
	}

	p.logger.Info("outline drafted",
		"title", outline.Title,
		"chapters", len(outline.Chapters),
		"requested", view.Brief.Chapters)
	return core.Result{Outline: outline}, nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
