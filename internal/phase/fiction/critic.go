package fiction

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/narrative"
)

// Reviewer is the shared shape of the four review roles: continuity,
// style, pacing and dialogue. Each reads the draft through its own prompt
// and returns findings plus optional segment rewrites. Only the continuity
// checker may request an outline amendment.
type Reviewer struct {
	member
	amends bool
}

type reviewPrompt struct {
	Brief    core.Brief
	Chapter  int
	Segments []string
	Plan     *narrative.ChapterPlan
	Outline  *narrative.PlotOutline
	Cast     []narrative.CharacterProfile
	Previous []excerpt
	Revision int
}

func (r *Reviewer) Produce(ctx context.Context, view core.View) (core.Result, error) {
	if view.Draft == nil {
		return core.Result{}, fmt.Errorf("%w: no draft for chapter %d", core.ErrMalformedOutput, view.Chapter)
	}

	data := reviewPrompt{
		Brief:    view.Brief,
		Chapter:  view.Chapter,
		Segments: view.Draft.Segments,
		Plan:     view.Plan,
		Outline:  view.Outline,
		Cast:     view.Cast,
		Previous: excerpts(view.Prior),
		Revision: view.Revision,
	}
	var reply reviewReply
	if err := r.ask(ctx, data, &reply); err != nil {
		return core.Result{}, err
	}

	res := core.Result{
		Annotations: r.annotations(reply.Findings, view),
		Proposals:   r.proposals(reply.Proposals, view),
	}
	if r.amends && reply.Amendment != nil && len(nonEmpty(reply.Amendment.Beats)) > 0 {
		a := *reply.Amendment
		a.Beats = nonEmpty(a.Beats)
		res.Amendment = &a
	}

	r.logger.Info("chapter reviewed",
		"chapter", view.Chapter,
		"revision", view.Revision,
		"annotations", len(res.Annotations),
		"blocking", countBlocking(res.Annotations),
		"proposals", len(res.Proposals),
		"amendment", res.Amendment != nil)
	return res, nil
}

func (r *Reviewer) annotations(in []finding, view core.View) []narrative.Annotation {
	var out []narrative.Annotation
	for _, f := range in {
		desc := strings.TrimSpace(f.Description)
		if desc == "" {
			continue
		}
		out = append(out, narrative.Annotation{
			Source:      r.role,
			Severity:    severity(f.Severity),
			ChapterID:   view.Chapter,
			Revision:    view.Draft.Revision,
			Description: desc,
		})
	}
	return out
}

// proposals drops rewrites whose span falls outside the draft.
func (r *Reviewer) proposals(in []proposalReply, view core.View) []narrative.Proposal {
	n := len(view.Draft.Segments)
	var out []narrative.Proposal
	for _, p := range in {
		if p.Start < 0 || p.End < p.Start || p.End > n || (p.Start == p.End && len(p.Replacement) == 0) {
			r.logger.Debug("proposal out of range", "chapter", view.Chapter, "start", p.Start, "end", p.End, "segments", n)
			continue
		}
		out = append(out, narrative.Proposal{
			Source:      r.role,
			ChapterID:   view.Chapter,
			Start:       p.Start,
			End:         p.End,
			Replacement: p.Replacement,
			Confidence:  min(max(p.Confidence, 0), 1),
		})
	}
	return out
}

func severity(s string) narrative.Severity {
	if strings.EqualFold(strings.TrimSpace(s), string(narrative.SeverityBlocking)) {
		return narrative.SeverityBlocking
	}
	return narrative.SeverityAdvisory
}

func countBlocking(in []narrative.Annotation) int {
	n := 0
	for _, a := range in {
		if a.Blocking() {
			n++
		}
	}
	return n
}
