package fiction

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/narrative"
)

// DefaultAcceptScore is the mean score, out of 10, a chapter needs to pass.
const DefaultAcceptScore = 7.0

// QualityAnalyst scores a reviewed chapter and decides whether it is
// ready. On the final chapter it also proposes a book title when the
// brief has none.
type QualityAnalyst struct {
	member
	threshold float64
}

type qualityPrompt struct {
	Brief       core.Brief
	Plan        *narrative.ChapterPlan
	Segments    []string
	Annotations []narrative.Annotation
	WantTitle   bool
}

func (q *QualityAnalyst) Produce(ctx context.Context, view core.View) (core.Result, error) {
	if view.Draft == nil {
		return core.Result{}, fmt.Errorf("%w: no draft for chapter %d", core.ErrMalformedOutput, view.Chapter)
	}

	wantTitle := view.Brief.Title == "" && view.Chapter == view.Brief.Chapters
	var reply qualityReply
	err := q.ask(ctx, qualityPrompt{
		Brief:       view.Brief,
		Plan:        view.Plan,
		Segments:    view.Draft.Segments,
		Annotations: view.Annotations,
		WantTitle:   wantTitle,
	}, &reply)
	if err != nil {
		return core.Result{}, err
	}

	score := mean(reply.Scores)
	blocking := view.Blocking()
	res := core.Result{Verdict: core.VerdictAccept, Confidence: score / 10}
	switch {
	case len(blocking) > 0:
		res.Verdict = core.VerdictReject
	case score < q.threshold:
		res.Verdict = core.VerdictReject
		desc := fmt.Sprintf("overall score %.1f is below %.1f", score, q.threshold)
		if w := nonEmpty(reply.Weaknesses); len(w) > 0 {
			desc += ": " + strings.Join(w, "; ")
		}
		res.Annotations = []narrative.Annotation{{
			Source:      q.role,
			Severity:    narrative.SeverityBlocking,
			ChapterID:   view.Chapter,
			Revision:    view.Draft.Revision,
			Description: desc,
		}}
	}
	if wantTitle && res.Verdict == core.VerdictAccept {
		res.Title = strings.Trim(strings.TrimSpace(reply.Title), `"`)
	}

	q.logger.Info("chapter scored",
		"chapter", view.Chapter,
		"revision", view.Revision,
		"score", fmt.Sprintf("%.1f", score),
		"verdict", res.Verdict,
		"blocking", len(blocking))
	return res, nil
}

// mean averages the category scores, each clamped to [0, 10]. No scores
// counts as 5.
func mean(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 5
	}
	var sum float64
	for _, s := range scores {
		sum += min(max(s, 0), 10)
	}
	return sum / float64(len(scores))
}
