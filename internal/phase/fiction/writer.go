package fiction

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/narrative"
)

const (
	// contextChapters is how many accepted chapters the writer sees excerpts of.
	contextChapters = 2
	excerptWords    = 200
)

// Writer drafts one chapter from its plan, the cast and the chapters
// already accepted.
type Writer struct {
	member
}

type excerpt struct {
	ChapterID int
	Opening   string
	Ending    string
}

type writerPrompt struct {
	Brief    core.Brief
	Plan     narrative.ChapterPlan
	Cast     []narrative.CharacterProfile
	Previous []excerpt
	Feedback []narrative.Annotation
	Revision int
}

func (w *Writer) Produce(ctx context.Context, view core.View) (core.Result, error) {
	if view.Plan == nil {
		return core.Result{}, fmt.Errorf("%w: no plan for chapter %d", core.ErrMalformedOutput, view.Chapter)
	}

	data := writerPrompt{
		Brief:    view.Brief,
		Plan:     *view.Plan,
		Cast:     view.Cast,
		Previous: excerpts(view.Prior),
		Feedback: view.Feedback,
		Revision: view.Revision,
	}
	var reply draftReply
	if err := w.ask(ctx, data, &reply); err != nil {
		return core.Result{}, err
	}

	segments := nonEmpty(reply.Segments)
	if len(segments) == 0 {
		return core.Result{}, fmt.Errorf("%w: chapter %d draft has no text", core.ErrMalformedOutput, view.Chapter)
	}
	characters := referenced(view.Cast, reply.Characters, segments)

	w.logger.Info("chapter drafted",
		"chapter", view.Chapter,
		"revision", view.Revision,
		"segments", len(segments),
		"words", words(segments),
		"characters", len(characters),
		"feedback", len(view.Feedback))
	return core.Result{Segments: segments, Characters: characters}, nil
}

func excerpts(prior []narrative.ChapterDraft) []excerpt {
	if len(prior) > contextChapters {
		prior = prior[len(prior)-contextChapters:]
	}
	out := make([]excerpt, 0, len(prior))
	for _, d := range prior {
		fields := strings.Fields(d.Text())
		e := excerpt{ChapterID: d.ChapterID, Opening: strings.Join(fields, " ")}
		if len(fields) > excerptWords {
			e.Opening = strings.Join(fields[:excerptWords], " ")
		}
		if len(fields) > 2*excerptWords {
			e.Ending = strings.Join(fields[len(fields)-excerptWords:], " ")
		}
		out = append(out, e)
	}
	return out
}

// referenced returns the cast IDs the draft uses: those the model reported
// plus any character whose name appears in the text. IDs outside the cast
// are dropped.
func referenced(cast []narrative.CharacterProfile, reported []string, segments []string) []string {
	text := strings.ToLower(strings.Join(segments, "\n"))
	var ids []string
	for _, c := range cast {
		mentioned := c.Name != "" && strings.Contains(text, strings.ToLower(c.Name))
		if mentioned || slices.ContainsFunc(reported, func(r string) bool {
			return r == c.ID || slug(r) == c.ID || strings.EqualFold(r, c.Name)
		}) {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func words(segments []string) int {
	n := 0
	for _, s := range segments {
		n += len(strings.Fields(s))
	}
	return n
}
