package fiction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/bookwright/internal/agent"
	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/narrative"
)

const (
	outlineJSON = `{"title": "Tidewater", "premise": "A harbour town keeps a secret.", "chapters": [
		{"title": "Arrival", "synopsis": "Mara returns.", "beats": ["arrival", "old debts"], "characters": ["mara"]},
		{"title": "The Ledger", "synopsis": "Teodor finds the ledger.", "beats": ["discovery"], "characters": ["mara", "teodor"]}
	]}`
	castJSON = `{"characters": [
		{"id": "mara", "name": "Mara", "role": "Protagonist", "traits": ["stubborn"], "voice": "clipped"},
		{"name": "Teodor Voss", "role": "antagonist", "traits": ["charming"], "voice": "florid",
		 "relationships": [{"kind": "rival of", "target": "Mara"}, {"kind": "brother of", "target": "ghost"}]}
	]}`
	draftJSON     = "```json\n" + `{"segments": ["Mara waited by the harbour.", "Teodor Voss smiled.", "The tide came in."], "characters": ["mara", "nobody"]}` + "\n```"
	cleanReview   = `{"findings": [], "proposals": []}`
	passingScores = `{"scores": {"plot_and_structure": 8, "character_development": 8, "writing_craft": 7, "genre_elements": 8, "overall_impact": 8}, "title": "The Harbour Ledger"}`
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func crewFor(t *testing.T, mock *agent.MockClient, opts ...Option) map[narrative.Role]core.Agent {
	t.Helper()
	crew := make(map[narrative.Role]core.Agent)
	for _, a := range NewCrew(mock, append([]Option{WithLogger(quietLogger())}, opts...)...) {
		crew[a.Role()] = a
	}
	return crew
}

func brief() core.Brief {
	return core.Brief{Genre: "mystery", Premise: "A harbour town keeps a secret.", Style: "spare", Chapters: 2}
}

func testCast() []narrative.CharacterProfile {
	return []narrative.CharacterProfile{
		{ID: "mara", Name: "Mara", Role: "protagonist", Voice: "clipped"},
		{ID: "teodor_voss", Name: "Teodor Voss", Role: "antagonist", Voice: "florid"},
	}
}

func draftView(chapter int) core.View {
	return core.View{
		Snapshot: narrative.Snapshot{
			Chapter: chapter,
			Plan:    &narrative.ChapterPlan{ID: chapter, Title: "Arrival", Synopsis: "Mara returns.", Beats: []string{"arrival"}},
			Cast:    testCast(),
			Draft: &narrative.ChapterDraft{
				ChapterID: chapter,
				Segments:  []string{"Mara waited.", "\"Well,\" said Teodor.", "The tide came in."},
				Status:    narrative.StatusDrafted,
				Revision:  1,
			},
		},
		Brief: brief(),
	}
}

func TestPromptsParse(t *testing.T) {
	require.NoError(t, agent.NewPromptCache(promptFS).Preload("prompts/*.tmpl"))
	for _, role := range narrative.Roles {
		_, err := Prompts.Template("prompts/" + string(role) + ".tmpl")
		assert.NoError(t, err, role)
	}
}

func TestNewCrew(t *testing.T) {
	mock := agent.NewMockClient()
	agents := NewCrew(mock, WithTemperature(narrative.RoleWriter, 1.1), WithMaxTokens(900), WithLogger(quietLogger()))
	require.Len(t, agents, len(narrative.Roles))
	for i, a := range agents {
		assert.Equal(t, narrative.Roles[i], a.Role())
	}

	writer := agents[2].(*Writer)
	assert.InDelta(t, 1.1, writer.params.Temperature, 1e-9)
	assert.Equal(t, 900, writer.params.MaxTokens)
	assert.True(t, writer.params.JSON)
	critic := agents[3].(*Reviewer)
	assert.InDelta(t, DefaultTemperatures[narrative.RoleContinuityChecker], critic.params.Temperature, 1e-9)
	assert.True(t, critic.amends)
	assert.False(t, agents[4].(*Reviewer).amends)
}

func TestPlotArchitect(t *testing.T) {
	t.Run("outline with sequential ids", func(t *testing.T) {
		mock := agent.NewMockClient().OnText("plot_architect", outlineJSON)
		res, err := crewFor(t, mock)[narrative.RolePlotArchitect].Produce(context.Background(), core.View{Brief: brief()})
		require.NoError(t, err)
		require.NotNil(t, res.Outline)
		assert.Equal(t, "Tidewater", res.Outline.Title)
		require.Len(t, res.Outline.Chapters, 2)
		assert.Equal(t, 1, res.Outline.Chapters[0].ID)
		assert.Equal(t, 2, res.Outline.Chapters[1].ID)
		assert.Contains(t, mock.LastPrompt("plot_architect"), "exactly 2 chapters")
	})

	t.Run("brief title wins", func(t *testing.T) {
		mock := agent.NewMockClient().OnText("plot_architect", outlineJSON)
		b := brief()
		b.Title = "Salt"
		res, err := crewFor(t, mock)[narrative.RolePlotArchitect].Produce(context.Background(), core.View{Brief: b})
		require.NoError(t, err)
		assert.Equal(t, "Salt", res.Outline.Title)
	})

	t.Run("no chapters requested", func(t *testing.T) {
		mock := agent.NewMockClient()
		b := brief()
		b.Chapters = 0
		_, err := crewFor(t, mock)[narrative.RolePlotArchitect].Produce(context.Background(), core.View{Brief: b})
		require.ErrorIs(t, err, core.ErrIncoherentPlot)
		assert.Empty(t, mock.Calls(""))
	})

	t.Run("chapter without beats", func(t *testing.T) {
		mock := agent.NewMockClient().OnText("plot_architect",
			`{"title": "T", "chapters": [{"title": "A", "beats": ["x"]}, {"title": "B", "beats": ["  "]}]}`)
		_, err := crewFor(t, mock)[narrative.RolePlotArchitect].Produce(context.Background(), core.View{Brief: brief()})
		require.ErrorIs(t, err, core.ErrIncoherentPlot)
		assert.Equal(t, core.KindPermanent, core.Classify(err))
	})

	t.Run("prose instead of json", func(t *testing.T) {
		mock := agent.NewMockClient().OnText("plot_architect", "Here is a lovely outline for you.")
		_, err := crewFor(t, mock)[narrative.RolePlotArchitect].Produce(context.Background(), core.View{Brief: brief()})
		require.ErrorIs(t, err, core.ErrMalformedOutput)
		assert.Equal(t, core.KindTransient, core.Classify(err))
	})

	t.Run("backend failure keeps its kind", func(t *testing.T) {
		backend := &agent.GenerationError{Kind: agent.Transient, StatusCode: 429, Err: errors.New("slow down")}
		mock := agent.NewMockClient().On("plot_architect", agent.MockReply{Err: backend})
		_, err := crewFor(t, mock)[narrative.RolePlotArchitect].Produce(context.Background(), core.View{Brief: brief()})
		require.ErrorIs(t, err, backend)
		assert.Equal(t, core.KindTransient, core.Classify(err))
	})
}

func TestCharacterDesigner(t *testing.T) {
	t.Run("normalizes cast", func(t *testing.T) {
		mock := agent.NewMockClient().OnText("character_designer", castJSON)
		res, err := crewFor(t, mock)[narrative.RoleCharacterDesigner].Produce(context.Background(), core.View{Brief: brief()})
		require.NoError(t, err)
		require.Len(t, res.Cast, 2)

		assert.Equal(t, "mara", res.Cast[0].ID)
		assert.True(t, res.Cast[0].IsProtagonist())
		teodor := res.Cast[1]
		assert.Equal(t, "teodor_voss", teodor.ID)
		assert.Equal(t, []narrative.Relationship{{Kind: "rival of", Target: "mara"}}, teodor.Relationships)
	})

	t.Run("no protagonist", func(t *testing.T) {
		mock := agent.NewMockClient().OnText("character_designer",
			`{"characters": [{"id": "a", "name": "A", "role": "minor"}, {"id": "b", "name": "B", "role": "mentor"}]}`)
		_, err := crewFor(t, mock)[narrative.RoleCharacterDesigner].Produce(context.Background(), core.View{Brief: brief()})
		require.ErrorIs(t, err, core.ErrInsufficientCast)
	})

	t.Run("non-latin names", func(t *testing.T) {
		mock := agent.NewMockClient().OnText("character_designer", `{"characters": [
			{"name": "李明", "role": "protagonist", "relationships": [{"kind": "friend of", "target": "Мария"}]},
			{"name": "Мария", "role": "mentor"},
			{"name": "Zoë", "role": "antagonist", "relationships": [{"kind": "twin of", "target": "Zoé"}]},
			{"name": "Zoé", "role": "minor"},
			{"name": "???", "role": "minor"}
		]}`)
		res, err := crewFor(t, mock)[narrative.RoleCharacterDesigner].Produce(context.Background(), core.View{Brief: brief()})
		require.NoError(t, err)

		var ids []string
		for _, c := range res.Cast {
			ids = append(ids, c.ID)
		}
		assert.Equal(t, []string{"李明", "мария", "zoë", "zoé", "char_5"}, ids)
		assert.True(t, res.Cast[0].IsProtagonist())
		assert.Equal(t, []narrative.Relationship{{Kind: "friend of", Target: "мария"}}, res.Cast[0].Relationships)
		assert.Equal(t, []narrative.Relationship{{Kind: "twin of", Target: "zoé"}}, res.Cast[2].Relationships)
	})

	t.Run("colliding ids", func(t *testing.T) {
		mock := agent.NewMockClient().OnText("character_designer", `{"characters": [
			{"id": "ann", "name": "Ann", "role": "protagonist"},
			{"id": "ann", "name": "Ann", "role": "protagonist"},
			{"id": "ann", "name": "Ann Marsh", "role": "minor"}
		]}`)
		res, err := crewFor(t, mock)[narrative.RoleCharacterDesigner].Produce(context.Background(), core.View{Brief: brief()})
		require.NoError(t, err)
		require.Len(t, res.Cast, 2, "the repeated entry is kept once")
		assert.Equal(t, "ann", res.Cast[0].ID)
		assert.Equal(t, "char_3", res.Cast[1].ID)
		assert.Equal(t, "Ann Marsh", res.Cast[1].Name)
	})

	t.Run("feedback reaches the prompt", func(t *testing.T) {
		mock := agent.NewMockClient().OnText("character_designer", castJSON)
		view := core.View{
			Brief:    brief(),
			Feedback: []narrative.Annotation{{Description: "the cast needs a protagonist"}},
			Revision: 1,
		}
		_, err := crewFor(t, mock)[narrative.RoleCharacterDesigner].Produce(context.Background(), view)
		require.NoError(t, err)
		assert.Contains(t, mock.LastPrompt("character_designer"), "the cast needs a protagonist")
	})
}

func TestWriter(t *testing.T) {
	mock := agent.NewMockClient().OnText("writer", draftJSON)
	view := draftView(2)
	view.Draft = nil
	view.Prior = []narrative.ChapterDraft{{ChapterID: 1, Segments: []string{"Mara came home."}, Status: narrative.StatusAccepted}}
	view.Feedback = []narrative.Annotation{{Severity: narrative.SeverityBlocking, Description: "Mara cannot know about the ledger yet"}}
	view.Revision = 1

	res, err := crewFor(t, mock)[narrative.RoleWriter].Produce(context.Background(), view)
	require.NoError(t, err)
	assert.Len(t, res.Segments, 3)
	// "nobody" is not cast; Teodor is found by name.
	assert.Equal(t, []string{"mara", "teodor_voss"}, res.Characters)

	prompt := mock.LastPrompt("writer")
	assert.Contains(t, prompt, "Mara came home.")
	assert.Contains(t, prompt, "Mara cannot know about the ledger yet")
	assert.Contains(t, prompt, "- arrival")
}

func TestWriterRejectsEmptyDraft(t *testing.T) {
	mock := agent.NewMockClient().OnText("writer", `{"segments": ["", "  "]}`)
	view := draftView(1)
	view.Draft = nil
	_, err := crewFor(t, mock)[narrative.RoleWriter].Produce(context.Background(), view)
	require.ErrorIs(t, err, core.ErrMalformedOutput)
}

func TestExcerpts(t *testing.T) {
	long := strings.Repeat("word ", 2*excerptWords+10)
	prior := []narrative.ChapterDraft{
		{ChapterID: 1, Segments: []string{"one"}},
		{ChapterID: 2, Segments: []string{"two"}},
		{ChapterID: 3, Segments: []string{long}},
	}
	got := excerpts(prior)
	require.Len(t, got, contextChapters)
	assert.Equal(t, 2, got[0].ChapterID)
	assert.Equal(t, "two", got[0].Opening)
	assert.Empty(t, got[0].Ending)
	assert.Len(t, strings.Fields(got[1].Opening), excerptWords)
	assert.Len(t, strings.Fields(got[1].Ending), excerptWords)
}

func TestReviewer(t *testing.T) {
	reply := `{"findings": [
			{"severity": "blocking", "description": "Teodor was abroad in chapter 1"},
			{"severity": "minor", "description": "tide timing"},
			{"severity": "BLOCKING", "description": ""}
		],
		"proposals": [
			{"start": 1, "end": 2, "replacement": ["Teodor said nothing."], "confidence": 1.7},
			{"start": 2, "end": 9, "replacement": ["x"], "confidence": 0.9},
			{"start": 2, "end": 1, "replacement": ["x"], "confidence": 0.9}
		],
		"amendment": {"chapter_id": 3, "synopsis": "Teodor returns.", "beats": ["return"], "reason": "timeline"}}`

	tests := []struct {
		role          narrative.Role
		wantAmendment bool
	}{
		{narrative.RoleContinuityChecker, true},
		{narrative.RoleStyleReviewer, false},
		{narrative.RolePacingAdvisor, false},
		{narrative.RoleDialogueExpert, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			mock := agent.NewMockClient().OnText(string(tt.role), reply)
			view := draftView(2)
			view.Outline = &narrative.PlotOutline{Title: "Tidewater", Chapters: []narrative.ChapterPlan{*view.Plan}}

			res, err := crewFor(t, mock)[tt.role].Produce(context.Background(), view)
			require.NoError(t, err)

			require.Len(t, res.Annotations, 2)
			assert.Equal(t, narrative.SeverityBlocking, res.Annotations[0].Severity)
			assert.Equal(t, narrative.SeverityAdvisory, res.Annotations[1].Severity)
			assert.Equal(t, tt.role, res.Annotations[0].Source)
			assert.Equal(t, 1, res.Annotations[0].Revision)

			require.Len(t, res.Proposals, 1)
			assert.Equal(t, 1.0, res.Proposals[0].Confidence)
			assert.Equal(t, 2, res.Proposals[0].ChapterID)

			assert.Equal(t, tt.wantAmendment, res.Amendment != nil)
			assert.Contains(t, mock.LastPrompt(string(tt.role)), "[1] \"Well,\" said Teodor.")
		})
	}
}

func TestReviewerNeedsDraft(t *testing.T) {
	view := draftView(1)
	view.Draft = nil
	_, err := crewFor(t, agent.NewMockClient())[narrative.RoleStyleReviewer].Produce(context.Background(), view)
	require.ErrorIs(t, err, core.ErrMalformedOutput)
}

func TestQualityAnalyst(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		chapter     int
		annotations []narrative.Annotation
		want        core.Verdict
		wantTitle   string
		wantNotes   int
	}{
		{name: "passing score", reply: passingScores, chapter: 1, want: core.VerdictAccept},
		{name: "title on last chapter", reply: passingScores, chapter: 2, want: core.VerdictAccept, wantTitle: "The Harbour Ledger"},
		{
			name:      "low score",
			reply:     `{"scores": {"writing_craft": 4, "overall_impact": 6}, "weaknesses": ["flat ending"], "title": "Nope"}`,
			chapter:   2,
			want:      core.VerdictReject,
			wantNotes: 1,
		},
		{
			name:        "blocking annotation",
			reply:       passingScores,
			chapter:     1,
			annotations: []narrative.Annotation{{ID: "a1", Severity: narrative.SeverityBlocking, Description: "contradiction"}},
			want:        core.VerdictReject,
		},
		{name: "no scores", reply: `{}`, chapter: 1, want: core.VerdictReject, wantNotes: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := agent.NewMockClient().OnText("quality_analyst", tt.reply)
			view := draftView(tt.chapter)
			view.Annotations = tt.annotations

			res, err := crewFor(t, mock)[narrative.RoleQualityAnalyst].Produce(context.Background(), view)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Verdict)
			assert.Equal(t, tt.wantTitle, res.Title)
			require.Len(t, res.Annotations, tt.wantNotes)
			if tt.wantNotes > 0 {
				assert.True(t, res.Annotations[0].Blocking())
			}
			assert.Equal(t, tt.chapter == 2, strings.Contains(mock.LastPrompt("quality_analyst"), "suggest a title"))
		})
	}
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding prose", "Sure! {\"a\": {\"b\": 2}} Hope that helps.", `{"a": {"b": 2}}`},
		{"no object", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanJSON(tt.reply); got != tt.want {
				t.Errorf("cleanJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Mara":        "mara",
		"Teodor Voss": "teodor_voss",
		" Dr. K-9 ":   "dr_k_9",
		"teodor_voss": "teodor_voss",
		"!!!":         "",
		"李明":          "李明",
		"Мария":       "мария",
		"Zoë":         "zoë",
		"Zoé":         "zoé",
		"Ólafur":      "ólafur",
	}
	for in, want := range tests {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestCrewRunsBook drives a whole run through the orchestrator with a
// scripted backend.
func TestCrewRunsBook(t *testing.T) {
	mock := agent.NewMockClient().
		OnText("plot_architect", outlineJSON).
		OnText("character_designer", castJSON).
		OnText("writer", draftJSON).
		OnText("continuity_checker", cleanReview).
		OnText("style_reviewer", `{"findings": [{"severity": "advisory", "description": "tighten"}],
			"proposals": [{"start": 2, "end": 3, "replacement": ["The tide turned."], "confidence": 0.9}]}`).
		OnText("pacing_advisor", cleanReview).
		OnText("dialogue_expert", cleanReview).
		OnText("quality_analyst", passingScores)

	cfg := core.DefaultRunConfig(2)
	cfg.Brief = brief()
	cfg.CallTimeout = 5 * time.Second
	cfg.RetryBackoff = 0

	orch, err := core.New(NewCrew(mock, WithLogger(quietLogger())), cfg, core.WithLogger(quietLogger()))
	require.NoError(t, err)
	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Accepted())
	assert.Equal(t, "The Harbour Ledger", report.Title)
	records := report.Manuscript()
	require.Len(t, records, 2)
	assert.Contains(t, records[0].Text, "The tide turned.")
	assert.NotContains(t, records[0].Text, "The tide came in.")
	assert.Len(t, mock.Calls("writer"), 2)
	assert.Contains(t, mock.LastPrompt("writer"), "Chapter 1 opening")
}
