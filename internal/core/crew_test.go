package core_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dotcommander/bookwright/internal/core"
	"github.com/dotcommander/bookwright/internal/narrative"
)

type produceFunc func(ctx context.Context, view core.View) (core.Result, error)

// crew is a scripted set of agents. Overrides replace the default
// behaviour per role; every call is recorded.
type crew struct {
	mu        sync.Mutex
	overrides map[narrative.Role]produceFunc
	calls     map[narrative.Role][]core.View
}

func newCrew() *crew {
	return &crew{
		overrides: make(map[narrative.Role]produceFunc),
		calls:     make(map[narrative.Role][]core.View),
	}
}

func (c *crew) on(role narrative.Role, fn produceFunc) *crew {
	c.overrides[role] = fn
	return c
}

func (c *crew) agents() []core.Agent {
	var out []core.Agent
	for _, role := range narrative.Roles {
		out = append(out, core.NewAgentFunc(role, func(ctx context.Context, view core.View) (core.Result, error) {
			c.mu.Lock()
			c.calls[role] = append(c.calls[role], view)
			fn, ok := c.overrides[role]
			c.mu.Unlock()
			if ok {
				return fn(ctx, view)
			}
			return defaultProduce(role, view)
		}))
	}
	return out
}

func (c *crew) callsFor(role narrative.Role, chapter int) []core.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.View
	for _, v := range c.calls[role] {
		if v.Chapter == chapter {
			out = append(out, v)
		}
	}
	return out
}

func (c *crew) count(role narrative.Role) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls[role])
}

func defaultProduce(role narrative.Role, view core.View) (core.Result, error) {
	switch role {
	case narrative.RolePlotArchitect:
		return core.Result{Outline: outlineFor(view.Brief.Chapters)}, nil
	case narrative.RoleCharacterDesigner:
		return core.Result{Cast: []narrative.CharacterProfile{
			{ID: "mara", Name: "Mara Vell", Role: "protagonist", Traits: []string{"stubborn"}, Voice: "clipped"},
			{ID: "teodor", Name: "Teodor Ash", Role: "antagonist", Traits: []string{"patient"}, Voice: "formal",
				Relationships: []narrative.Relationship{{Kind: "rival of", Target: "mara"}}},
		}}, nil
	case narrative.RoleWriter:
		return core.Result{
			Segments: []string{
				fmt.Sprintf("Chapter %d opens at revision %d.", view.Chapter, view.Revision),
				"Mara waited by the harbour.",
				"The tide came in.",
			},
			Characters: []string{"mara"},
		}, nil
	case narrative.RoleQualityAnalyst:
		return core.Result{Verdict: core.VerdictAccept, Title: "The Harbour Ledger"}, nil
	default:
		return core.Result{}, nil
	}
}

func outlineFor(n int) *narrative.PlotOutline {
	if n <= 0 {
		return nil
	}
	o := &narrative.PlotOutline{Title: "Tidewater", Premise: "A harbour town keeps a secret."}
	for i := 1; i <= n; i++ {
		o.Chapters = append(o.Chapters, narrative.ChapterPlan{
			ID:       i,
			Title:    fmt.Sprintf("Chapter %d", i),
			Synopsis: fmt.Sprintf("Events of chapter %d.", i),
			Beats:    []string{"arrival", "discovery"},
		})
	}
	return o
}

// plotArchitect mirrors the real agent's guard against empty plans.
func plotArchitect(_ context.Context, view core.View) (core.Result, error) {
	if view.Brief.Chapters <= 0 {
		return core.Result{}, fmt.Errorf("%w: %d chapters requested", core.ErrIncoherentPlot, view.Brief.Chapters)
	}
	return core.Result{Outline: outlineFor(view.Brief.Chapters)}, nil
}

func testConfig(chapters int) core.RunConfig {
	cfg := core.DefaultRunConfig(chapters)
	cfg.Brief = core.Brief{Genre: "mystery", Premise: "A harbour town keeps a secret.", Style: "spare", Chapters: chapters}
	cfg.CallTimeout = time.Second
	cfg.RetryBackoff = 0
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// transientErr is a generation failure that declares itself retryable.
type transientErr struct{ transient bool }

func (e transientErr) Error() string {
	return fmt.Sprintf("backend failure (transient=%v)", e.transient)
}

func (e transientErr) Transient() bool { return e.transient }
