package main

import (
	"encoding/json"
	"fmt"

	"github.com/dotcommander/bookwright/internal/agent"
)

// dryRun scripts a generator that produces a small but valid book of n
// chapters, for exercising a configuration without an API key.
func dryRun(n int) *agent.MockClient {
	type chapter struct {
		Title      string   `json:"title"`
		Synopsis   string   `json:"synopsis"`
		Beats      []string `json:"beats"`
		Characters []string `json:"characters"`
	}
	outline := struct {
		Title    string    `json:"title"`
		Chapters []chapter `json:"chapters"`
	}{Title: "Dry Run"}
	for i := 1; i <= n; i++ {
		outline.Chapters = append(outline.Chapters, chapter{
			Title:      fmt.Sprintf("Part %d", i),
			Synopsis:   fmt.Sprintf("The keeper's watch, night %d.", i),
			Beats:      []string{"the lamp is lit", "a ship is sighted"},
			Characters: []string{"keeper"},
		})
	}
	plot, _ := json.Marshal(outline)

	return agent.NewMockClient().
		OnText("plot_architect", string(plot)).
		OnText("character_designer", `{"characters": [
			{"id": "keeper", "name": "The Keeper", "role": "protagonist", "traits": ["patient"], "voice": "quiet"},
			{"id": "pilot", "name": "The Pilot", "role": "supporting", "traits": ["bold"], "voice": "loud",
			 "relationships": [{"kind": "friend of", "target": "keeper"}]}
		]}`).
		OnText("writer", `{"segments": ["The Keeper lit the lamp.", "Far out, a ship turned toward the light."], "characters": ["keeper"]}`).
		OnText("continuity_checker", `{"findings": []}`).
		OnText("style_reviewer", `{"findings": [{"severity": "ADVISORY", "description": "vary sentence openings"}]}`).
		OnText("pacing_advisor", `{"findings": []}`).
		OnText("dialogue_expert", `{"findings": []}`).
		OnText("quality_analyst", `{"scores": {"plot_and_structure": 7, "writing_craft": 8}, "title": "The Lamp at Night"}`)
}
