package fiction

import "github.com/dotcommander/bookwright/internal/narrative"

// Reply shapes the prompts ask for. They stay close to what a model
// produces; each agent converts them into narrative types.

type outlineReply struct {
	Title    string `json:"title"`
	Premise  string `json:"premise"`
	Chapters []struct {
		Title      string   `json:"title"`
		Synopsis   string   `json:"synopsis"`
		Beats      []string `json:"beats"`
		Characters []string `json:"characters"`
	} `json:"chapters"`
}

type castReply struct {
	Characters []struct {
		ID            string                   `json:"id"`
		Name          string                   `json:"name"`
		Role          string                   `json:"role"`
		Traits        []string                 `json:"traits"`
		Voice         string                   `json:"voice"`
		Relationships []narrative.Relationship `json:"relationships"`
	} `json:"characters"`
}

type draftReply struct {
	Segments   []string `json:"segments"`
	Characters []string `json:"characters"`
}

type finding struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type proposalReply struct {
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Replacement []string `json:"replacement"`
	Confidence  float64  `json:"confidence"`
}

type reviewReply struct {
	Findings  []finding            `json:"findings"`
	Proposals []proposalReply      `json:"proposals"`
	Amendment *narrative.Amendment `json:"amendment"`
}

type qualityReply struct {
	Scores     map[string]float64 `json:"scores"`
	Strengths  []string           `json:"strengths"`
	Weaknesses []string           `json:"weaknesses"`
	Title      string             `json:"title"`
}
