package agent

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

// TokenCounter estimates prompt size. When no encoding can be loaded it
// falls back to four characters per token.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the encoding for model, or the cl100k base
// encoding for unknown models.
func NewTokenCounter(model string, logger *slog.Logger) *TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		logger.Warn("token encoding unavailable, estimating by length", "model", model, "error", err)
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the token count of text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(tc.enc.Encode(text, nil, nil))
}
