package agent

import (
	"context"
	"errors"
	"log/slog"
)

// Fallback asks each generator in turn until one answers. The error of
// the last generator tried is returned, so its kind decides whether the
// caller retries.
type Fallback struct {
	gens   []Generator
	logger *slog.Logger
}

func NewFallback(logger *slog.Logger, gens ...Generator) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{gens: gens, logger: logger.With("component", "fallback")}
}

func (f *Fallback) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	if len(f.gens) == 0 {
		return "", permanent(errors.New("no generators configured"))
	}
	var err error
	for i, g := range f.gens {
		var text string
		text, err = g.Generate(ctx, prompt, params)
		if err == nil {
			if i > 0 {
				f.logger.Info("served by fallback generator", "operation", params.Operation, "index", i)
			}
			return text, nil
		}
		// Cancellation and an oversized prompt fail the same way everywhere.
		if ctx.Err() != nil || errors.Is(err, ErrPromptTooLarge) {
			return "", err
		}
		if i < len(f.gens)-1 {
			f.logger.Warn("generator failed, trying next",
				"operation", params.Operation,
				"index", i,
				"error", err)
		}
	}
	return "", err
}
