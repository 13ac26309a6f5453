// Package agent adapts text-generation backends to the uniform Generator
// contract used by the fiction crew.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string, params Params) (string, error)
}

// Params tunes one generation call.
type Params struct {
	System      string
	Temperature float64
	MaxTokens   int
	// JSON asks the backend for a single JSON object.
	JSON bool
	// Operation names the caller for logging, e.g. "writer".
	Operation string
}

// ErrorKind separates retryable from terminal backend failures.
type ErrorKind int

const (
	Transient ErrorKind = iota
	Permanent
)

func (k ErrorKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// GenerationError is returned by every Generator in this package.
type GenerationError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation failed (%s, status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation failed (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Transient reports whether a retry may succeed.
func (e *GenerationError) Transient() bool {
	return e.Kind == Transient
}

// ErrPromptTooLarge is returned before any request is made when a prompt
// exceeds the configured token budget.
var ErrPromptTooLarge = errors.New("prompt exceeds token budget")

func transient(err error) error {
	return &GenerationError{Kind: Transient, Err: err}
}

func permanent(err error) error {
	return &GenerationError{Kind: Permanent, Err: err}
}
