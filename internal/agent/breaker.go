package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the state of a Breaker.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures that
	// opens the breaker. Zero disables it.
	FailureThreshold int
	// OpenTimeout is how long calls are held back once the breaker opens.
	OpenTimeout time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second}
}

// Breaker wraps a Generator and stops hammering a failing backend. After
// FailureThreshold consecutive transient failures it opens: calls wait out
// OpenTimeout (or their context). Then a single trial call goes through
// half-open while the rest keep waiting. A successful trial closes the
// breaker, a failed one reopens it. Permanent failures never count,
// since they say nothing about backend health.
type Breaker struct {
	next   Generator
	config BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	expiry   time.Time
	trying   bool

	// changed is closed and replaced on every state change or trial
	// release, waking waiting callers.
	changed chan struct{}
}

func NewBreaker(next Generator, config BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		next:    next,
		config:  config,
		logger:  logger.With("component", "breaker"),
		changed: make(chan struct{}),
	}
}

func (b *Breaker) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	if b.config.FailureThreshold <= 0 {
		return b.next.Generate(ctx, prompt, params)
	}
	trial, err := b.beforeRequest(ctx)
	if err != nil {
		return "", err
	}

	text, err := b.next.Generate(ctx, prompt, params)
	var genErr *GenerationError
	switch {
	case err == nil:
		b.onSuccess()
	case errors.As(err, &genErr) && genErr.Transient():
		b.onFailure()
	case trial:
		// No verdict on backend health; the next caller gets the trial.
		b.releaseTrial()
	}
	return text, err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// beforeRequest holds the caller until the breaker is closed or the caller
// becomes the half-open trial call.
func (b *Breaker) beforeRequest(ctx context.Context) (trial bool, err error) {
	for {
		b.mu.Lock()
		if b.state == BreakerOpen && !time.Now().Before(b.expiry) {
			b.setState(BreakerHalfOpen)
		}
		switch {
		case b.state == BreakerClosed:
			b.mu.Unlock()
			return false, nil
		case b.state == BreakerHalfOpen && !b.trying:
			b.trying = true
			b.mu.Unlock()
			return true, nil
		}
		changed := b.changed
		var wait time.Duration
		if b.state == BreakerOpen {
			wait = time.Until(b.expiry)
		}
		b.mu.Unlock()

		if err := waitChange(ctx, changed, wait); err != nil {
			return false, err
		}
	}
}

// waitChange blocks until changed is closed, wait elapses (when positive)
// or ctx is done.
func waitChange(ctx context.Context, changed <-chan struct{}, wait time.Duration) error {
	var expired <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
	case <-expired:
	}
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.setState(BreakerClosed)
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.failures >= b.config.FailureThreshold) {
		b.expiry = time.Now().Add(b.config.OpenTimeout)
		b.failures = 0
		b.setState(BreakerOpen)
	}
}

func (b *Breaker) releaseTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trying = false
	b.notify()
}

func (b *Breaker) setState(state BreakerState) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.trying = false
	b.notify()
	b.logger.Warn("circuit breaker state change",
		"from", prev.String(),
		"to", state.String(),
		"open_timeout", b.config.OpenTimeout)
}

func (b *Breaker) notify() {
	close(b.changed)
	b.changed = make(chan struct{})
}
