package core

import (
	"cmp"
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/bookwright/internal/narrative"
)

// reviewSlot holds one reviewer's outcome for the current pass.
type reviewSlot struct {
	role   narrative.Role
	result Result
	err    error
	done   bool
}

// reviewBarrier runs the review stage for one chapter revision. Reviewers
// that succeeded keep their result across retries; only failed slots run
// again.
type reviewBarrier struct {
	slots []*reviewSlot
}

func newReviewBarrier(roles []narrative.Role) *reviewBarrier {
	b := &reviewBarrier{}
	for _, r := range roles {
		b.slots = append(b.slots, &reviewSlot{role: r})
	}
	return b
}

// run invokes every pending reviewer concurrently and waits for all of
// them. Each slot is written by exactly one goroutine.
func (b *reviewBarrier) run(ctx context.Context, call func(ctx context.Context, role narrative.Role) (Result, error)) {
	var g errgroup.Group
	for _, s := range b.slots {
		if s.done {
			continue
		}
		g.Go(func() error {
			s.result, s.err = call(ctx, s.role)
			s.done = s.err == nil
			return nil
		})
	}
	_ = g.Wait()
}

// failure returns the most severe error among slots: run-terminating
// errors (cancellation, invalid transitions) first, then permanent, then
// transient. Ties go to the earlier slot.
func (b *reviewBarrier) failure() error {
	var worst error
	rank := 0
	for _, s := range b.slots {
		if s.err == nil {
			continue
		}
		r := severity(s.err)
		if worst == nil || r > rank {
			worst, rank = s.err, r
		}
	}
	return worst
}

func severity(err error) int {
	switch {
	case IsFatal(err):
		return 3
	case !IsTransient(err):
		return 2
	default:
		return 1
	}
}

// results returns completed slots in precedence order.
func (b *reviewBarrier) results(cfg RunConfig) []*reviewSlot {
	out := make([]*reviewSlot, 0, len(b.slots))
	for _, s := range b.slots {
		if s.done {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b *reviewSlot) int {
		return cmp.Compare(cfg.rank(a.role), cfg.rank(b.role))
	})
	return out
}
