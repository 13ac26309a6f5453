package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dotcommander/bookwright/internal/narrative"
)

func TestReviewBarrierFailure(t *testing.T) {
	timeout := fmt.Errorf("reviewer: %w", ErrTimeout)
	refused := errors.New("refused")
	roles := []narrative.Role{
		narrative.RoleContinuityChecker,
		narrative.RoleStyleReviewer,
		narrative.RolePacingAdvisor,
	}

	tests := []struct {
		name string
		errs []error
		want error
	}{
		{"none", []error{nil, nil, nil}, nil},
		{"transient only", []error{nil, timeout, nil}, timeout},
		{"permanent beats earlier transient", []error{timeout, refused, nil}, refused},
		{"cancellation beats earlier permanent", []error{timeout, refused, context.Canceled}, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newReviewBarrier(roles)
			for i, err := range tt.errs {
				b.slots[i].err = err
			}
			assert.Equal(t, tt.want, b.failure())
		})
	}
}

func TestReviewBarrierRerunsOnlyFailedSlots(t *testing.T) {
	b := newReviewBarrier([]narrative.Role{narrative.RoleStyleReviewer, narrative.RoleDialogueExpert})
	var mu sync.Mutex
	calls := map[narrative.Role]int{}
	failDialogue := true
	call := func(_ context.Context, role narrative.Role) (Result, error) {
		mu.Lock()
		defer mu.Unlock()
		calls[role]++
		if role == narrative.RoleDialogueExpert && failDialogue {
			return Result{}, ErrTimeout
		}
		return Result{}, nil
	}

	b.run(context.Background(), call)
	assert.ErrorIs(t, b.failure(), ErrTimeout)
	failDialogue = false
	b.run(context.Background(), call)
	assert.NoError(t, b.failure())
	assert.Equal(t, 1, calls[narrative.RoleStyleReviewer])
	assert.Equal(t, 2, calls[narrative.RoleDialogueExpert])
}
