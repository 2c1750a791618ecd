package shell

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Slots caps how many workspace commands run at once across all tasks
// served by one process. A nil *Slots imposes no limit.
type Slots struct {
	sem *semaphore.Weighted
}

// NewSlots allows at most limit concurrent commands; limit is clamped to 1.
func NewSlots(limit int) *Slots {
	return &Slots{sem: semaphore.NewWeighted(int64(max(limit, 1)))}
}

// Do runs fn while holding a slot. The returned error wraps ctx.Err() if
// the context ends before a slot frees up.
func (s *Slots) Do(ctx context.Context, fn func() error) error {
	if s == nil {
		return fn()
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("shell: wait for command slot: %w", err)
	}
	defer s.sem.Release(1)
	return fn()
}
