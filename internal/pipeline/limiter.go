package pipeline

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of simultaneously in-flight item pipelines.
// It is a thin wrapper over a weighted semaphore so callers block (with
// context cancellation) rather than spin when the pipeline is saturated.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter creates a limiter admitting at most max concurrent holders.
func NewLimiter(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(max))}
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release returns a slot.
func (l *Limiter) Release() {
	l.sem.Release(1)
}
