package pipeline

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate is the process-wide admission control for pipeline executions: a
// counting gate with a fixed maximum and no priority ordering. Acquire
// suspends until a slot frees up or the context ends.
type Gate struct {
	sem *semaphore.Weighted
	max int
}

func NewGate(maxConcurrency int) *Gate {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Gate{
		sem: semaphore.NewWeighted(int64(maxConcurrency)),
		max: maxConcurrency,
	}
}

func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *Gate) Release() {
	g.sem.Release(1)
}

func (g *Gate) Max() int {
	return g.max
}
