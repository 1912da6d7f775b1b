package engine

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is the capacity-1 barrier serializing every call that touches engine
// state. The underlying backends share internal buffers and session state
// across calls and are not proven safe for concurrent invocation, so at most
// one inference operation may be in flight at any instant.
//
// semaphore.Weighted queues waiters in FIFO order, which makes acquisition
// order the processing order. That fairness is a requirement here, not an
// accident of the primitive; gate_test.go asserts it.
type Gate struct {
	sem  *semaphore.Weighted
	held atomic.Int32
}

func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the gate is free or ctx is done. A nil error means
// the caller holds the gate and must Release on every exit path.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.held.Add(1)
	return nil
}

func (g *Gate) Release() {
	g.held.Add(-1)
	g.sem.Release(1)
}

// Held reports whether an operation currently holds the gate. Probe for
// health reporting and tests; never used for synchronization.
func (g *Gate) Held() bool {
	return g.held.Load() > 0
}
