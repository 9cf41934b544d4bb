// Package lock provides the gate that keeps live rating updates and
// rebuilds from writing at the same time.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/jasselo/pkg/metrics"
)

// Release gives a hold back. Calling it more than once is a no-op.
type Release func(ctx context.Context) error

// Gate is a readers-writer gate. Live updates take shared holds, a rebuild
// takes the exclusive hold for its whole run.
type Gate interface {
	// AcquireShared admits one live update, or fails with ErrBusy while the
	// exclusive hold is taken or being taken.
	AcquireShared(ctx context.Context) (Release, error)
	// AcquireExclusive blocks new shared holds, then waits for the ones in
	// flight to finish. It fails with ErrBusy if another owner holds it.
	AcquireExclusive(ctx context.Context, owner string) (Release, error)
	// Exclusive reports whether the exclusive hold is taken.
	Exclusive(ctx context.Context) (bool, error)
}

// MemoryGate is a process-local Gate.
type MemoryGate struct {
	mu        sync.Mutex
	shared    int
	exclusive bool
	owner     string
	drained   chan struct{}
}

var _ Gate = (*MemoryGate)(nil)

// NewMemoryGate returns an open gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{}
}

// AcquireShared implements Gate.
func (g *MemoryGate) AcquireShared(context.Context) (Release, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.exclusive {
		metrics.RecordGateAcquire("shared", "busy")
		return nil, fmt.Errorf("%w: held by %s", ErrBusy, g.owner)
	}
	g.shared++
	metrics.RecordGateAcquire("shared", "ok")

	var once sync.Once
	return func(context.Context) error {
		once.Do(g.releaseShared)
		return nil
	}, nil
}

func (g *MemoryGate) releaseShared() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shared--
	if g.shared == 0 && g.drained != nil {
		close(g.drained)
		g.drained = nil
	}
}

// AcquireExclusive implements Gate.
func (g *MemoryGate) AcquireExclusive(ctx context.Context, owner string) (Release, error) {
	g.mu.Lock()
	if g.exclusive {
		holder := g.owner
		g.mu.Unlock()
		metrics.RecordGateAcquire("exclusive", "busy")
		return nil, fmt.Errorf("%w: held by %s", ErrBusy, holder)
	}
	g.exclusive = true
	g.owner = owner
	var wait chan struct{}
	if g.shared > 0 {
		g.drained = make(chan struct{})
		wait = g.drained
	}
	g.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			g.releaseExclusive()
			metrics.RecordGateAcquire("exclusive", "cancelled")
			return nil, ctx.Err()
		}
	}
	metrics.RecordGateAcquire("exclusive", "ok")

	var once sync.Once
	return func(context.Context) error {
		once.Do(g.releaseExclusive)
		return nil
	}, nil
}

func (g *MemoryGate) releaseExclusive() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exclusive = false
	g.owner = ""
	g.drained = nil
}

// Exclusive implements Gate.
func (g *MemoryGate) Exclusive(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exclusive, nil
}

// Shared returns the number of shared holds in flight.
func (g *MemoryGate) Shared() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shared
}
