package core

import (
	"context"
	"sync"
)

// planGate invalidates in-flight rebalance plan builds when a newer
// valuation lands. Each generation is a channel closed on the next bump.
type planGate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newPlanGate() *planGate {
	return &planGate{ch: make(chan struct{})}
}

func (g *planGate) generation() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

func (g *planGate) bump() {
	g.mu.Lock()
	close(g.ch)
	g.ch = make(chan struct{})
	g.mu.Unlock()
}

// PlanContext derives a context that is cancelled when the vault applies a
// newer valuation, so a plan computed against the old values is abandoned
// instead of saved.
func (e *Engine) PlanContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	gen := e.planGate.generation()
	go func() {
		select {
		case <-gen:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
