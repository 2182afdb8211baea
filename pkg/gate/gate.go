// Package gate provides a one-shot synchronization primitive used to order
// handlers that have a causal dependency but no delivery-order guarantee.
// Exactly one producer resolves a gate; any number of consumers wait on it.
package gate

import (
	"context"
	"sync"
)

// Gate is a one-shot gate. The zero value is not usable; create gates with
// New or through a Table.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// New creates an unresolved gate.
func New() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Resolve opens the gate, releasing all current and future waiters.
// Calling Resolve more than once is a no-op.
func (g *Gate) Resolve() {
	g.once.Do(func() {
		close(g.ch)
	})
}

// Wait blocks until the gate is resolved or the context is cancelled.
// A gate whose producer never fires blocks until ctx ends; there is no
// implicit timeout.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed once the gate is resolved.
func (g *Gate) Done() <-chan struct{} {
	return g.ch
}

// Resolved reports whether the gate has been resolved.
func (g *Gate) Resolved() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Table lazily creates gates keyed by a comparable identity. The first
// reference to a key, whether from the producer or a consumer, creates the
// gate; subsequent references return the same gate for the lifetime of the
// table. Tables are process-scoped and never persisted.
type Table[K comparable] struct {
	mu    sync.Mutex
	gates map[K]*Gate
}

// NewTable creates an empty gate table.
func NewTable[K comparable]() *Table[K] {
	return &Table[K]{gates: make(map[K]*Gate)}
}

// Get returns the gate for key, creating it unresolved if it does not exist.
func (t *Table[K]) Get(key K) *Gate {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.gates[key]
	if !ok {
		g = New()
		t.gates[key] = g
	}

	return g
}

// Resolve resolves the gate for key, creating it first if needed so that
// waiters arriving later still observe it as resolved.
func (t *Table[K]) Resolve(key K) {
	t.Get(key).Resolve()
}

// Len returns the number of gates ever referenced. Used for telemetry.
func (t *Table[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.gates)
}
