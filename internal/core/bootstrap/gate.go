package bootstrap

import "sync/atomic"

// Gate opens once the segment is known to exist and stays open.
type Gate struct {
	ready atomic.Bool
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{}
}

// Open marks the segment ready. Safe to call more than once.
func (g *Gate) Open() {
	g.ready.Store(true)
}

// Ready reports whether Open has been called.
func (g *Gate) Ready() bool {
	return g.ready.Load()
}
