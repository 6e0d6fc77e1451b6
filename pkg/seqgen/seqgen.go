package seqgen

import (
	"sync/atomic"

	"replog/pkg/types"
)

// Generator hands out log sequences. Next is safe for concurrent use,
// but callers that must keep sequence order and append order in step
// hold their own lock around Next and the append.
type Generator struct {
	last atomic.Uint64
}

// New returns a generator whose first Next call yields first.
func New(first types.Sequence) *Generator {
	var g Generator
	g.last.Store(uint64(first) - 1)
	return &g
}

// Last returns the most recently assigned sequence (first-1 if none).
func (g *Generator) Last() types.Sequence {
	return types.Sequence(g.last.Load())
}

// Peek returns the sequence the next call to Next will yield.
func (g *Generator) Peek() types.Sequence {
	return types.Sequence(g.last.Load() + 1)
}

func (g *Generator) Next() types.Sequence {
	return types.Sequence(g.last.Add(1))
}
