package core

import "github.com/jabolina/must-go/types"

// ContextIDGenerator produces new communicator context ids without
// inter-process coordination, mirroring the original MUST source's local
// derivation: each parent context id advances a monotonic local seed
// multiplied by a branching factor (spec.md §6 contextid_multiplier).
//
// This intentionally does not guard against uint64 overflow after
// intense communicator creation -- the original source acknowledges the
// same defect without fixing it (spec.md §9, Open Question 1).
type ContextIDGenerator struct {
	multiplier uint64
	nextSeed   map[types.ContextId]uint64
}

func NewContextIDGenerator(multiplier uint32) *ContextIDGenerator {
	return &ContextIDGenerator{
		multiplier: uint64(multiplier),
		nextSeed:   make(map[types.ContextId]uint64),
	}
}

// Derive returns the next child context id under parent. World's
// context id is reserved as 0 with no parent.
func (g *ContextIDGenerator) Derive(parent types.ContextId) types.ContextId {
	seed := g.nextSeed[parent]
	g.nextSeed[parent] = seed + 1
	return types.ContextId(uint64(parent)*g.multiplier + seed + 1)
}

// InterCommBcastRoot picks the bcast root used internally to exchange an
// intercomm's remote-group size during MPI_Intercomm_create. For a
// 2-rank peer group the original source fixes a non-zero rank rather
// than rank 0; a comment in that source flags this as possibly wrong for
// 2-rank peer groups. This port preserves the same choice (spec.md §9,
// Open Question 2).
func InterCommBcastRoot(peerGroupSize int) types.Rank {
	if peerGroupSize <= 1 {
		return 0
	}
	return types.Rank(1 % peerGroupSize)
}
