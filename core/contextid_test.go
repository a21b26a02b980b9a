package core

import (
	"testing"

	"github.com/jabolina/must-go/types"
	"github.com/stretchr/testify/require"
)

func TestContextIDGenerator_DerivesDistinctChildren(t *testing.T) {
	g := NewContextIDGenerator(4)

	first := g.Derive(0)
	second := g.Derive(0)
	require.NotEqual(t, first, second)

	// A different parent's child ids must not collide with world's.
	childOfFirst := g.Derive(first)
	require.NotEqual(t, first, childOfFirst)
	require.NotEqual(t, second, childOfFirst)
}

func TestInterCommBcastRoot_FixedNonZeroForTwoRanks(t *testing.T) {
	require.Equal(t, types.Rank(1), InterCommBcastRoot(2))
}

func TestInterCommBcastRoot_TrivialGroupUsesRankZero(t *testing.T) {
	require.Equal(t, types.Rank(0), InterCommBcastRoot(1))
	require.Equal(t, types.Rank(0), InterCommBcastRoot(0))
}
