package types

import "fmt"

// CommSnapshot is an immutable snapshot of a communicator, published once
// by the (external, out-of-scope) communicator tracker and consumed
// read-only by the matching engine. Two snapshots are equal iff their
// context ids and group memberships are equal.
type CommSnapshot struct {
	ID ContextId

	IsInter bool

	// LocalGroup lists the world ranks of the local group, in
	// rank-in-comm order (index == local rank).
	LocalGroup []Rank

	// RemoteGroup is set only for inter-communicators.
	RemoteGroup []Rank

	// ReachableOnNode is the contiguous range of world ranks whose
	// owning process is hosted beneath this TBON node.
	// core.P2PMatch.CanOpBeProcessed tests a peer against it (grounded on
	// original_source I_P2PMatch.h::canOpBeProcessed); P2PMatch's
	// Send/Recv matching does not consult it.
	ReachableOnNode RankRange

	// Symbol is a short human-readable label ("C0", "W", ...) used by
	// diagnostics and dot output (commLabels in spec.md §4.9).
	Symbol string
}

// RankRange is an inclusive-exclusive [Low, High) range of world ranks.
type RankRange struct {
	Low, High Rank
}

func (r RankRange) Contains(rank Rank) bool {
	return rank >= r.Low && rank < r.High
}

// Equal implements the equality rule from spec.md §3: equal context ids
// and equal group membership.
func (c *CommSnapshot) Equal(other *CommSnapshot) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.ID != other.ID || c.IsInter != other.IsInter {
		return false
	}
	if !equalRanks(c.LocalGroup, other.LocalGroup) {
		return false
	}
	return equalRanks(c.RemoteGroup, other.RemoteGroup)
}

func equalRanks(a, b []Rank) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Members returns the local group, plus the remote group for an
// inter-communicator, i.e. every rank that must contribute a wave for a
// collective on this communicator to complete (spec.md §4.7).
func (c *CommSnapshot) Members() []Rank {
	if !c.IsInter {
		return c.LocalGroup
	}
	all := make([]Rank, 0, len(c.LocalGroup)+len(c.RemoteGroup))
	all = append(all, c.LocalGroup...)
	all = append(all, c.RemoteGroup...)
	return all
}

// Contains reports whether rank is a member of the local (or, for
// inter-comms, local+remote) group.
func (c *CommSnapshot) Contains(rank Rank) bool {
	for _, r := range c.Members() {
		if r == rank {
			return true
		}
	}
	return false
}

func (c *CommSnapshot) String() string {
	if c.Symbol != "" {
		return c.Symbol
	}
	return fmt.Sprintf("comm%d", uint64(c.ID))
}
