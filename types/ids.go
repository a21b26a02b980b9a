package types

import "fmt"

// Rank identifies an application process inside the world communicator.
// All matching is expressed in terms of world ranks; handle-local ranks
// are translated through the resource-info mirror (see core.ResourceMirror).
type Rank int32

// AnySource is the wildcard peer used by a receive that does not require
// a specific source rank.
const AnySource Rank = -1

// AnyTag is the wildcard tag used by a receive that matches any tag.
const AnyTag int32 = -1

// ProcNull marks an operation whose peer is the null process; it is
// always immediately satisfied and never produces a wait-for edge.
const ProcNull Rank = -2

// ContextId identifies a communicator. It is derived locally, without
// inter-process coordination, from a monotonically advancing per-parent
// seed multiplied by a branching factor (types.BaseConfiguration.ContextIDMultiplier).
//
// This can overflow after intense communicator creation; the original
// MUST source acknowledges this without fixing it, and this port
// preserves that behavior (see DESIGN.md, Open Question 1).
type ContextId uint64

// RequestId names a non-blocking request (isend/irecv/persistent) local
// to the issuing rank.
type RequestId uint64

// UID is a protocol-wide unique identifier assigned to a P2P or
// collective operation when it is enqueued, used to correlate request
// and response records across the TBON.
type UID string

// CallSite is the (pid, lid) pair identifying where an application
// issued an operation: ParallelId names the calling context
// (rank/thread), LocationId names the call site within that context.
type CallSite struct {
	ParallelId ParallelId
	LocationId LocationId
}

func (c CallSite) String() string {
	return fmt.Sprintf("%s@%s", c.ParallelId, c.LocationId)
}

// ParallelId identifies the calling rank (and, for threaded wrappers,
// the thread within that rank).
type ParallelId struct {
	Rank     Rank
	ThreadID uint32
}

func (p ParallelId) String() string {
	if p.ThreadID == 0 {
		return fmt.Sprintf("rank%d", p.Rank)
	}
	return fmt.Sprintf("rank%d.t%d", p.Rank, p.ThreadID)
}

// LocationId is an opaque call-path identifier resolved by the
// (out-of-scope) stack/callpath resolution collaborator.
type LocationId uint64

func (l LocationId) String() string {
	return fmt.Sprintf("loc%d", uint64(l))
}
