package types

// ArcType is the wait-for-graph semantics a blocking op spans: AND means
// the op waits for every successor to complete, OR means it waits for
// any one. See spec.md §3/§4.9 and DESIGN.md (grounded on
// original_source BlockingOp.h::getWaitType/isMixedOp).
type ArcType int

const (
	ArcAND ArcType = iota
	ArcOR
)

// CompletionMode is the wait mode of a BCompletion: wait for all, wait
// for any, or wait for one specific request.
type CompletionMode int

const (
	WaitAll CompletionMode = iota
	WaitAny
	WaitOne
)

// BlockingOp is the tagged-variant sum type of spec.md §3. Exactly one
// concrete kind is populated; Kind selects which.
type BlockingOp struct {
	Issuer   Rank
	CallSite CallSite

	Kind BlockingKind

	Coll       *BColl
	P2P        *BP2P
	Completion *BCompletion
	Mixed      *BMixed
}

type BlockingKind int

const (
	KindBColl BlockingKind = iota
	KindBP2P
	KindBCompletion
	KindBMixed
)

// BColl is an AND-wait on all participant ranks of a collective.
type BColl struct {
	CollId     CollId
	Comm       ContextId
	Root       *Rank
	IsSendSide bool
	NumTasks   int

	// Satisfied tracks which ranks of the comm have already contributed
	// the wave this op is waiting on, so canComplete is O(1).
	Satisfied map[Rank]bool
}

func (b *BColl) CanComplete(members []Rank) bool {
	for _, r := range members {
		if !b.Satisfied[r] {
			return false
		}
	}
	return true
}

// BP2P is a single-edge wait on the rank that will match this op.
type BP2P struct {
	IsSend bool
	Peer   Rank // AnySource if this is a yet-unresolved wildcard receive
	Tag    int32
	Comm   ContextId

	Matched bool
}

func (b *BP2P) CanComplete() bool { return b.Matched }

// BCompletion is an AND (all), OR (any), or trivial (one) wait over a set
// of requests.
type BCompletion struct {
	Requests []RequestId
	Mode     CompletionMode

	// ProcNullCount is the number of requests in Requests that are
	// proc-null and therefore trivially satisfied.
	ProcNullCount int

	// Remaining is the set of request ids not yet completed.
	Remaining map[RequestId]bool
}

func NewBCompletion(requests []RequestId, mode CompletionMode, procNullCount int) *BCompletion {
	remaining := make(map[RequestId]bool, len(requests))
	for _, r := range requests {
		remaining[r] = true
	}
	return &BCompletion{Requests: requests, Mode: mode, ProcNullCount: procNullCount, Remaining: remaining}
}

// Complete marks one request of this wait as finished and reports
// whether the whole BCompletion can now resume, per spec.md §4.8's
// transition table.
func (b *BCompletion) Complete(req RequestId) (canComplete bool) {
	delete(b.Remaining, req)
	switch b.Mode {
	case WaitAll:
		return len(b.Remaining) == 0
	case WaitAny:
		return len(b.Remaining) < len(b.Requests)
	default: // WaitOne
		return true
	}
}

func (b *BCompletion) CanComplete() bool {
	switch b.Mode {
	case WaitAll:
		return len(b.Remaining) == 0
	case WaitAny:
		return len(b.Remaining) < len(b.Requests)
	default:
		return len(b.Remaining) < len(b.Requests)
	}
}

// BMixed arises when a wait-all includes wildcard receives: the primary
// wait is AND across ordinary requests, each wildcard-receive sub-node is
// an OR over its current candidate senders (spec.md §3/§8.4 "mixed op").
type BMixed struct {
	Primary  *BCompletion
	SubNodes []*MixedSubNode
}

// MixedSubNode is one OR sub-wait for a single wildcard receive inside a
// BMixed. Candidates lists the candidate senders of that wildcard
// receive as given when the sub-node was built; nothing in core updates
// it afterwards.
type MixedSubNode struct {
	Request    RequestId
	Candidates []Rank
	Matched    bool
}

func (b *BMixed) CanComplete() bool {
	if !b.Primary.CanComplete() {
		return false
	}
	for _, s := range b.SubNodes {
		if !s.Matched {
			return false
		}
	}
	return true
}
