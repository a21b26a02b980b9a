package core

import (
	"sync"

	"github.com/jabolina/must-go/types"
)

// WfgShardListener receives a rank's updated wait-for-graph contribution
// whenever its blocking state changes, for the up-tree aggregation step
// that eventually reaches C9 at the root (spec.md §4.8: "On every local
// state change, C8 emits an updated WfgShard").
type WfgShardListener interface {
	OnWfgShard(shard types.WfgShard)
}

// BlockingState implements C8: at most one active BlockingOp per rank,
// driven by match/completion notifications from C6/C7 and by explicit
// completion/cancel calls, grounded on
// original_source/.../BlockingState/BlockingOp.h
// (isMixedOp/getWaitType/canComplete/offerMatchedSend/Receive/Collective).
type BlockingState struct {
	mutex sync.Mutex

	active map[types.Rank]*types.BlockingOp

	rq   *ReorderingQueue
	p2p  *P2PMatch
	coll *CollMatch

	shardListeners []WfgShardListener

	checkpoint map[types.Rank]*types.BlockingOp
}

func NewBlockingState(rq *ReorderingQueue, p2p *P2PMatch, coll *CollMatch) *BlockingState {
	return &BlockingState{
		active: make(map[types.Rank]*types.BlockingOp),
		rq:     rq,
		p2p:    p2p,
		coll:   coll,
	}
}

func (b *BlockingState) RegisterShardListener(l WfgShardListener) {
	b.shardListeners = append(b.shardListeners, l)
}

// Begin installs op as rank's active blocking operation, closes rank's
// reordering queue (spec.md §4.8's block_rank side effect) and emits the
// resulting WfgShard. A freshly begun wildcard receive with more than one
// candidate sender is handed to the backtracking explorer first (spec.md
// §4.6(b)), since C6 deliberately left that choice open rather than
// picking one deterministically (see P2PMatch.tryMatchRecv).
func (b *BlockingState) Begin(rank types.Rank, op *types.BlockingOp) {
	b.mutex.Lock()
	b.active[rank] = op
	b.mutex.Unlock()

	b.rq.BlockRank(rank)

	if op.Kind == types.KindBP2P && !op.P2P.IsSend && op.P2P.Peer == types.AnySource {
		b.exploreWildcard(rank, op)
	}

	b.emitShard(rank)
}

// exploreWildcard implements C8's wildcard backtracking explorer: for
// each candidate sender, in ascending rank order, it checkpoints the
// C5/C7/C8 group (C6's own tentative match is undone with the narrower
// UndoForcedMatch instead of a whole-state P2PMatch rollback, since
// ForceMatchWildcard's effect is exactly known and invertible), forces
// the match, and accepts it unless doing so leaves the chosen sender
// itself blocked waiting directly on rank -- a direct two-rank cycle the
// match didn't actually resolve. If every candidate fails this check the
// receive is left unmatched, rolled back to its pre-explorer state, for
// C9 to report as a genuine wait (spec.md §4.6(b), grounded on
// original_source Utility/MatchExplorer.h).
func (b *BlockingState) exploreWildcard(rank types.Rank, op *types.BlockingOp) {
	candidates := b.p2p.CandidateSenders(op.P2P.Comm, rank, op.P2P.Tag)
	if len(candidates) < 2 {
		return
	}

	for _, sender := range candidates {
		b.rq.Checkpoint()
		b.coll.Checkpoint()
		b.Checkpoint()

		send, recv, ok := b.p2p.ForceMatchWildcard(op.P2P.Comm, rank, op.P2P.Tag, sender)
		if !ok {
			continue
		}
		b.OnP2PMatch(&send, &recv)

		if !b.stillBlockedOn(sender, rank) {
			return
		}

		b.p2p.UndoForcedMatch(send, recv)
		_ = b.rq.Rollback()
		_ = b.coll.Rollback()
		_ = b.Rollback()
	}
}

// stillBlockedOn reports whether sender's active blocking op still waits
// directly on receiver (or on any wildcard source, which could include
// receiver) -- the signal that forcing this particular match didn't free
// either rank, a direct two-rank cycle rather than real progress.
func (b *BlockingState) stillBlockedOn(sender, receiver types.Rank) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	op, ok := b.active[sender]
	if !ok || op.Kind != types.KindBP2P {
		return false
	}
	return op.P2P.Peer == receiver || op.P2P.Peer == types.AnySource
}

// Active reports rank's current blocking op, if any.
func (b *BlockingState) Active(rank types.Rank) (*types.BlockingOp, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	op, ok := b.active[rank]
	return op, ok
}

// IsMixedOp reports whether rank's active op is a BMixed (spec.md §4.8);
// a plain BCompletion reports false whatever requests it holds.
func (b *BlockingState) IsMixedOp(rank types.Rank) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	op, ok := b.active[rank]
	return ok && op.Kind == types.KindBMixed
}

// OnP2PMatch implements P2PMatchListener: resolves a BP2P wait on either
// side of a freshly matched send/recv pair.
func (b *BlockingState) OnP2PMatch(send, recv *types.P2POp) {
	b.resolveSide(send.Issuer, send)
	b.resolveSide(recv.Issuer, recv)
}

func (b *BlockingState) resolveSide(rank types.Rank, op *types.P2POp) {
	b.mutex.Lock()
	active, ok := b.active[rank]
	if !ok {
		b.mutex.Unlock()
		return
	}

	resume := false
	switch active.Kind {
	case types.KindBP2P:
		if active.P2P.IsSend == op.IsSend && active.P2P.Comm == op.Comm {
			active.P2P.Matched = true
			delete(b.active, rank)
			resume = true
		}
	case types.KindBMixed:
		for _, sub := range active.Mixed.SubNodes {
			if op.HasRequest && sub.Request == op.RequestID {
				sub.Matched = true
			}
		}
		if active.Mixed.CanComplete() {
			delete(b.active, rank)
			resume = true
		}
	}
	b.mutex.Unlock()

	b.emitShard(rank)
	if resume {
		b.rq.ResumeRank(rank)
	}
}

// OnCollMatch implements CollMatchListener: resolves every participant's
// BColl wait for a completed wave.
func (b *BlockingState) OnCollMatch(comm types.ContextId, wave uint32, ops []types.CollOp) {
	for _, op := range ops {
		b.resolveColl(op.Issuer, comm, wave)
	}
}

func (b *BlockingState) resolveColl(rank types.Rank, comm types.ContextId, wave uint32) {
	b.mutex.Lock()
	active, ok := b.active[rank]
	resume := false
	if ok && active.Kind == types.KindBColl && active.Coll.Comm == comm {
		delete(b.active, rank)
		resume = true
	}
	b.mutex.Unlock()

	if resume {
		b.emitShard(rank)
		b.rq.ResumeRank(rank)
	}
}

// CompleteRequests applies a request-completion event to rank's active
// BCompletion/BMixed wait, implementing spec.md §4.8's transition row:
// "if mode=all ∧ R\\r=∅ or mode=any ∧ r≠∅ → None + resume".
func (b *BlockingState) CompleteRequests(rank types.Rank, completed []types.RequestId) {
	b.mutex.Lock()
	active, ok := b.active[rank]
	if !ok {
		b.mutex.Unlock()
		return
	}

	var bc *types.BCompletion
	switch active.Kind {
	case types.KindBCompletion:
		bc = active.Completion
	case types.KindBMixed:
		bc = active.Mixed.Primary
	}

	resume := false
	if bc != nil {
		for _, req := range completed {
			bc.Complete(req)
		}
		switch active.Kind {
		case types.KindBCompletion:
			resume = bc.CanComplete()
		case types.KindBMixed:
			resume = active.Mixed.CanComplete()
		}
	}

	if resume {
		delete(b.active, rank)
	}
	b.mutex.Unlock()

	b.emitShard(rank)
	if resume {
		b.rq.ResumeRank(rank)
	}
}

// Cancel removes req from rank's active completion wait, per spec.md
// §4.8's cancel row; it may transition the op to None and resume rank.
func (b *BlockingState) Cancel(rank types.Rank, req types.RequestId) {
	b.mutex.Lock()
	active, ok := b.active[rank]
	if !ok {
		b.mutex.Unlock()
		return
	}

	var bc *types.BCompletion
	switch active.Kind {
	case types.KindBCompletion:
		bc = active.Completion
	case types.KindBMixed:
		bc = active.Mixed.Primary
	}

	resume := false
	if bc != nil {
		delete(bc.Remaining, req)
		switch active.Kind {
		case types.KindBCompletion:
			resume = bc.CanComplete()
		case types.KindBMixed:
			resume = active.Mixed.CanComplete()
		}
	}
	if resume {
		delete(b.active, rank)
	}
	b.mutex.Unlock()

	b.emitShard(rank)
	if resume {
		b.rq.ResumeRank(rank)
	}
}

// emitShard builds rank's current WfgShard and publishes it to every
// registered listener; called after every local state transition.
func (b *BlockingState) emitShard(rank types.Rank) {
	b.mutex.Lock()
	shard := b.buildShardLocked(rank)
	b.mutex.Unlock()

	for _, l := range b.shardListeners {
		l.OnWfgShard(shard)
	}
}

func (b *BlockingState) buildShardLocked(rank types.Rank) types.WfgShard {
	active, ok := b.active[rank]
	if !ok {
		return types.WfgShard{Rank: rank}
	}

	switch active.Kind {
	case types.KindBP2P:
		node := types.WfgNode{ID: types.RootNodeID(rank), Type: types.NodeAND}
		if active.P2P.Peer != types.AnySource {
			node.OutEdges = []types.WfgEdge{{Target: types.RootNodeID(active.P2P.Peer), Label: "p2p"}}
		} else {
			node.Type = types.NodeOR
			for _, sender := range b.p2p.CandidateSenders(active.P2P.Comm, rank, active.P2P.Tag) {
				node.OutEdges = append(node.OutEdges, types.WfgEdge{Target: types.RootNodeID(sender), Label: "wildcard-recv"})
			}
		}
		return types.WfgShard{Rank: rank, Nodes: []types.WfgNode{node}}

	case types.KindBColl:
		node := types.WfgNode{ID: types.RootNodeID(rank), Type: types.NodeAND}
		missing := b.coll.MissingMembers(active.Coll.Comm, b.coll.NextWave(active.Coll.Comm, rank)-1, collMembersOf(active.Coll))
		for _, m := range missing {
			if m == rank {
				continue
			}
			node.OutEdges = append(node.OutEdges, types.WfgEdge{Target: types.RootNodeID(m), Label: "collective"})
		}
		return types.WfgShard{Rank: rank, Nodes: []types.WfgNode{node}}

	case types.KindBCompletion:
		node := types.WfgNode{ID: types.RootNodeID(rank), Type: types.NodeAND}
		if active.Completion.Mode == types.WaitAny {
			node.Type = types.NodeOR
		}
		return types.WfgShard{Rank: rank, Nodes: []types.WfgNode{node}}

	case types.KindBMixed:
		nodes := make([]types.WfgNode, 0, 1+len(active.Mixed.SubNodes))
		root := types.WfgNode{ID: types.RootNodeID(rank), Type: types.NodeAND}
		for i, sub := range active.Mixed.SubNodes {
			root.OutEdges = append(root.OutEdges, types.WfgEdge{Target: types.SubNodeID(rank, i), Label: "wildcard-recv-subnode"})
			subNode := types.WfgNode{ID: types.SubNodeID(rank, i), Type: types.NodeOR}
			if !sub.Matched {
				for _, c := range sub.Candidates {
					subNode.OutEdges = append(subNode.OutEdges, types.WfgEdge{Target: types.RootNodeID(c), Label: "wildcard-candidate"})
				}
			}
			nodes = append(nodes, subNode)
		}
		nodes = append([]types.WfgNode{root}, nodes...)
		return types.WfgShard{Rank: rank, Nodes: nodes}
	}
	return types.WfgShard{Rank: rank}
}

// Shards returns the current WfgShard for every rank with an active
// blocking op, used by the snapshot controller to answer a
// CONSISTENT-SNAPSHOT ack with this node's present contribution.
func (b *BlockingState) Shards() []types.WfgShard {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	shards := make([]types.WfgShard, 0, len(b.active))
	for rank := range b.active {
		shards = append(shards, b.buildShardLocked(rank))
	}
	return shards
}

func collMembersOf(b *types.BColl) []types.Rank {
	members := make([]types.Rank, 0, len(b.Satisfied)+b.NumTasks)
	for r := range b.Satisfied {
		members = append(members, r)
	}
	return members
}

// Checkpoint / Rollback implement the BlockingState quarter of the
// checkpoint group (spec.md §9).
func (b *BlockingState) Checkpoint() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.checkpoint = make(map[types.Rank]*types.BlockingOp, len(b.active))
	for r, op := range b.active {
		c := *op
		b.checkpoint[r] = &c
	}
}

func (b *BlockingState) Rollback() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.checkpoint == nil {
		return ErrSchedulingInvariantViolation
	}
	b.active = make(map[types.Rank]*types.BlockingOp, len(b.checkpoint))
	for r, op := range b.checkpoint {
		c := *op
		b.active[r] = &c
	}
	return nil
}
