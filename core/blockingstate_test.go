package core

import (
	"testing"

	"github.com/jabolina/must-go/diagnostic"
	"github.com/jabolina/must-go/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingShardListener struct {
	shards []types.WfgShard
}

func (r *recordingShardListener) OnWfgShard(shard types.WfgShard) {
	r.shards = append(r.shards, shard)
}

func newTestBlockingState() (*BlockingState, *ReorderingQueue, *P2PMatch, *CollMatch) {
	rq := newTestQueue()
	p2p := NewP2PMatch(NewResourceMirror(), diagnostic.NopSink{})
	coll := NewCollMatch(diagnostic.NopSink{})
	bs := NewBlockingState(rq, p2p, coll)
	p2p.RegisterListener(bs)
	coll.RegisterListener(bs)
	return bs, rq, p2p, coll
}

func TestBlockingState_P2PWaitResolvesAndResumesRank(t *testing.T) {
	defer goleak.VerifyNone(t)

	bs, rq, p2p, _ := newTestBlockingState()
	listener := &recordingShardListener{}
	bs.RegisterShardListener(listener)

	// Rank 1 posts a blocking recv from rank 0 that cannot complete yet.
	bs.Begin(1, &types.BlockingOp{
		Issuer: 1,
		Kind:   types.KindBP2P,
		P2P:    &types.BP2P{IsSend: false, Peer: 0, Tag: types.AnyTag, Comm: 1},
	})
	require.False(t, rq.IsOpen(1))
	_, active := bs.Active(1)
	require.True(t, active)

	// A matching send from rank 0 arrives and resolves it.
	p2p.Send(types.P2POp{Issuer: 0, IsSend: true, Peer: 1, Tag: 5, Comm: 1})

	_, active = bs.Active(1)
	require.False(t, active)
	require.True(t, rq.IsOpen(1))
	require.NotEmpty(t, listener.shards)
}

func TestBlockingState_CollWaitResolvesOnWaveCompletion(t *testing.T) {
	defer goleak.VerifyNone(t)

	bs, rq, _, coll := newTestBlockingState()

	bs.Begin(0, &types.BlockingOp{
		Issuer: 0,
		Kind:   types.KindBColl,
		Coll:   &types.BColl{CollId: types.Barrier, Comm: 1, NumTasks: 2, Satisfied: map[types.Rank]bool{}},
	})
	require.False(t, rq.IsOpen(0))

	coll.Issue(types.CollOp{Issuer: 0, CollId: types.Barrier, Comm: 1, WaveNumber: 0}, []types.Rank{0, 1})
	_, active := bs.Active(0)
	require.True(t, active, "wave not complete yet")

	coll.Issue(types.CollOp{Issuer: 1, CollId: types.Barrier, Comm: 1, WaveNumber: 0}, []types.Rank{0, 1})
	_, active = bs.Active(0)
	require.False(t, active)
	require.True(t, rq.IsOpen(0))
}

func TestBlockingState_CompleteRequestsWaitAll(t *testing.T) {
	defer goleak.VerifyNone(t)

	bs, rq, _, _ := newTestBlockingState()
	bs.Begin(2, &types.BlockingOp{
		Issuer:     2,
		Kind:       types.KindBCompletion,
		Completion: types.NewBCompletion([]types.RequestId{1, 2}, types.WaitAll, 0),
	})
	require.False(t, rq.IsOpen(2))

	bs.CompleteRequests(2, []types.RequestId{1})
	_, active := bs.Active(2)
	require.True(t, active)

	bs.CompleteRequests(2, []types.RequestId{2})
	_, active = bs.Active(2)
	require.False(t, active)
	require.True(t, rq.IsOpen(2))
}

func TestBlockingState_WildcardShardUsesCandidateSenders(t *testing.T) {
	defer goleak.VerifyNone(t)

	bs, _, p2p, _ := newTestBlockingState()
	p2p.Send(types.P2POp{Issuer: 4, IsSend: true, Peer: 9, Tag: 1, Comm: 1})

	bs.Begin(9, &types.BlockingOp{
		Issuer: 9,
		Kind:   types.KindBP2P,
		P2P:    &types.BP2P{IsSend: false, Peer: types.AnySource, Tag: 1, Comm: 1},
	})

	shards := bs.Shards()
	require.Len(t, shards, 1)
	require.Equal(t, types.NodeOR, shards[0].Nodes[0].Type)
	require.Len(t, shards[0].Nodes[0].OutEdges, 1)
	require.Equal(t, types.RootNodeID(4), shards[0].Nodes[0].OutEdges[0].Target)
}

func TestBlockingState_WildcardExplorerCommitsFirstViableCandidate(t *testing.T) {
	defer goleak.VerifyNone(t)

	bs, rq, p2p, _ := newTestBlockingState()
	p2p.Send(types.P2POp{Issuer: 2, IsSend: true, Peer: 9, Tag: 1, Comm: 1})
	p2p.Send(types.P2POp{Issuer: 3, IsSend: true, Peer: 9, Tag: 1, Comm: 1})

	// Two candidate senders force the ambiguous path into the explorer
	// rather than P2PMatch's own eager single-candidate match.
	require.Len(t, p2p.CandidateSenders(1, 9, 1), 2)

	p2p.Recv(types.P2POp{Issuer: 9, IsSend: false, Peer: types.AnySource, Tag: 1, Comm: 1})
	bs.Begin(9, &types.BlockingOp{
		Issuer: 9,
		Kind:   types.KindBP2P,
		P2P:    &types.BP2P{IsSend: false, Peer: types.AnySource, Tag: 1, Comm: 1},
	})

	// Neither candidate was itself blocked directly on rank 9, so the
	// explorer must accept its first candidate (rank 2, ascending order)
	// and resolve the receive rather than leaving it pending; rank 3's
	// send stays queued.
	_, active := bs.Active(9)
	require.False(t, active)
	require.True(t, rq.IsOpen(9))
	require.Equal(t, []types.Rank{3}, p2p.CandidateSenders(1, 9, 1))
}

func TestBlockingState_WildcardExplorerRollsBackDirectTwoRankCycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	bs, rq, p2p, _ := newTestBlockingState()
	p2p.Send(types.P2POp{Issuer: 2, IsSend: true, Peer: 9, Tag: 1, Comm: 1})
	p2p.Send(types.P2POp{Issuer: 3, IsSend: true, Peer: 9, Tag: 1, Comm: 1})

	// Rank 2 is itself blocked waiting on a recv from rank 9: forcing the
	// wildcard match against rank 2 would only trade one cycle for
	// another, so the explorer must undo it and try rank 3 instead.
	bs.Begin(2, &types.BlockingOp{
		Issuer: 2,
		Kind:   types.KindBP2P,
		P2P:    &types.BP2P{IsSend: false, Peer: 9, Tag: types.AnyTag, Comm: 1},
	})

	p2p.Recv(types.P2POp{Issuer: 9, IsSend: false, Peer: types.AnySource, Tag: 1, Comm: 1})
	bs.Begin(9, &types.BlockingOp{
		Issuer: 9,
		Kind:   types.KindBP2P,
		P2P:    &types.BP2P{IsSend: false, Peer: types.AnySource, Tag: 1, Comm: 1},
	})

	_, active := bs.Active(9)
	require.False(t, active, "rank 9 must resolve against rank 3 after rank 2's forced match is rolled back")
	require.True(t, rq.IsOpen(9))

	// Rank 2's own recv from rank 9 was restored by the rollback and is
	// still outstanding; rank 2's send to rank 9 was requeued too.
	_, active = bs.Active(2)
	require.True(t, active)
	require.False(t, rq.IsOpen(2))
	require.Len(t, p2p.CandidateSenders(1, 9, types.AnyTag), 1)
}

func TestBlockingState_CheckpointRollback(t *testing.T) {
	defer goleak.VerifyNone(t)

	bs, rq, _, _ := newTestBlockingState()
	bs.Begin(1, &types.BlockingOp{
		Issuer: 1,
		Kind:   types.KindBP2P,
		P2P:    &types.BP2P{IsSend: false, Peer: 0, Tag: types.AnyTag, Comm: 1},
	})
	bs.Checkpoint()

	bs.CompleteRequests(1, nil) // no-op for a BP2P wait, exercises the guard path
	require.NoError(t, bs.Rollback())

	_, active := bs.Active(1)
	require.True(t, active)
	require.False(t, rq.IsOpen(1))
}
