package mustgo

import (
	"testing"

	"github.com/jabolina/must-go/core"
	"github.com/jabolina/must-go/definition"
	"github.com/jabolina/must-go/diagnostic"
	"github.com/jabolina/must-go/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func rootClusterConfig() *types.ClusterConfiguration {
	return &types.ClusterConfiguration{
		WorldSize:  2,
		LocalRanks: []types.Rank{0, 1},
		IsRoot:     true,
	}
}

func TestNewNode_WiresComponentsAndRunsShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := definition.NewDefaultLogger("node-test")
	cfg := types.DefaultConfiguration("root", log)
	trans, _ := core.NewInProcFabric("root", nil)

	n, err := NewNode(cfg, rootClusterConfig(), trans, "", nil)
	require.NoError(t, err)
	require.NotNil(t, n.Wfg, "the root must assemble a wait-for-graph")
	require.NotNil(t, n.Sink, "a nil sink must fall back to diagnostic.NopSink")

	n.Run()
	require.NoError(t, n.Shutdown())
}

func TestNewNode_NonRootHasNoWfg(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := definition.NewDefaultLogger("node-test")
	cfg := types.DefaultConfiguration("leaf", log)
	cluster := &types.ClusterConfiguration{
		WorldSize:  2,
		LocalRanks: []types.Rank{0},
		IsRoot:     false,
		Parent:     "root",
	}
	trans, _ := core.NewInProcFabric("leaf", nil)

	n, err := NewNode(cfg, cluster, trans, "", nil)
	require.NoError(t, err)
	require.Nil(t, n.Wfg)
	require.Nil(t, n.DeclareDeadlock(), "non-root nodes never declare a deadlock")

	n.Run()
	require.NoError(t, n.Shutdown())
}

func TestNode_DeclareDeadlock_EmptyGraphReturnsNil(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := definition.NewDefaultLogger("node-test")
	cfg := types.DefaultConfiguration("root", log)
	trans, _ := core.NewInProcFabric("root", nil)

	n, err := NewNode(cfg, rootClusterConfig(), trans, "", nil)
	require.NoError(t, err)
	require.Nil(t, n.DeclareDeadlock())

	n.Run()
	require.NoError(t, n.Shutdown())
}

func TestNode_DeclareDeadlock_MutualWaitIsReportedAndEmitsDiagnostic(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := definition.NewDefaultLogger("node-test")
	cfg := types.DefaultConfiguration("root", log)
	trans, _ := core.NewInProcFabric("root", nil)
	sink := diagnostic.NewCollectingSink()

	n, err := NewNode(cfg, rootClusterConfig(), trans, "", sink)
	require.NoError(t, err)

	n.Wfg.Ingest(types.WfgShard{Rank: 0, Nodes: []types.WfgNode{
		{ID: types.RootNodeID(0), Type: types.NodeAND, OutEdges: []types.WfgEdge{{Target: types.RootNodeID(1), Label: "p2p"}}},
	}})
	n.Wfg.Ingest(types.WfgShard{Rank: 1, Nodes: []types.WfgNode{
		{ID: types.RootNodeID(1), Type: types.NodeAND, OutEdges: []types.WfgEdge{{Target: types.RootNodeID(0), Label: "p2p"}}},
	}})

	deadlockCore := n.DeclareDeadlock()
	require.Len(t, deadlockCore, 2)
	require.Equal(t, 1, sink.CountBySeverity(diagnostic.Error))
	require.Equal(t, diagnostic.Deadlock, sink.Events[0].MsgId)

	n.Run()
	require.NoError(t, n.Shutdown())
}

type recordingNodeP2PListener struct {
	matches int
}

func (r *recordingNodeP2PListener) OnP2PMatch(send, recv *types.P2POp) {
	r.matches++
}

func TestNode_P2PSendRecvMatchThroughComponents(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := definition.NewDefaultLogger("node-test")
	cfg := types.DefaultConfiguration("root", log)
	trans, _ := core.NewInProcFabric("root", nil)

	n, err := NewNode(cfg, rootClusterConfig(), trans, "", nil)
	require.NoError(t, err)

	listener := &recordingNodeP2PListener{}
	n.P2P.RegisterListener(listener)

	site0 := types.CallSite{ParallelId: types.ParallelId{Rank: 0}}
	site1 := types.CallSite{ParallelId: types.ParallelId{Rank: 1}}

	n.P2P.Send(types.P2POp{Issuer: 0, IsSend: true, Peer: 1, Tag: 5, Comm: 1, CallSite: site0})
	n.P2P.Recv(types.P2POp{Issuer: 1, IsSend: false, Peer: 0, Tag: 5, Comm: 1, CallSite: site1})
	require.Equal(t, 1, listener.matches)

	n.Run()
	require.NoError(t, n.Shutdown())
}
