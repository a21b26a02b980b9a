package core

import (
	"testing"

	"github.com/jabolina/must-go/types"
	"github.com/stretchr/testify/require"
)

func TestWfg_NoCycleEveryNodeProgresses(t *testing.T) {
	w := NewWfg()
	// rank 0 waits on rank 1, which has no further waits (already done).
	w.Ingest(types.WfgShard{Rank: 0, Nodes: []types.WfgNode{{
		ID:   types.RootNodeID(0),
		Type: types.NodeAND,
		OutEdges: []types.WfgEdge{{Target: types.RootNodeID(1), Label: "p2p"}},
	}}})

	require.Empty(t, w.DeadlockCore())
}

func TestWfg_ANDCycleIsDeadlock(t *testing.T) {
	w := NewWfg()
	w.Ingest(types.WfgShard{Rank: 0, Nodes: []types.WfgNode{{
		ID:       types.RootNodeID(0),
		Type:     types.NodeAND,
		OutEdges: []types.WfgEdge{{Target: types.RootNodeID(1), Label: "p2p"}},
	}}})
	w.Ingest(types.WfgShard{Rank: 1, Nodes: []types.WfgNode{{
		ID:       types.RootNodeID(1),
		Type:     types.NodeAND,
		OutEdges: []types.WfgEdge{{Target: types.RootNodeID(0), Label: "p2p"}},
	}}})

	core := w.DeadlockCore()
	require.Len(t, core, 2)
}

func TestWfg_ORNodeProgressesIfAnySuccessorDoes(t *testing.T) {
	w := NewWfg()
	// rank 0 OR-waits on ranks 1 and 2; rank 1 has no waits (progresses),
	// rank 2 AND-waits on rank 0 (part of a cycle on its own).
	w.Ingest(types.WfgShard{Rank: 0, Nodes: []types.WfgNode{{
		ID:   types.RootNodeID(0),
		Type: types.NodeOR,
		OutEdges: []types.WfgEdge{
			{Target: types.RootNodeID(1), Label: "wildcard-recv"},
			{Target: types.RootNodeID(2), Label: "wildcard-recv"},
		},
	}}})
	w.Ingest(types.WfgShard{Rank: 2, Nodes: []types.WfgNode{{
		ID:       types.RootNodeID(2),
		Type:     types.NodeAND,
		OutEdges: []types.WfgEdge{{Target: types.RootNodeID(0), Label: "p2p"}},
	}}})

	// rank 1 never registered a node: it is treated as already progressing.
	require.Empty(t, w.DeadlockCore())
}

func TestWfg_MixedSubNodeCycle(t *testing.T) {
	w := NewWfg()
	w.Ingest(types.WfgShard{Rank: 0, Nodes: []types.WfgNode{
		{ID: types.RootNodeID(0), Type: types.NodeAND, OutEdges: []types.WfgEdge{{Target: types.SubNodeID(0, 0), Label: "wildcard-recv-subnode"}}},
		{ID: types.SubNodeID(0, 0), Type: types.NodeOR, OutEdges: []types.WfgEdge{{Target: types.RootNodeID(1), Label: "wildcard-candidate"}}},
	}})
	w.Ingest(types.WfgShard{Rank: 1, Nodes: []types.WfgNode{
		{ID: types.RootNodeID(1), Type: types.NodeAND, OutEdges: []types.WfgEdge{{Target: types.RootNodeID(0), Label: "p2p"}}},
	}})

	core := w.DeadlockCore()
	require.Len(t, core, 3)
}

func TestWfg_ResetClearsIngestedShards(t *testing.T) {
	w := NewWfg()
	w.Ingest(types.WfgShard{Rank: 0, Nodes: []types.WfgNode{{ID: types.RootNodeID(0), Type: types.NodeAND}}})
	require.Equal(t, 1, w.NodeCount())
	w.Reset()
	require.Equal(t, 0, w.NodeCount())
}
