package core

import (
	"sort"

	"github.com/jabolina/must-go/types"
)

// Wfg assembles the global wait-for-graph from per-rank WfgShards shipped
// up the tree and runs AND/OR cycle detection, grounded on
// original_source/.../DWaitState/DWaitStateWfgMgr.h (per-rank node +
// sub-nodes, waitForInfoSingle/Mixed/Coll) and spec.md §4.9's fixpoint
// algorithm.
type Wfg struct {
	nodes map[types.WfgNodeID]types.WfgNode
}

// NewWfg builds an empty graph; call Ingest once per shard received from
// the timeout controller's successful consistency probe (spec.md §4.9).
func NewWfg() *Wfg {
	return &Wfg{nodes: make(map[types.WfgNodeID]types.WfgNode)}
}

// Ingest installs every node of shard into the graph, replacing any prior
// contribution from the same rank/sub-id.
func (w *Wfg) Ingest(shard types.WfgShard) {
	for _, n := range shard.Nodes {
		w.nodes[n.ID] = n
	}
}

// Reset discards all ingested shards, for reuse across successive probes.
func (w *Wfg) Reset() {
	w.nodes = make(map[types.WfgNodeID]types.WfgNode)
}

// DeadlockCore runs the AND/OR progress-marking fixpoint of spec.md §4.9
// and returns the induced subgraph of unmarked (non-progressing) nodes --
// the deadlock core -- or nil if every node eventually progresses.
func (w *Wfg) DeadlockCore() []types.WfgNode {
	ids := make([]types.WfgNodeID, 0, len(w.nodes))
	for id := range w.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Rank != ids[j].Rank {
			return ids[i].Rank < ids[j].Rank
		}
		return ids[i].SubID < ids[j].SubID
	})

	progressing := make(map[types.WfgNodeID]bool, len(ids))

	for {
		changed := false
		for _, id := range ids {
			if progressing[id] {
				continue
			}
			node := w.nodes[id]
			if w.isProgressing(node, progressing) {
				progressing[id] = true
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	var core []types.WfgNode
	for _, id := range ids {
		if !progressing[id] {
			core = append(core, w.nodes[id])
		}
	}
	return core
}

// isProgressing applies one node's AND/OR predicate: a target not
// present in the waiting set at all is treated as already progressing
// (it completed or was never blocked), per spec.md §4.9 step 1.
func (w *Wfg) isProgressing(node types.WfgNode, progressing map[types.WfgNodeID]bool) bool {
	if len(node.OutEdges) == 0 {
		return true
	}

	switch node.Type {
	case types.NodeAND:
		for _, e := range node.OutEdges {
			if !w.targetProgressing(e.Target, progressing) {
				return false
			}
		}
		return true
	default: // NodeOR
		for _, e := range node.OutEdges {
			if w.targetProgressing(e.Target, progressing) {
				return true
			}
		}
		return false
	}
}

func (w *Wfg) targetProgressing(target types.WfgNodeID, progressing map[types.WfgNodeID]bool) bool {
	if _, exists := w.nodes[target]; !exists {
		return true
	}
	return progressing[target]
}

// NodeCount reports how many nodes are currently ingested, used by
// Node.DeclareDeadlock to skip analysis of an empty graph.
func (w *Wfg) NodeCount() int {
	return len(w.nodes)
}
