package types

// NodeType is the blocking predicate of a wait-for-graph node: AND waits
// for all successors, OR waits for any (spec.md §3/§4.9 glossary).
type NodeType int

const (
	NodeAND NodeType = iota
	NodeOR
)

// SubId optionally names a mixed-op sub-node; nil for a plain node.
type SubId *int

// WfgNodeID identifies a node in the global wait-for-graph: a blocked
// rank, optionally with a sub-node index for a mixed op, kept as a
// (Rank, SubID) pair rather than one packed integer.
type WfgNodeID struct {
	Rank  Rank
	SubID int // -1 for the primary node
}

func RootNodeID(rank Rank) WfgNodeID  { return WfgNodeID{Rank: rank, SubID: -1} }
func SubNodeID(rank Rank, i int) WfgNodeID { return WfgNodeID{Rank: rank, SubID: i} }

// WfgEdge is one out-edge of a WFG node: the target this node waits on,
// a short descriptive label, and an optional call-site reference.
type WfgEdge struct {
	Target   WfgNodeID
	Label    string
	HasRef   bool
	Ref      CallSite
}

// WfgNode is a single node of the distributed wait-for-graph (spec.md §3).
type WfgNode struct {
	ID       WfgNodeID
	Type     NodeType
	OutEdges []WfgEdge
}

// WfgShard is the per-rank contribution to the global wait-for-graph,
// shipped from a TBON node hosting that rank up to the root (spec.md §3,
// §4.8 "On every local state change, C8 emits an updated WfgShard").
type WfgShard struct {
	Rank  Rank
	Nodes []WfgNode
}
