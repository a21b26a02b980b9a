package types

// SnapshotToken is the root-owned consistent-snapshot state of spec.md
// §3/§4.10: a two-phase quiescence probe that must observe zero
// in-flight bytes everywhere, on two successive polls, before a global
// wait-for-graph is meaningful.
type SnapshotToken struct {
	Epoch uint64

	// ParticipatingNodes is the set of TBON node ids expected to
	// acknowledge this epoch.
	ParticipatingNodes map[string]bool

	// Acks records, for each node that has acknowledged, whether its
	// in-flight byte count was zero on its most recent ack.
	Acks map[string]bool

	// ZeroStreak counts, per node, how many successive acks reported
	// zero in-flight bytes; the probe succeeds once every node's streak
	// reaches 2.
	ZeroStreak map[string]int

	Shards map[string][]WfgShard
}

func NewSnapshotToken(epoch uint64, nodes []string) *SnapshotToken {
	t := &SnapshotToken{
		Epoch:              epoch,
		ParticipatingNodes: make(map[string]bool, len(nodes)),
		Acks:               make(map[string]bool, len(nodes)),
		ZeroStreak:         make(map[string]int, len(nodes)),
		Shards:             make(map[string][]WfgShard, len(nodes)),
	}
	for _, n := range nodes {
		t.ParticipatingNodes[n] = true
	}
	return t
}

// Ack records one node's acknowledgement of this epoch. zeroBytes
// reports whether that node currently has no records in flight.
func (t *SnapshotToken) Ack(node string, zeroBytes bool, shards []WfgShard) {
	t.Acks[node] = zeroBytes
	if zeroBytes {
		t.ZeroStreak[node]++
	} else {
		t.ZeroStreak[node] = 0
	}
	t.Shards[node] = shards
}

// Succeeded reports whether every participating node has reached a
// zero-byte streak of at least 2 (spec.md §4.10: "byte-counts are zero
// everywhere simultaneously for two successive polls").
func (t *SnapshotToken) Succeeded() bool {
	for node := range t.ParticipatingNodes {
		if t.ZeroStreak[node] < 2 {
			return false
		}
	}
	return true
}

// AllShards flattens every node's contributed shards, node by node in
// the order given by order, for deterministic WFG assembly.
func (t *SnapshotToken) AllShards(order []string) []WfgShard {
	var all []WfgShard
	for _, node := range order {
		all = append(all, t.Shards[node]...)
	}
	return all
}
