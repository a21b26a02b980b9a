// Package mustgo wires the TBON overlay's components (core.Transport
// through core.Driver) into a single per-tool-node Node, the analogue of
// the teacher's Unity in pkg/mcast/protocol.go.
package mustgo

import (
	"fmt"
	"time"

	"github.com/jabolina/must-go/core"
	"github.com/jabolina/must-go/diagnostic"
	"github.com/jabolina/must-go/types"
)

// Node is one tool node of the tree-based overlay network: it owns the
// full analysis pipeline (C1-C11) for the application ranks placed
// beneath it, and, at the root, the assembled wait-for-graph.
type Node struct {
	cfg     *types.BaseConfiguration
	cluster *types.ClusterConfiguration

	Transport core.Transport
	Strategy  *core.Strategy

	Reordering *core.ReorderingQueue
	P2P        *core.P2PMatch
	Coll       *core.CollMatch
	Blocking   *core.BlockingState
	Mirror     *core.ResourceMirror

	Snapshot  *core.SnapshotController
	Finalizer *core.Finalizer
	Driver    *core.Driver

	// Wfg is non-nil only at the TBON root (spec.md §4.9: only the root
	// assembles the global wait-for-graph).
	Wfg *core.Wfg

	Sink diagnostic.Sink
}

// quietActivity adapts a Node's strategy + blocking state into the
// core.QuietActivity collaborator the snapshot controller polls.
type quietActivity struct {
	strategy *core.Strategy
	blocking *core.BlockingState
}

func (q quietActivity) InFlightBytes() int             { return q.strategy.PendingBytes() }
func (q quietActivity) CurrentShards() []types.WfgShard { return q.blocking.Shards() }

// NewNode assembles one tool node's full pipeline. trans is the already-
// constructed C1 transport (core.TCPTransport or core.InProcTransport);
// partition names the intra-layer relt group this node shares with its
// TBON siblings, or "" to skip intra-layer wiring.
func NewNode(cfg *types.BaseConfiguration, cluster *types.ClusterConfiguration, trans core.Transport, partition string, sink diagnostic.Sink) (*Node, error) {
	if sink == nil {
		sink = diagnostic.NopSink{}
	}

	strategy, err := core.NewStrategy(trans, partition, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("mustgo: new strategy: %w", err)
	}

	rq := core.NewReorderingQueue(cfg.Logger)
	mirror := core.NewResourceMirror()
	p2p := core.NewP2PMatch(mirror, sink)
	coll := core.NewCollMatch(sink)
	bs := core.NewBlockingState(rq, p2p, coll)

	p2p.RegisterListener(bs)
	coll.RegisterListener(bs)

	finalizer := core.NewFinalizer(len(cluster.LocalRanks), strategy, p2p, sink, cfg.ReportLostMessages)

	activity := quietActivity{strategy: strategy, blocking: bs}
	children := cluster.Children
	snapshot := core.NewSnapshotController(cfg.Name, cluster.IsRoot, children, cfg.QuietTimeout(), activity, cfg.Logger)

	var wfg *core.Wfg
	if cluster.IsRoot {
		wfg = core.NewWfg()
		snapshot.RegisterListener(wfgListener{wfg: wfg})
	}

	if !cluster.IsRoot {
		bs.RegisterShardListener(upstreamShardForwarder{strategy: strategy, nodeName: cfg.Name})
	}

	driver := core.NewDriver(cfg, cluster, strategy, rq, p2p, coll, bs, mirror, snapshot, finalizer)

	return &Node{
		cfg:        cfg,
		cluster:    cluster,
		Transport:  trans,
		Strategy:   strategy,
		Reordering: rq,
		P2P:        p2p,
		Coll:       coll,
		Blocking:   bs,
		Mirror:     mirror,
		Snapshot:   snapshot,
		Finalizer:  finalizer,
		Driver:     driver,
		Wfg:        wfg,
		Sink:       sink,
	}, nil
}

// wfgListener installs every shard a successful consistency probe
// produced into the root's wait-for-graph (spec.md §4.9).
type wfgListener struct {
	wfg *core.Wfg
}

func (w wfgListener) OnSnapshotReady(shards []types.WfgShard) {
	w.wfg.Reset()
	for _, s := range shards {
		w.wfg.Ingest(s)
	}
}

// upstreamShardForwarder sends an empty TokenSync record up the tree
// through Strategy.Send (so it is buffered while aggregation is on)
// whenever a local rank's blocking state changes. The shard itself is not
// sent here; the root receives shards through snapshot acks.
type upstreamShardForwarder struct {
	strategy *core.Strategy
	nodeName string
}

func (u upstreamShardForwarder) OnWfgShard(shard types.WfgShard) {
	_ = u.strategy.Send(core.Record{
		Token:     core.TokenSync,
		Direction: core.DirUp,
		Origin:    u.nodeName,
	})
	_ = shard // shard payload encoding is carried by the snapshot ack path, not this notify
}

// Run starts the node's scheduler loop (spec.md §5's single cooperative
// scheduler per tool node).
func (n *Node) Run() {
	n.Driver.Run()
}

// Shutdown stops the scheduler and closes the transport/strategy,
// mirroring the teacher's Unity.Shutdown() Future but synchronous: the
// caller is expected to have already drained finalize (core.Finalizer).
func (n *Node) Shutdown() error {
	n.Driver.Shutdown()
	return n.Strategy.Close()
}

// DeclareDeadlock runs C9's cycle detection against the root's currently
// ingested wait-for-graph and returns the deadlock core, or nil if the
// graph is empty or every node can progress. Only meaningful on the root
// (spec.md §4.9).
func (n *Node) DeclareDeadlock() []types.WfgNode {
	if n.Wfg == nil {
		return nil
	}
	if n.Wfg.NodeCount() == 0 {
		return nil
	}
	deadlockCore := n.Wfg.DeadlockCore()
	if len(deadlockCore) == 0 {
		return nil
	}
	n.Sink.Emit(diagnostic.Event{
		MsgId:    diagnostic.Deadlock,
		Severity: diagnostic.Error,
		Text:     fmt.Sprintf("deadlock core of %d node(s)", len(deadlockCore)),
	})
	return deadlockCore
}

// DefaultQuietTimeout is exported for callers assembling a
// types.BaseConfiguration by hand that want the spec.md §6 default
// without importing the full DefaultConfiguration constructor.
const DefaultQuietTimeout = 10 * time.Second
