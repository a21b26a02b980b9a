package core

import (
	"sync"
	"time"

	"github.com/jabolina/must-go/types"
)

// funcOp adapts a plain function to QueuedOp, for operations that never
// block the issuing rank (sends, non-blocking receives, persistent/cancel
// bookkeeping): grounded on the teacher's Invoker.Spawn(fn) idiom of
// wrapping a bare function as a unit of scheduled work.
type funcOp func(rank types.Rank)

func (f funcOp) Process(rank types.Rank) { f(rank) }

// blockingQueuedOp implements the two-phase dispatch a genuinely blocking
// call needs under C5's enqueue-then-drain model: its first Process call
// attempts the operation and, if not immediately satisfiable, registers
// with C8 and leaves the rank's queue head in place; C8's later
// resolution calls ReorderingQueue.ResumeRank, which re-invokes Process
// on the same head entry, and the second call simply advances past it.
type blockingQueuedOp struct {
	rq      *ReorderingQueue
	attempt func(rank types.Rank) (done bool)
	started bool
}

func (o *blockingQueuedOp) Process(rank types.Rank) {
	if !o.started {
		o.started = true
		if o.attempt(rank) {
			o.rq.AdvanceRank(rank)
		}
		return
	}
	o.rq.AdvanceRank(rank)
}

// Driver implements C3: the single-threaded cooperative scheduler that
// pulls records off C2, decodes them, and feeds C5/C6/C7/C8, grounded on
// the teacher's Unity.run/poll/process dispatch loop and
// Shutdown()/ShutdownFuture pattern in protocol.go, with flood-control
// thresholds from original_source FloodControl.h.
type Driver struct {
	cfg     *types.BaseConfiguration
	cluster *types.ClusterConfiguration

	strategy *Strategy
	codec    EventCodec

	rq    *ReorderingQueue
	p2p   *P2PMatch
	coll  *CollMatch
	bs    *BlockingState
	mirror *ResourceMirror

	snapshot  *SnapshotController
	finalizer *Finalizer
	flood     *FloodControl

	log types.Logger

	mutex     sync.Mutex
	started   bool
	shutdown  bool
	shutdownCh chan struct{}
}

func NewDriver(
	cfg *types.BaseConfiguration,
	cluster *types.ClusterConfiguration,
	strategy *Strategy,
	rq *ReorderingQueue,
	p2p *P2PMatch,
	coll *CollMatch,
	bs *BlockingState,
	mirror *ResourceMirror,
	snapshot *SnapshotController,
	finalizer *Finalizer,
) *Driver {
	return &Driver{
		cfg:        cfg,
		cluster:    cluster,
		strategy:   strategy,
		codec:      JSONCodec{},
		rq:         rq,
		p2p:        p2p,
		coll:       coll,
		bs:         bs,
		mirror:     mirror,
		snapshot:   snapshot,
		finalizer:  finalizer,
		flood:      NewFloodControl(cfg.DisableThreshold, cfg.EnableHysteresis),
		log:        cfg.Logger,
		shutdownCh: make(chan struct{}),
	}
}

// Run starts the scheduler's goroutine, mirroring Unity.run's
// "emit(unity.run)" bootstrap.
func (d *Driver) Run() {
	go d.run()
}

func (d *Driver) run() {
	for {
		select {
		case <-d.shutdownCh:
			return
		default:
		}

		d.mutex.Lock()
		alreadyStarted := d.started
		d.started = true
		d.mutex.Unlock()

		if !alreadyStarted {
			d.poll()
			return
		}
	}
}

func (d *Driver) poll() {
	defer d.log.Infof("shutdown scheduler %s", d.cfg.Name)

	tickInterval := d.cfg.QuietTimeout() / 4
	if tickInterval <= 0 {
		tickInterval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-d.strategy.Records():
			d.process(rec)
		case <-ticker.C:
			d.onTick()
		case <-d.shutdownCh:
			return
		}
	}
}

// onTick drives C10's timers once per poll interval: a non-root node
// sends its WAIT-FOR-INFO-REQUEST once the quiet period elapses; the
// root (re)announces any outstanding epoch and submits its own ack, so
// the two-successive-zero-byte streak of spec.md §4.10 accumulates
// across ticks without needing a child in the loop.
func (d *Driver) onTick() {
	epoch, shouldBroadcast, shouldRequestUp := d.snapshot.Tick()

	if shouldRequestUp {
		if err := d.strategy.SendUp(Record{Token: TokenSync, Direction: DirUp, Origin: d.cfg.Name}); err != nil {
			d.log.Errorf("driver: send wait-for-info-request: %v", err)
		}
	}

	if shouldBroadcast {
		payload, err := d.codec.EncodeAck(AckPayload{Epoch: epoch})
		if err != nil {
			d.log.Errorf("driver: encode snapshot request: %v", err)
			return
		}
		if err := d.strategy.BroadcastDown(Record{Token: TokenSnapshot, Direction: DirDown, Origin: d.cfg.Name, Payload: payload}); err != nil {
			d.log.Errorf("driver: broadcast snapshot request: %v", err)
		}
		d.snapshot.SelfAck()
	}
}

// replyAck answers an inbound TokenSnapshot request with this node's
// current in-flight byte count and WfgShard contribution.
func (d *Driver) replyAck(epoch uint64) {
	payload, err := d.codec.EncodeAck(AckPayload{
		Epoch:         epoch,
		InFlightBytes: d.strategy.PendingBytes(),
		Shards:        d.bs.Shards(),
	})
	if err != nil {
		d.log.Errorf("driver: encode ack: %v", err)
		return
	}
	if err := d.strategy.SendUp(Record{Token: TokenAck, Direction: DirUp, Origin: d.cfg.Name, Payload: payload}); err != nil {
		d.log.Errorf("driver: send ack: %v", err)
	}
}

func (d *Driver) process(rec Record) {
	switch rec.Token {
	case TokenMsg:
		ev, err := d.codec.Decode("", rec.Payload)
		if err != nil {
			d.log.Errorf("driver: %v", err)
			return
		}
		d.snapshot.RecordActivity()
		d.dispatch(ev)
	case TokenFlush:
		d.strategy.Flush()
	case TokenNotifyPanic:
		if d.finalizer.RaisePanic() {
			d.strategy.BroadcastDown(rec)
		}
	case TokenSync:
		d.snapshot.OnChildRequest(rec.Origin)
	case TokenSnapshot:
		payload, err := d.codec.DecodeAck(rec.Payload)
		if err != nil {
			d.log.Errorf("driver: decode snapshot request: %v", err)
			return
		}
		d.replyAck(payload.Epoch)
	case TokenAck:
		payload, err := d.codec.DecodeAck(rec.Payload)
		if err != nil {
			d.log.Errorf("driver: decode ack from %s: %v", rec.Origin, err)
			return
		}
		d.snapshot.Ack(payload.Epoch, rec.Origin, payload.InFlightBytes, payload.Shards)
	case TokenShutdown:
		d.Shutdown()
	}
}

// dispatch routes a decoded inbound event (spec.md §6) to the right
// rank's reordering queue entry. The rank is recovered from the event's
// CallSite, which always identifies the issuing process.
func (d *Driver) dispatch(ev types.Event) {
	rank := ev.Site().ParallelId.Rank

	switch e := ev.(type) {
	case *types.SendEvent:
		d.enqueueBlockingSend(rank, types.P2POp{Issuer: rank, IsSend: true, Peer: e.Dest, Tag: e.Tag, Comm: e.Comm, SendMode: e.Mode, CallSite: e.CallSite})
	case *types.ISendEvent:
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) {
			d.p2p.Send(types.P2POp{Issuer: r, IsSend: true, Peer: e.Dest, Tag: e.Tag, Comm: e.Comm, SendMode: e.Mode, HasRequest: true, RequestID: e.Request, CallSite: e.CallSite})
			d.rq.AdvanceRank(r)
		}))
	case *types.RecvEvent:
		d.enqueueBlockingRecv(rank, types.P2POp{Issuer: rank, IsSend: false, Peer: e.Source, Tag: e.Tag, Comm: e.Comm, CallSite: e.CallSite})
	case *types.IRecvEvent:
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) {
			d.p2p.Recv(types.P2POp{Issuer: r, IsSend: false, Peer: e.Source, Tag: e.Tag, Comm: e.Comm, HasRequest: true, RequestID: e.Request, CallSite: e.CallSite})
			d.rq.AdvanceRank(r)
		}))
	case *types.IRecvUpdateEvent:
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) {
			d.p2p.IrecvUpdate(r, e.Request, e.Source)
			d.rq.AdvanceRank(r)
		}))
	case *types.RecvUpdateEvent:
		// The blocking counterpart resolves the same wildcard receive by
		// rank rather than request id; no concrete request is pending
		// until the matching wait/completion arrives, so this is a
		// no-op bookkeeping event (spec.md §6).
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) { d.rq.AdvanceRank(r) }))
	case *types.StartPersistentEvent:
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) { d.rq.AdvanceRank(r) }))
	case *types.BreakRequestEvent:
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) {
			d.rq.Suspend()
			d.rq.AdvanceRank(r)
		}))
	case *types.BreakConsumeEvent:
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) {
			d.rq.RemoveSuspension()
			d.rq.AdvanceRank(r)
		}))
	case *types.CancelEvent:
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) {
			if !d.p2p.Cancel(e.Request) {
				d.bs.Cancel(r, e.Request)
			}
			d.rq.AdvanceRank(r)
		}))
	case *types.CollAllEvent:
		d.enqueueCollective(rank, e.CollId, e.Comm, nil, e.CallSite)
	case *types.CollRootEvent:
		root := e.Root
		d.enqueueCollective(rank, e.CollId, e.Comm, &root, e.CallSite)
	case *types.WaitEvent:
		d.enqueueWait(rank, e)
	case *types.CompletedRequestEvent:
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) {
			d.bs.CompleteRequests(r, []types.RequestId{e.Request})
			d.rq.AdvanceRank(r)
		}))
	case *types.CompletedRequestsEvent:
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) {
			d.bs.CompleteRequests(r, e.Requests)
			d.rq.AdvanceRank(r)
		}))
	case *types.FinalizeNotifyEvent:
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) {
			d.finalizer.NotifyFinalize(r)
			d.rq.AdvanceRank(r)
		}))
	case *types.RaisePanicEvent:
		d.rq.Enqueue(rank, funcOp(func(r types.Rank) {
			if d.finalizer.RaisePanic() {
				d.strategy.BroadcastDown(Record{Token: TokenNotifyPanic, Direction: DirDown, Origin: d.cfg.Name})
			}
			d.rq.AdvanceRank(r)
		}))
	default:
		d.log.Warnf("driver: unhandled event type %T", ev)
	}
}

// enqueueBlockingSend and enqueueBlockingRecv implement the blocking
// send/recv events of spec.md §8 S2 under the same two-phase
// blockingQueuedOp pattern enqueueCollective/enqueueWait use: a send or
// recv that does not match immediately registers a BP2P BlockingOp with
// C8, closing the issuing rank's queue until C6 reports a match.
func (d *Driver) enqueueBlockingSend(rank types.Rank, p2pOp types.P2POp) {
	op := &blockingQueuedOp{rq: d.rq}
	op.attempt = func(r types.Rank) bool {
		if d.p2p.Send(p2pOp) {
			return true
		}
		d.bs.Begin(r, &types.BlockingOp{
			Issuer:   r,
			CallSite: p2pOp.CallSite,
			Kind:     types.KindBP2P,
			P2P:      &types.BP2P{IsSend: true, Peer: p2pOp.Peer, Tag: p2pOp.Tag, Comm: p2pOp.Comm},
		})
		return false
	}
	d.rq.Enqueue(rank, op)
}

func (d *Driver) enqueueBlockingRecv(rank types.Rank, p2pOp types.P2POp) {
	op := &blockingQueuedOp{rq: d.rq}
	op.attempt = func(r types.Rank) bool {
		if d.p2p.Recv(p2pOp) {
			return true
		}
		d.bs.Begin(r, &types.BlockingOp{
			Issuer:   r,
			CallSite: p2pOp.CallSite,
			Kind:     types.KindBP2P,
			P2P:      &types.BP2P{IsSend: false, Peer: p2pOp.Peer, Tag: p2pOp.Tag, Comm: p2pOp.Comm},
		})
		return false
	}
	d.rq.Enqueue(rank, op)
}

func (d *Driver) enqueueCollective(rank types.Rank, collID types.CollId, comm types.ContextId, root *types.Rank, site types.CallSite) {
	members := d.mirror.members(comm)

	op := &blockingQueuedOp{rq: d.rq}
	op.attempt = func(r types.Rank) bool {
		wave := d.coll.NextWave(comm, r)
		collOp := types.CollOp{Issuer: r, CollId: collID, Comm: comm, WaveNumber: wave, Root: root, CallSite: site}
		completed, ok := d.coll.Issue(collOp, members)
		if ok {
			return containsRank(completed, r)
		}

		satisfied := make(map[types.Rank]bool, len(members))
		for _, m := range members {
			satisfied[m] = false
		}
		d.bs.Begin(r, &types.BlockingOp{
			Issuer:   r,
			CallSite: site,
			Kind:     types.KindBColl,
			Coll: &types.BColl{
				CollId:    collID,
				Comm:      comm,
				Root:      root,
				NumTasks:  len(members),
				Satisfied: satisfied,
			},
		})
		return false
	}
	d.rq.Enqueue(rank, op)
}

func containsRank(ops []types.CollOp, rank types.Rank) bool {
	for _, o := range ops {
		if o.Issuer == rank {
			return true
		}
	}
	return false
}

func (d *Driver) enqueueWait(rank types.Rank, e *types.WaitEvent) {
	mode := types.WaitAll
	switch e.Kind {
	case types.WaitAnyKind:
		mode = types.WaitAny
	case types.WaitSingle:
		mode = types.WaitOne
	}

	op := &blockingQueuedOp{rq: d.rq}
	op.attempt = func(r types.Rank) bool {
		bc := types.NewBCompletion(e.Requests, mode, e.ProcNullCount)
		if bc.CanComplete() {
			return true
		}
		d.bs.Begin(r, &types.BlockingOp{
			Issuer:     r,
			CallSite:   e.CallSite,
			Kind:       types.KindBCompletion,
			Completion: bc,
		})
		return false
	}
	d.rq.Enqueue(rank, op)
}

// Shutdown stops the scheduler loop. Idempotent, mirroring the teacher's
// Unity.Shutdown()'s off.shutdown guard.
func (d *Driver) Shutdown() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.shutdown {
		return
	}
	d.shutdown = true
	close(d.shutdownCh)
}
