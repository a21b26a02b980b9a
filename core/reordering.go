// Package core implements the TBON overlay's analysis components: the
// reordering queue (C5), the matching engines (C6/C7), the blocking-state
// tracker (C8), the distributed wait-for-graph (C9), the timeout and
// consistent-snapshot controller (C10), the finalize/panic pipeline
// (C11), and, below those, the transport (C1), framed-record strategy
// (C2) and reduction/placement driver (C3).
package core

import (
	"errors"
	"sync"

	"github.com/jabolina/must-go/types"
)

// ErrSchedulingInvariantViolation is the SchedulingInvariantViolation
// error kind of spec.md §7: internal queue corruption or a rank index
// out of range. It is fatal to the node that raises it.
var ErrSchedulingInvariantViolation = errors.New("core: scheduling invariant violation")

// QueuedOp is one entry of a rank's reordering queue (spec.md §3,
// "Reordering queue entry"): any of the semantic operations the rank may
// enqueue, processed strictly FIFO within that rank.
type QueuedOp interface {
	// Process hands this operation to the appropriate matching engine
	// (C6/C7) or blocking-state tracker (C8) for rank.
	Process(rank types.Rank)
}

// rankQueue is the FIFO of pending QueuedOp for a single rank, plus its
// open/closed dispatch flag.
type rankQueue struct {
	entries []QueuedOp
	open    bool
}

// reorderingSnapshot is one saved checkpoint: a deep-enough copy of every
// rank's queue state and the global suspension flag so that Rollback can
// restore it exactly (spec.md §4.5, §9 "Checkpoint group").
type reorderingSnapshot struct {
	queues    map[types.Rank]rankQueue
	suspended bool
}

// ReorderingQueue implements C5: a per-rank FIFO of deferred matching
// operations, with suspend/resume and checkpoint/rollback, grounded on
// the teacher's peer.go rqueue/PreviousSet enqueue-then-drain pattern
// generalized to support group checkpoints (spec.md §9).
type ReorderingQueue struct {
	mutex sync.Mutex

	queues map[types.Rank]*rankQueue

	// suspended globally pauses dispatch; used while a wildcard-receive
	// backtracking decision is being explored (spec.md §4.5).
	suspended bool

	checkpoint *reorderingSnapshot

	log types.Logger
}

func NewReorderingQueue(log types.Logger) *ReorderingQueue {
	return &ReorderingQueue{
		queues: make(map[types.Rank]*rankQueue),
		log:    log,
	}
}

func (q *ReorderingQueue) rankState(rank types.Rank) *rankQueue {
	rq, ok := q.queues[rank]
	if !ok {
		rq = &rankQueue{open: true}
		q.queues[rank] = rq
	}
	return rq
}

// Enqueue appends op to rank's queue. If rank is open, no suspension is
// active, and op is the only entry, it is handed immediately to
// op.Process (spec.md §4.5).
func (q *ReorderingQueue) Enqueue(rank types.Rank, op QueuedOp) {
	q.mutex.Lock()
	rq := q.rankState(rank)
	rq.entries = append(rq.entries, op)
	dispatchNow := rq.open && !q.suspended && len(rq.entries) == 1
	q.mutex.Unlock()

	if dispatchNow {
		op.Process(rank)
	}
}

// AdvanceRank removes the head of rank's queue (its processing having
// completed) and, if rank is still open and dispatch is not suspended,
// hands the new head to Process.
func (q *ReorderingQueue) AdvanceRank(rank types.Rank) {
	q.mutex.Lock()
	rq, ok := q.queues[rank]
	if !ok || len(rq.entries) == 0 {
		q.mutex.Unlock()
		return
	}
	rq.entries = rq.entries[1:]
	var next QueuedOp
	dispatch := rq.open && !q.suspended && len(rq.entries) > 0
	if dispatch {
		next = rq.entries[0]
	}
	q.mutex.Unlock()

	if dispatch {
		next.Process(rank)
	}
}

// BlockRank closes rank: it holds a blocking op whose completion depends
// on events on other ranks, so its queue head must not be eagerly
// advanced (spec.md §4.5).
func (q *ReorderingQueue) BlockRank(rank types.Rank) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.rankState(rank).open = false
}

// ResumeRank reopens rank and, if dispatch is not suspended, processes
// its current queue head (if any).
func (q *ReorderingQueue) ResumeRank(rank types.Rank) {
	q.mutex.Lock()
	rq := q.rankState(rank)
	rq.open = true
	var next QueuedOp
	dispatch := !q.suspended && len(rq.entries) > 0
	if dispatch {
		next = rq.entries[0]
	}
	q.mutex.Unlock()

	if dispatch {
		next.Process(rank)
	}
}

// IsOpen reports whether rank's queue is currently eligible for dispatch.
func (q *ReorderingQueue) IsOpen(rank types.Rank) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.rankState(rank).open
}

// Suspend globally pauses dispatch: used while a wildcard-receive
// backtracking decision explores an alternative match.
func (q *ReorderingQueue) Suspend() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.suspended = true
}

// RemoveSuspension resumes global dispatch and hands off any rank heads
// that became eligible while suspended.
func (q *ReorderingQueue) RemoveSuspension() {
	q.mutex.Lock()
	q.suspended = false
	var toDispatch []struct {
		rank types.Rank
		op   QueuedOp
	}
	for rank, rq := range q.queues {
		if rq.open && len(rq.entries) > 0 {
			toDispatch = append(toDispatch, struct {
				rank types.Rank
				op   QueuedOp
			}{rank, rq.entries[0]})
		}
	}
	q.mutex.Unlock()

	for _, d := range toDispatch {
		d.op.Process(d.rank)
	}
}

// Checkpoint snapshots the entire queue state, per-rank flags, and the
// suspension flag. Overwrites any prior checkpoint: there is only ever
// one live at a time (spec.md §4.5, §9).
func (q *ReorderingQueue) Checkpoint() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	snap := &reorderingSnapshot{
		queues:    make(map[types.Rank]rankQueue, len(q.queues)),
		suspended: q.suspended,
	}
	for rank, rq := range q.queues {
		entriesCopy := make([]QueuedOp, len(rq.entries))
		copy(entriesCopy, rq.entries)
		snap.queues[rank] = rankQueue{entries: entriesCopy, open: rq.open}
	}
	q.checkpoint = snap
}

// Rollback restores exactly the last checkpoint. Must be invoked as part
// of the checkpoint group together with P2PMatch/CollMatch/BlockingState
// rollbacks -- rolling back only this component is a scheduling-invariant
// violation (spec.md §9).
func (q *ReorderingQueue) Rollback() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.checkpoint == nil {
		return ErrSchedulingInvariantViolation
	}
	q.queues = make(map[types.Rank]*rankQueue, len(q.checkpoint.queues))
	for rank, rq := range q.checkpoint.queues {
		rqCopy := rq
		entriesCopy := make([]QueuedOp, len(rq.entries))
		copy(entriesCopy, rq.entries)
		rqCopy.entries = entriesCopy
		q.queues[rank] = &rqCopy
	}
	q.suspended = q.checkpoint.suspended
	return nil
}

// HasCheckpoint reports whether a checkpoint is currently live.
func (q *ReorderingQueue) HasCheckpoint() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.checkpoint != nil
}

// QueueDepth reports the number of pending entries for rank.
func (q *ReorderingQueue) QueueDepth(rank types.Rank) int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	rq, ok := q.queues[rank]
	if !ok {
		return 0
	}
	return len(rq.entries)
}
