package core

import (
	"testing"

	"github.com/jabolina/must-go/definition"
	"github.com/jabolina/must-go/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestQueue() *ReorderingQueue {
	return NewReorderingQueue(definition.NewDefaultLogger("reordering-test"))
}

// recordingOp appends its own label to a shared trace on Process, letting a
// test assert the exact FIFO order a rank's queue dispatched in.
type recordingOp struct {
	label string
	trace *[]string
	queue *ReorderingQueue
}

func (r recordingOp) Process(rank types.Rank) {
	*r.trace = append(*r.trace, r.label)
	r.queue.AdvanceRank(rank)
}

func TestReorderingQueue_FIFOPerRank(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := newTestQueue()
	var trace []string
	for _, label := range []string{"a", "b", "c"} {
		q.Enqueue(1, recordingOp{label: label, trace: &trace, queue: q})
	}

	require.Equal(t, []string{"a", "b", "c"}, trace)
	require.Equal(t, 0, q.QueueDepth(1))
}

// blockingOp never advances the queue on its own; the test resumes it
// explicitly, mirroring how core.BlockingState resumes a rank once its
// wait resolves.
type blockingOp struct {
	label   string
	trace   *[]string
	started *bool
}

func (b blockingOp) Process(types.Rank) {
	*b.trace = append(*b.trace, b.label)
	*b.started = true
}

func TestReorderingQueue_BlockRankHaltsDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := newTestQueue()
	var trace []string
	var started bool
	q.Enqueue(2, blockingOp{label: "head", trace: &trace, started: &started})
	require.True(t, started)

	q.BlockRank(2)
	require.False(t, q.IsOpen(2))

	// A second entry must not dispatch while rank 2 is blocked.
	q.Enqueue(2, recordingOp{label: "tail", trace: &trace, queue: q})
	require.Equal(t, []string{"head"}, trace)

	// AdvanceRank drops the head but dispatches nothing while rank 2 is
	// blocked.
	q.AdvanceRank(2)
	require.Equal(t, []string{"head"}, trace)

	q.ResumeRank(2)
	require.Equal(t, []string{"head", "tail"}, trace)
}

func TestReorderingQueue_SuspendDefersEveryRank(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := newTestQueue()
	q.Suspend()

	var trace []string
	q.Enqueue(5, recordingOp{label: "x", trace: &trace, queue: q})
	require.Empty(t, trace, "suspended dispatch must not run immediately")

	q.RemoveSuspension()
	require.Equal(t, []string{"x"}, trace)
}

func TestReorderingQueue_CheckpointRollback(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := newTestQueue()
	var trace []string
	var started bool
	q.Enqueue(3, blockingOp{label: "first", trace: &trace, started: &started})
	q.BlockRank(3)
	q.Checkpoint()

	q.Enqueue(3, recordingOp{label: "second", trace: &trace, queue: q})
	require.Equal(t, 2, q.QueueDepth(3))

	require.NoError(t, q.Rollback())
	require.Equal(t, 1, q.QueueDepth(3))
	require.False(t, q.IsOpen(3))
}

func TestReorderingQueue_RollbackWithoutCheckpointFails(t *testing.T) {
	q := newTestQueue()
	require.ErrorIs(t, q.Rollback(), ErrSchedulingInvariantViolation)
}
