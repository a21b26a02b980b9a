package core

import (
	"sync"

	"github.com/jabolina/must-go/diagnostic"
	"github.com/jabolina/must-go/types"
)

// FlushableStrategy is the subset of C2 that C11 drives directly: forcing
// out any aggregated records before a report, and disabling aggregation
// once a panic is in flight (spec.md §4.11).
type FlushableStrategy interface {
	Flush()
	DisableAggregation()
}

// Finalizer implements C11: the finalize/flush/panic pipeline, grounded
// on original_source/.../MustBase/FinalizeNotify.h and
// FinalizeReduction.cpp (a completion tree collecting one finalize-notify
// per application rank) and the teacher's Unity.Shutdown()/ShutdownFuture
// pattern in protocol.go.
type Finalizer struct {
	mutex sync.Mutex

	worldSize int
	notified  map[types.Rank]bool

	panicked bool

	strategy FlushableStrategy
	p2p      *P2PMatch
	sink     diagnostic.Sink

	reportLostMessages bool

	doneCh chan struct{}
}

func NewFinalizer(worldSize int, strategy FlushableStrategy, p2p *P2PMatch, sink diagnostic.Sink, reportLostMessages bool) *Finalizer {
	return &Finalizer{
		worldSize:          worldSize,
		notified:           make(map[types.Rank]bool, worldSize),
		strategy:           strategy,
		p2p:                p2p,
		sink:               sink,
		reportLostMessages: reportLostMessages,
		doneCh:             make(chan struct{}),
	}
}

// NotifyFinalize records rank's finalize-notify event. Once every world
// rank has checked in, the controller flushes C2, reports lingering
// unmatched sends as lost messages (unless a panic suppressed that), and
// signals Done bottom-up (spec.md §4.11).
func (f *Finalizer) NotifyFinalize(rank types.Rank) {
	f.mutex.Lock()
	f.notified[rank] = true
	complete := len(f.notified) >= f.worldSize
	panicked := f.panicked
	f.mutex.Unlock()

	if !complete {
		return
	}

	f.strategy.Flush()

	if f.reportLostMessages && !panicked {
		f.reportLostMessagesLocked()
	}

	close(f.doneCh)
}

func (f *Finalizer) reportLostMessagesLocked() {
	for _, send := range f.p2p.UnmatchedSends() {
		f.sink.Emit(diagnostic.Event{
			MsgId:    diagnostic.LostMessage,
			Site:     send.CallSite,
			Severity: diagnostic.Warning,
			Text:     "send was never matched by a receive",
		})
	}
}

// Done is closed once every rank's finalize-notify has been collected
// and the pipeline has completed its drain.
func (f *Finalizer) Done() <-chan struct{} {
	return f.doneCh
}

// RaisePanic implements spec.md §4.11's panic pipeline: idempotent
// regardless of how many times it is called (possibly re-entrantly, from
// a signal handler), it disables aggregation so sends become immediate
// and suppresses the lost-message report.
func (f *Finalizer) RaisePanic() (first bool) {
	f.mutex.Lock()
	first = !f.panicked
	f.panicked = true
	f.mutex.Unlock()

	if first {
		f.strategy.DisableAggregation()
	}
	return first
}

// Panicked reports whether a panic has been raised on this node.
func (f *Finalizer) Panicked() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.panicked
}
