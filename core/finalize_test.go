package core

import (
	"testing"

	"github.com/jabolina/must-go/diagnostic"
	"github.com/jabolina/must-go/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeStrategy struct {
	flushed       bool
	aggregationOff bool
}

func (f *fakeStrategy) Flush()               { f.flushed = true }
func (f *fakeStrategy) DisableAggregation()  { f.aggregationOff = true }

func TestFinalizer_CompletesOnceEveryRankNotifies(t *testing.T) {
	defer goleak.VerifyNone(t)

	strategy := &fakeStrategy{}
	p2p := NewP2PMatch(NewResourceMirror(), diagnostic.NopSink{})
	p2p.Send(types.P2POp{Issuer: 0, IsSend: true, Peer: 1, Tag: 1, Comm: 1, CallSite: types.CallSite{ParallelId: types.ParallelId{Rank: 0}}})

	sink := diagnostic.NewCollectingSink()
	f := NewFinalizer(2, strategy, p2p, sink, true)

	f.NotifyFinalize(0)
	select {
	case <-f.Done():
		t.Fatal("must not complete before every rank notifies")
	default:
	}

	f.NotifyFinalize(1)
	<-f.Done()

	require.True(t, strategy.flushed)
	require.Equal(t, 1, sink.CountBySeverity(diagnostic.Warning))
	require.Equal(t, diagnostic.LostMessage, sink.Events[0].MsgId)
}

func TestFinalizer_PanicSuppressesLostMessageReportAndIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	strategy := &fakeStrategy{}
	p2p := NewP2PMatch(NewResourceMirror(), diagnostic.NopSink{})
	p2p.Send(types.P2POp{Issuer: 0, IsSend: true, Peer: 1, Tag: 1, Comm: 1})

	sink := diagnostic.NewCollectingSink()
	f := NewFinalizer(1, strategy, p2p, sink, true)

	require.True(t, f.RaisePanic())
	require.False(t, f.RaisePanic(), "second call must report not-first")
	require.True(t, strategy.aggregationOff)

	f.NotifyFinalize(0)
	<-f.Done()
	require.Empty(t, sink.Events, "lost-message report must be suppressed after a panic")
}
