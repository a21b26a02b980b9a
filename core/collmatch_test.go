package core

import (
	"testing"

	"github.com/jabolina/must-go/diagnostic"
	"github.com/jabolina/must-go/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingCollListener struct {
	waves []uint32
	ops   [][]types.CollOp
}

func (r *recordingCollListener) OnCollMatch(comm types.ContextId, wave uint32, ops []types.CollOp) {
	r.waves = append(r.waves, wave)
	r.ops = append(r.ops, ops)
}

func TestCollMatch_CompletesOnceEveryMemberContributes(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewCollMatch(diagnostic.NopSink{})
	l := &recordingCollListener{}
	c.RegisterListener(l)

	members := []types.Rank{0, 1, 2}
	for _, rank := range members[:2] {
		ops, ok := c.Issue(types.CollOp{Issuer: rank, CollId: types.Barrier, Comm: 1, WaveNumber: 0}, members)
		require.False(t, ok)
		require.Nil(t, ops)
	}

	ops, ok := c.Issue(types.CollOp{Issuer: 2, CollId: types.Barrier, Comm: 1, WaveNumber: 0}, members)
	require.True(t, ok)
	require.Len(t, ops, 3)
	require.Equal(t, []uint32{0}, l.waves)
}

func TestCollMatch_ParameterMismatchEmitsDiagnostic(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := diagnostic.NewCollectingSink()
	c := NewCollMatch(sink)

	members := []types.Rank{0, 1}
	root0 := types.Rank(0)
	root1 := types.Rank(1)
	c.Issue(types.CollOp{Issuer: 0, CollId: types.Bcast, Comm: 1, WaveNumber: 0, Root: &root0, TypeDigest: "int32"}, members)
	_, ok := c.Issue(types.CollOp{Issuer: 1, CollId: types.Bcast, Comm: 1, WaveNumber: 0, Root: &root1, TypeDigest: "int32"}, members)

	require.True(t, ok)
	require.Equal(t, 1, sink.CountBySeverity(diagnostic.Error))
	require.Equal(t, diagnostic.ParticipantMismatch, sink.Events[0].MsgId)
}

func TestCollMatch_MissingMembersForBlockedWave(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewCollMatch(diagnostic.NopSink{})
	members := []types.Rank{0, 1, 2}
	c.Issue(types.CollOp{Issuer: 0, CollId: types.Barrier, Comm: 1, WaveNumber: 0}, members)

	missing := c.MissingMembers(1, 0, members)
	require.Equal(t, []types.Rank{1, 2}, missing)
	require.Equal(t, 1, c.PendingCount(1, 0))
}

func TestCollMatch_CheckpointRollback(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewCollMatch(diagnostic.NopSink{})
	members := []types.Rank{0, 1}
	c.Issue(types.CollOp{Issuer: 0, CollId: types.Barrier, Comm: 1, WaveNumber: 0}, members)
	c.Checkpoint()

	c.Issue(types.CollOp{Issuer: 1, CollId: types.Barrier, Comm: 1, WaveNumber: 0}, members)
	require.Equal(t, 0, c.PendingCount(1, 0))

	require.NoError(t, c.Rollback())
	require.Equal(t, 1, c.PendingCount(1, 0))
}
