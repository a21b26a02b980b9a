package core

import (
	"testing"

	"github.com/jabolina/must-go/types"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec_RoundTripsSendEvent(t *testing.T) {
	codec := JSONCodec{}
	site := types.CallSite{ParallelId: types.ParallelId{Rank: 3}}
	ev := &types.SendEvent{EventBase: types.NewEventBase(site), Dest: 7, Tag: 2, Comm: 1, Count: 10}

	data, err := codec.Encode(ev)
	require.NoError(t, err)

	decoded, err := codec.Decode("send", data)
	require.NoError(t, err)

	send, ok := decoded.(*types.SendEvent)
	require.True(t, ok)
	require.Equal(t, types.Rank(7), send.Dest)
	require.Equal(t, types.Rank(3), send.Site().ParallelId.Rank)
}

func TestJSONCodec_RoundTripsWaitEvent(t *testing.T) {
	codec := JSONCodec{}
	ev := &types.WaitEvent{Kind: types.WaitAllKind, Requests: []types.RequestId{1, 2, 3}}

	data, err := codec.Encode(ev)
	require.NoError(t, err)

	decoded, err := codec.Decode("wait", data)
	require.NoError(t, err)

	wait, ok := decoded.(*types.WaitEvent)
	require.True(t, ok)
	require.Equal(t, []types.RequestId{1, 2, 3}, wait.Requests)
}

func TestJSONCodec_UnknownKindFails(t *testing.T) {
	codec := JSONCodec{}
	_, err := codec.Decode("unused", []byte(`{"kind":"not-a-real-kind","body":{}}`))
	require.Error(t, err)
}

func TestJSONCodec_RoundTripsAckPayload(t *testing.T) {
	codec := JSONCodec{}
	payload := AckPayload{
		Epoch:         4,
		InFlightBytes: 128,
		Shards:        []types.WfgShard{{Rank: 2, Nodes: []types.WfgNode{{ID: types.RootNodeID(2), Type: types.NodeAND}}}},
	}

	data, err := codec.EncodeAck(payload)
	require.NoError(t, err)

	decoded, err := codec.DecodeAck(data)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}
