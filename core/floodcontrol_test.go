package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFloodControl_DisablesAfterThreshold(t *testing.T) {
	f := NewFloodControl(3, 1)
	require.True(t, f.IsEnabled(0))

	f.MarkRecordBad(0)
	f.MarkRecordBad(0)
	require.True(t, f.IsEnabled(0))

	f.MarkRecordBad(0)
	require.False(t, f.IsEnabled(0))
}

func TestFloodControl_ReenablesAfterHysteresis(t *testing.T) {
	f := NewFloodControl(2, 1)
	f.MarkRecordBad(0)
	f.MarkRecordBad(0)
	require.False(t, f.IsEnabled(0))

	f.ConsiderReenable(0)
	require.False(t, f.IsEnabled(0))

	f.ConsiderReenable(0)
	require.True(t, f.IsEnabled(0))
}

func TestFloodControl_MaxBadnessTracksWorstChannel(t *testing.T) {
	f := NewFloodControl(100, 0)
	f.MarkRecordBad(0)
	f.MarkRecordBad(1)
	f.MarkRecordBad(1)

	require.Equal(t, uint32(2), f.MaxBadness())
}

func TestFloodControl_QueueSizeNeverGoesNegative(t *testing.T) {
	f := NewFloodControl(10, 0)
	f.ModifyQueueSize(0, -5)
	require.Equal(t, 0, f.state(0).queueSize)
}
