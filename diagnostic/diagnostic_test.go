package diagnostic

import (
	"bytes"
	"testing"

	"github.com/jabolina/must-go/types"
	"github.com/stretchr/testify/require"
)

func TestCollectingSink_CountBySeverity(t *testing.T) {
	sink := NewCollectingSink()
	sink.Emit(Event{MsgId: Deadlock, Severity: Error})
	sink.Emit(Event{MsgId: LostMessage, Severity: Warning})
	sink.Emit(Event{MsgId: TypeMismatch, Severity: Error})

	require.Equal(t, 2, sink.CountBySeverity(Error))
	require.Equal(t, 1, sink.CountBySeverity(Warning))
}

func TestWriteHTMLReport_SortsBySeverityDescending(t *testing.T) {
	events := []Event{
		{MsgId: LostMessage, Severity: Warning, Text: "warn-event"},
		{MsgId: Deadlock, Severity: Error, Text: "error-event"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteHTMLReport(&buf, events))

	out := buf.String()
	errorIdx := indexOf(out, "error-event")
	warnIdx := indexOf(out, "warn-event")
	require.Greater(t, errorIdx, -1)
	require.Greater(t, warnIdx, -1)
	require.Less(t, errorIdx, warnIdx, "higher severity must render first")
}

func TestWriteDot_RendersANDAndOREdges(t *testing.T) {
	core := []types.WfgNode{
		{ID: types.RootNodeID(0), Type: types.NodeAND, OutEdges: []types.WfgEdge{{Target: types.RootNodeID(1), Label: "p2p"}}},
		{ID: types.RootNodeID(1), Type: types.NodeOR},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteDot(&buf, core))

	out := buf.String()
	require.Contains(t, out, "digraph deadlock")
	require.Contains(t, out, `"r0" -> "r1"`)
	require.Contains(t, out, "AND")
	require.Contains(t, out, "OR")
}

func TestWriteReproducerLog_CountsRepeatedEvents(t *testing.T) {
	site := types.CallSite{ParallelId: types.ParallelId{Rank: 2}}
	events := []Event{
		{MsgId: MatchingAmbiguity, Severity: Warning, Site: site, Text: "dup"},
		{MsgId: MatchingAmbiguity, Severity: Warning, Site: site, Text: "dup"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReproducerLog(&buf, events))

	out := buf.String()
	require.Contains(t, out, "2;MatchingAmbiguity;1;warning;dup")
	require.Contains(t, out, "2;MatchingAmbiguity;2;warning;dup")
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
