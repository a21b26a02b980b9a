// Package diagnostic defines the outbound event set of spec.md §6: the
// structured diagnostics the core emits (never the HTML/stdout/debugger
// presentation, which is an external collaborator per spec.md §1) plus
// the on-disk report writers consumed by that external presentation
// layer.
package diagnostic

import (
	"fmt"

	"github.com/jabolina/must-go/types"
)

// Severity is one of the three outbound severities of spec.md §6.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	default:
		return "error"
	}
}

// MsgId names the diagnostic's kind, drawn from the error taxonomy of
// spec.md §7.
type MsgId int

const (
	SchedulingInvariantViolation MsgId = iota
	MatchingAmbiguity
	ParticipantMismatch
	TypeMismatch
	BufferOverlap
	NullBuffer
	InvalidHandle
	InvalidArgument
	Deadlock
	LostMessage
	TransportFatal
)

func (m MsgId) String() string {
	names := [...]string{
		"SchedulingInvariantViolation", "MatchingAmbiguity", "ParticipantMismatch",
		"TypeMismatch", "BufferOverlap", "NullBuffer", "InvalidHandle",
		"InvalidArgument", "Deadlock", "LostMessage", "TransportFatal",
	}
	if int(m) < 0 || int(m) >= len(names) {
		return "Unknown"
	}
	return names[m]
}

// Event is a single diagnostic(msg_id, pid, lid, severity, text, refs)
// record of spec.md §6.
type Event struct {
	MsgId    MsgId
	Site     types.CallSite
	Severity Severity
	Text     string
	Refs     []types.CallSite
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s at %s: %s", e.Severity, e.MsgId, e.Site, e.Text)
}

// StridedEvent is diagnostic_strided: the same diagnostic repeated
// identically across a contiguous range of ranks, used to avoid
// replicating one diagnostic per rank in SPMD workloads (spec.md §6).
type StridedEvent struct {
	Event
	StartRank types.Rank
	Stride    int
	Count     int
}

// Sink receives diagnostic events as the core produces them. core never
// imports this package's writers directly, only this interface, so the
// matching/WFG logic stays decoupled from report formatting.
type Sink interface {
	Emit(Event)
	EmitStrided(StridedEvent)
}

// NopSink discards every event; useful for tests that do not assert on
// diagnostics.
type NopSink struct{}

func (NopSink) Emit(Event)               {}
func (NopSink) EmitStrided(StridedEvent) {}

// CollectingSink buffers every event it receives, for tests that assert
// on the diagnostics a scenario produces.
type CollectingSink struct {
	Events  []Event
	Strided []StridedEvent
}

func NewCollectingSink() *CollectingSink { return &CollectingSink{} }

func (c *CollectingSink) Emit(e Event) { c.Events = append(c.Events, e) }
func (c *CollectingSink) EmitStrided(e StridedEvent) {
	c.Strided = append(c.Strided, e)
}

// CountBySeverity tallies events by severity, the shape the on-disk
// reports sort by (severity then time, per spec.md §6).
func (c *CollectingSink) CountBySeverity(sev Severity) int {
	n := 0
	for _, e := range c.Events {
		if e.Severity == sev {
			n++
		}
	}
	return n
}
