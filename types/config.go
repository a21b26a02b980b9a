package types

import "time"

// BaseConfiguration expands the teacher's per-unity configuration
// (BaseConfiguration in pkg/mcast/protocol.go) into the options table of
// spec.md §6. Component construction takes this struct (dependency
// injection, spec.md §9) rather than reading from a process-wide
// registry.
type BaseConfiguration struct {
	// Name identifies this TBON node for logging and diagnostics.
	Name string

	Version uint32

	Logger Logger

	// TimeoutQuietUsec is T_quiet: the per-node quiet timer (spec.md §6,
	// default 10_000_000).
	TimeoutQuietUsec uint64

	// DisableThreshold / EnableHysteresis are the flood-control
	// thresholds of spec.md §6 (defaults 1_000_000 / 100_000), grounded
	// on original_source FloodControl.h's DISABLE_THRESHOLD /
	// ENABLE_HISTERESE.
	DisableThreshold uint32
	EnableHysteresis uint32

	// TraceBreakThreshold / TraceResumeThreshold hysteresis the
	// application BREAK request used to halt progress while WFG trace
	// queues drain (spec.md §6).
	TraceBreakThreshold  uint32
	TraceResumeThreshold uint32

	// ContextIDMultiplier is the branching factor for local context-id
	// generation (spec.md §6, default 128; see DESIGN.md Open Question 1).
	ContextIDMultiplier uint32

	// ReportLostMessages toggles the finalize-time lost-message
	// diagnostic (spec.md §6, default true).
	ReportLostMessages bool
}

func (b *BaseConfiguration) QuietTimeout() time.Duration {
	return time.Duration(b.TimeoutQuietUsec) * time.Microsecond
}

// DefaultConfiguration mirrors the teacher's mcast.DefaultConfiguration(name)
// constructor, populated with the spec.md §6 option defaults.
func DefaultConfiguration(name string, logger Logger) *BaseConfiguration {
	return &BaseConfiguration{
		Name:                 name,
		Version:              1,
		Logger:               logger,
		TimeoutQuietUsec:     10_000_000,
		DisableThreshold:     1_000_000,
		EnableHysteresis:     100_000,
		TraceBreakThreshold:  100_000,
		TraceResumeThreshold: 10_000,
		ContextIDMultiplier:  128,
		ReportLostMessages:   true,
	}
}

// ClusterConfiguration describes the TBON placement: how application
// ranks are distributed beneath each tool node, and this node's position
// in the tree.
type ClusterConfiguration struct {
	// WorldSize is the total number of application ranks.
	WorldSize int

	// LocalRanks are the application ranks hosted directly beneath this
	// TBON node (leaf nodes only; internal nodes have none).
	LocalRanks []Rank

	// Parent is the address of this node's parent in the tree, empty at
	// the root.
	Parent string

	// Children are the addresses of this node's children.
	Children []string

	// IsRoot marks the TBON root, the only node that assembles the
	// global wait-for-graph (spec.md §4.9).
	IsRoot bool
}
