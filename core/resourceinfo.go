package core

import (
	"sync"

	"github.com/jabolina/must-go/types"
)

// ResourceMirror implements C4: a read-only mirror of communicator and
// datatype snapshots, published upward by the (out-of-scope) resource
// trackers. LookupComm/LookupType count references and ReleaseComm drops
// one, but nothing else depends on the count: PublishComm/PublishType
// replace an entry whatever its count, and no entry is ever deleted.
type ResourceMirror struct {
	mutex sync.RWMutex

	comms map[handleKey]*commEntry
	types map[handleKey]*typeEntry

	// byContext indexes published communicator snapshots by their
	// context id, for lookups that only have the wire-level ContextId
	// (as carried on P2POp/CollOp) rather than a (rank, handle) pair.
	byContext map[types.ContextId]*types.CommSnapshot

	// worldMembers is the full world-rank set known to this mirror, used
	// by IsRankInWorld.
	worldMembers map[types.Rank]bool
}

type handleKey struct {
	rank   types.Rank
	handle uint64
}

type commEntry struct {
	snapshot *types.CommSnapshot
	refCount int
}

type typeEntry struct {
	snapshot *types.TypeSnapshot
	refCount int
}

func NewResourceMirror() *ResourceMirror {
	return &ResourceMirror{
		comms:        make(map[handleKey]*commEntry),
		types:        make(map[handleKey]*typeEntry),
		byContext:    make(map[types.ContextId]*types.CommSnapshot),
		worldMembers: make(map[types.Rank]bool),
	}
}

// PublishComm installs an immutable communicator snapshot for
// rank/handle, replacing any earlier one (and resetting its reference
// count to zero) even while it is still referenced.
func (m *ResourceMirror) PublishComm(rank types.Rank, handle uint64, snap *types.CommSnapshot) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.comms[handleKey{rank, handle}] = &commEntry{snapshot: snap}
	m.byContext[snap.ID] = snap
	for _, r := range snap.Members() {
		m.worldMembers[r] = true
	}
}

// members returns the member ranks of the communicator identified by id,
// or nil if it has not been published to this mirror.
func (m *ResourceMirror) members(id types.ContextId) []types.Rank {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	snap, ok := m.byContext[id]
	if !ok {
		return nil
	}
	return snap.Members()
}

// PublishType installs an immutable datatype snapshot for rank/handle.
func (m *ResourceMirror) PublishType(rank types.Rank, handle uint64, snap *types.TypeSnapshot) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.types[handleKey{rank, handle}] = &typeEntry{snapshot: snap}
}

// LookupComm returns the communicator snapshot for rank/handle, and
// increments its reference count; ReleaseComm decrements it again.
func (m *ResourceMirror) LookupComm(rank types.Rank, handle uint64) (*types.CommSnapshot, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.comms[handleKey{rank, handle}]
	if !ok {
		return nil, false
	}
	e.refCount++
	return e.snapshot, true
}

// LookupType returns the datatype snapshot for rank/handle.
func (m *ResourceMirror) LookupType(rank types.Rank, handle uint64) (*types.TypeSnapshot, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.types[handleKey{rank, handle}]
	if !ok {
		return nil, false
	}
	e.refCount++
	return e.snapshot, true
}

// ReleaseComm decrements the reference count of a previously looked-up
// communicator, never below zero. Reaching zero removes nothing.
func (m *ResourceMirror) ReleaseComm(rank types.Rank, handle uint64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e, ok := m.comms[handleKey{rank, handle}]; ok && e.refCount > 0 {
		e.refCount--
	}
}

// IsRankInWorld reports whether rank has been observed as a member of
// any published communicator.
func (m *ResourceMirror) IsRankInWorld(rank types.Rank) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.worldMembers[rank]
}

// Translate maps a communicator-local rank to its world rank, using the
// comm's LocalGroup as the local-rank-indexed table.
func Translate(comm *types.CommSnapshot, localRank types.Rank) (types.Rank, bool) {
	if comm == nil || int(localRank) < 0 || int(localRank) >= len(comm.LocalGroup) {
		return 0, false
	}
	return comm.LocalGroup[localRank], true
}
