package core

import (
	"sync"

	"github.com/jabolina/must-go/diagnostic"
	"github.com/jabolina/must-go/types"
)

// CollMatchListener is notified once a wave's participant set is
// complete for a communicator, grounded on
// original_source/.../CollMatch/CollectiveMatch.cpp's per-wave reduction
// firing a single notification once every rank has contributed.
type CollMatchListener interface {
	OnCollMatch(comm types.ContextId, wave uint32, ops []types.CollOp)
}

type waveKey struct {
	comm types.ContextId
	wave uint32
}

// waveState accumulates one communicator/wave's contributions until every
// member has checked in.
type waveState struct {
	ops      map[types.Rank]types.CollOp
	mismatch bool
}

// CollMatch implements C7: per-communicator wave counters and parameter
// cross-checking, grounded on spec.md §4.7 and
// original_source/.../CollMatch/CollectiveMatch.cpp (the per-comm,
// per-wave reduction that only fires once every member rank has
// contributed).
type CollMatch struct {
	mutex sync.Mutex

	// waveNumber is each rank's local next-wave counter per comm.
	waveNumber map[waveRankKey]uint32

	waves map[waveKey]*waveState

	listeners []CollMatchListener

	sink diagnostic.Sink

	checkpoint *collSnapshot
}

type waveRankKey struct {
	comm types.ContextId
	rank types.Rank
}

type collSnapshot struct {
	waveNumber map[waveRankKey]uint32
	waves      map[waveKey]*waveState
}

func NewCollMatch(sink diagnostic.Sink) *CollMatch {
	return &CollMatch{
		waveNumber: make(map[waveRankKey]uint32),
		waves:      make(map[waveKey]*waveState),
		sink:       sink,
	}
}

func (c *CollMatch) RegisterListener(l CollMatchListener) {
	c.listeners = append(c.listeners, l)
}

// NextWave returns rank's current local wave number on comm, without
// incrementing it; used by C8 to tag a newly-begun collective before
// handing it to Issue.
func (c *CollMatch) NextWave(comm types.ContextId, rank types.Rank) uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.waveNumber[waveRankKey{comm, rank}]
}

// Issue records rank's contribution to a wave (its CollOp.WaveNumber must
// equal NextWave's return value at the time it was tagged) and advances
// rank's local wave counter on comm. members is the communicator's full
// rank set expected to contribute this wave (local+remote group for an
// intercomm, per spec.md §4.1).
//
// It returns the completed wave's op set once every member has
// contributed, or ok=false while the wave is still pending.
func (c *CollMatch) Issue(op types.CollOp, members []types.Rank) (ops []types.CollOp, ok bool) {
	c.mutex.Lock()

	c.waveNumber[waveRankKey{op.Comm, op.Issuer}] = op.WaveNumber + 1

	wk := waveKey{comm: op.Comm, wave: op.WaveNumber}
	ws, exists := c.waves[wk]
	if !exists {
		ws = &waveState{ops: make(map[types.Rank]types.CollOp)}
		c.waves[wk] = ws
	}

	for rank, existing := range ws.ops {
		if rank == op.Issuer {
			continue
		}
		if !types.ParamsAgree(&existing, &op) {
			ws.mismatch = true
		}
	}
	ws.ops[op.Issuer] = op

	complete := len(ws.ops) >= len(members)
	if complete {
		for _, m := range members {
			if _, ok := ws.ops[m]; !ok {
				complete = false
				break
			}
		}
	}

	var completedOps []types.CollOp
	var mismatch bool
	if complete {
		completedOps = make([]types.CollOp, 0, len(ws.ops))
		for _, o := range ws.ops {
			completedOps = append(completedOps, o)
		}
		mismatch = ws.mismatch
		delete(c.waves, wk)
	}
	c.mutex.Unlock()

	if !complete {
		return nil, false
	}

	if mismatch {
		var refs []types.CallSite
		for _, o := range completedOps {
			refs = append(refs, o.CallSite)
		}
		c.sink.Emit(diagnostic.Event{
			MsgId:    diagnostic.ParticipantMismatch,
			Site:     op.CallSite,
			Severity: diagnostic.Error,
			Text:     "collective participants disagree on parameters",
			Refs:     refs,
		})
	}

	for _, l := range c.listeners {
		l.OnCollMatch(op.Comm, op.WaveNumber, completedOps)
	}
	return completedOps, true
}

// PendingCount reports how many members have contributed so far to
// (comm, wave).
func (c *CollMatch) PendingCount(comm types.ContextId, wave uint32) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ws, ok := c.waves[waveKey{comm, wave}]
	if !ok {
		return 0
	}
	return len(ws.ops)
}

// MissingMembers returns the subset of members that have not yet
// contributed to (comm, wave); used by C8 to build the AND-successor list
// of ranks a blocked collective is waiting on.
func (c *CollMatch) MissingMembers(comm types.ContextId, wave uint32, members []types.Rank) []types.Rank {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ws, ok := c.waves[waveKey{comm, wave}]
	var missing []types.Rank
	for _, m := range members {
		if !ok {
			missing = append(missing, m)
			continue
		}
		if _, contributed := ws.ops[m]; !contributed {
			missing = append(missing, m)
		}
	}
	return missing
}

func (c *CollMatch) Checkpoint() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	wn := make(map[waveRankKey]uint32, len(c.waveNumber))
	for k, v := range c.waveNumber {
		wn[k] = v
	}
	w := make(map[waveKey]*waveState, len(c.waves))
	for k, v := range c.waves {
		w[k] = cloneWaveState(v)
	}
	c.checkpoint = &collSnapshot{waveNumber: wn, waves: w}
}

func (c *CollMatch) Rollback() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.checkpoint == nil {
		return ErrSchedulingInvariantViolation
	}
	wn := make(map[waveRankKey]uint32, len(c.checkpoint.waveNumber))
	for k, v := range c.checkpoint.waveNumber {
		wn[k] = v
	}
	w := make(map[waveKey]*waveState, len(c.checkpoint.waves))
	for k, v := range c.checkpoint.waves {
		w[k] = cloneWaveState(v)
	}
	c.waveNumber = wn
	c.waves = w
	return nil
}

func cloneWaveState(ws *waveState) *waveState {
	out := &waveState{ops: make(map[types.Rank]types.CollOp, len(ws.ops)), mismatch: ws.mismatch}
	for k, v := range ws.ops {
		out.ops[k] = v
	}
	return out
}
