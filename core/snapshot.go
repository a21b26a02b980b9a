package core

import (
	"sync"
	"time"

	"github.com/jabolina/must-go/types"
)

// SnapshotListener is invoked once a consistent-snapshot epoch succeeds,
// handing the assembled shard set to the caller for C9 (spec.md §4.10:
// "On success, §4.9 runs").
type SnapshotListener interface {
	OnSnapshotReady(shards []types.WfgShard)
}

// QuietActivity reports in-flight byte counts for one tool node, queried
// by the controller while a probe epoch is outstanding.
type QuietActivity interface {
	// InFlightBytes returns the node's current count of bytes queued for
	// delivery but not yet delivered (spec.md §4.10).
	InFlightBytes() int

	// CurrentShards returns this node's present WfgShard contributions.
	CurrentShards() []types.WfgShard
}

// SnapshotController implements C10: a per-node quiet timer and, at the
// root, an aggregation timer driving two-phase quiescence probes,
// grounded on spec.md §4.10 directly (no single original_source file
// covers both timers together; cross-referenced against FloodControl.h's
// timer-reset-on-activity idiom) and on the teacher's time.After polling
// style in peer.go.
type SnapshotController struct {
	mutex sync.Mutex

	quietTimeout time.Duration
	nodeID       string
	isRoot       bool
	children     []string

	lastActivity time.Time

	activity QuietActivity

	epoch   uint64
	token   *types.SnapshotToken
	pending map[string]bool // children whose WAIT-FOR-INFO-REQUEST is outstanding this epoch

	// requestedUp latches once this (non-root) node has sent its
	// WAIT-FOR-INFO-REQUEST for the current quiet period, so Tick doesn't
	// resend it on every tick; RecordActivity clears it.
	requestedUp bool

	listeners []SnapshotListener

	log types.Logger
}

func NewSnapshotController(nodeID string, isRoot bool, children []string, quietTimeout time.Duration, activity QuietActivity, log types.Logger) *SnapshotController {
	return &SnapshotController{
		quietTimeout: quietTimeout,
		nodeID:       nodeID,
		isRoot:       isRoot,
		children:     children,
		lastActivity: time.Time{},
		activity:     activity,
		log:          log,
	}
}

func (s *SnapshotController) RegisterListener(l SnapshotListener) {
	s.listeners = append(s.listeners, l)
}

// RecordActivity resets the quiet timer; called whenever this node
// processes or produces any record. It also invalidates any probe epoch
// currently outstanding at the root (spec.md §4.10 "Cancellation").
func (s *SnapshotController) RecordActivity() {
	s.mutex.Lock()
	s.lastActivity = time.Now()
	s.requestedUp = false
	if s.isRoot && s.token != nil {
		s.log.Debugf("snapshot: epoch %d invalidated by new activity", s.token.Epoch)
		s.token = nil
	}
	s.mutex.Unlock()
}

// QuietElapsed reports whether T_quiet has elapsed since the last
// recorded activity, i.e. this node should send a WAIT-FOR-INFO-REQUEST
// up the tree.
func (s *SnapshotController) QuietElapsed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.quietElapsedLocked()
}

func (s *SnapshotController) quietElapsedLocked() bool {
	if s.lastActivity.IsZero() {
		return true
	}
	return time.Since(s.lastActivity) >= s.quietTimeout
}

// Tick drives this node's timers once per driver poll interval. A
// non-root node sends at most one WAIT-FOR-INFO-REQUEST per quiet
// period (shouldRequestUp); the root starts a CONSISTENT-SNAPSHOT epoch
// once it has nothing left to wait for (no epoch yet running, no children
// at all, and its own quiet period has elapsed) and then
// re-announces the outstanding epoch on every tick until it succeeds
// (shouldBroadcast), since repeated acks are exactly how the
// two-successive-zero-byte streak of spec.md §4.10 accumulates.
func (s *SnapshotController) Tick() (epoch uint64, shouldBroadcast, shouldRequestUp bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isRoot {
		if !s.requestedUp && s.quietElapsedLocked() {
			s.requestedUp = true
			return 0, false, true
		}
		return 0, false, false
	}

	if s.token == nil && len(s.children) == 0 && s.quietElapsedLocked() {
		s.startEpochLocked()
	}
	if s.token != nil {
		return s.token.Epoch, true, false
	}
	return 0, false, false
}

// OnChildRequest records that child has sent a WAIT-FOR-INFO-REQUEST.
// Once every child (and, implicitly, this node's own quiescence) has
// been observed, the root starts a new CONSISTENT-SNAPSHOT epoch.
func (s *SnapshotController) OnChildRequest(child string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.isRoot {
		return
	}
	if s.pending == nil {
		s.pending = make(map[string]bool, len(s.children))
	}
	s.pending[child] = true
	if len(s.pending) < len(s.children) {
		return
	}
	s.pending = nil
	s.startEpochLocked()
}

func (s *SnapshotController) startEpochLocked() {
	s.epoch++
	nodes := append([]string{s.nodeID}, s.children...)
	s.token = types.NewSnapshotToken(s.epoch, nodes)
	s.log.Debugf("snapshot: starting epoch %d", s.epoch)
}

// CurrentEpoch returns the outstanding epoch number and whether one is
// live, for nodes polling whether to respond with an ack.
func (s *SnapshotController) CurrentEpoch() (uint64, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.token == nil {
		return 0, false
	}
	return s.token.Epoch, true
}

// Ack applies one node's response to the outstanding epoch. If every
// participating node has now reached a two-successive-zero-byte streak
// the probe has succeeded and registered listeners are notified with the
// assembled shard set (spec.md §4.10).
func (s *SnapshotController) Ack(epoch uint64, node string, inFlightBytes int, shards []types.WfgShard) {
	s.mutex.Lock()
	if s.token == nil || s.token.Epoch != epoch {
		s.mutex.Unlock()
		return
	}
	s.token.Ack(node, inFlightBytes == 0, shards)
	succeeded := s.token.Succeeded()
	var all []types.WfgShard
	if succeeded {
		order := append([]string{s.nodeID}, s.children...)
		all = s.token.AllShards(order)
		s.token = nil
	}
	s.mutex.Unlock()

	if succeeded {
		s.log.Debugf("snapshot: epoch %d succeeded with %d shards", epoch, len(all))
		for _, l := range s.listeners {
			l.OnSnapshotReady(all)
		}
	}
}

// SelfAck submits this node's own in-flight byte count and shards into
// the outstanding epoch, using the QuietActivity collaborator supplied at
// construction.
func (s *SnapshotController) SelfAck() {
	epoch, ok := s.CurrentEpoch()
	if !ok {
		return
	}
	s.Ack(epoch, s.nodeID, s.activity.InFlightBytes(), s.activity.CurrentShards())
}
