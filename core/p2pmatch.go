package core

import (
	"sort"
	"sync"

	"github.com/jabolina/must-go/diagnostic"
	"github.com/jabolina/must-go/types"
)

// P2PMatchListener is notified whenever P2PMatch retires a send/recv
// pair, grounded on original_source I_P2PMatchListener.h: "the callback
// is triggered whenever a new match was found and its processing
// completed". Multiple listeners run in registration order (spec.md §9,
// "explicit listener lists").
type P2PMatchListener interface {
	OnP2PMatch(send, recv *types.P2POp)
}

type pairKey struct {
	comm     types.ContextId
	sender   types.Rank
	receiver types.Rank
}

type tagKey struct {
	pairKey
	tag int32
}

// pendingWildcard is a posted wildcard-source receive still looking for
// a sender.
type pendingWildcard struct {
	op       types.P2POp
	sequence uint64
}

// P2PMatch implements C6: deterministic pairing of sends/receives per
// (comm, tag, ranks), with wildcard-receive handling and backtracking
// support, grounded on original_source I_P2PMatch.h and
// Utility/MatchExplorer.h.
type P2PMatch struct {
	mutex sync.Mutex

	// sendQueues holds unmatched sends per (comm, sender, receiver),
	// in a single FIFO regardless of tag: MPI's non-overtaking rule
	// only binds messages that could match the same receive, and a
	// single per-pair queue is what lets matching scan past a
	// tag-mismatched head without disturbing order (spec.md §4.6 step 4).
	sendQueues map[pairKey][]types.P2POp

	// recvExact holds unmatched non-wildcard-source, specific-tag
	// receives, keyed by the full tuple.
	recvExact map[tagKey][]types.P2POp

	// recvAnyTagFromSender holds unmatched non-wildcard-source,
	// wildcard-tag receives, keyed by (comm, sender, receiver).
	recvAnyTagFromSender map[pairKey][]types.P2POp

	// wildcardSource holds unmatched wildcard-source receives (tag may
	// be specific or wildcard), keyed by (comm, receiver), in
	// receiver-local post order.
	wildcardSource map[pairKey][]*pendingWildcard

	wildcardSeq uint64

	resourceMirror *ResourceMirror

	listeners []P2PMatchListener

	sink diagnostic.Sink

	checkpoint *p2pSnapshot
}

type p2pSnapshot struct {
	sendQueues           map[pairKey][]types.P2POp
	recvExact            map[tagKey][]types.P2POp
	recvAnyTagFromSender map[pairKey][]types.P2POp
	wildcardSource        map[pairKey][]*pendingWildcard
	wildcardSeq          uint64
}

func NewP2PMatch(mirror *ResourceMirror, sink diagnostic.Sink) *P2PMatch {
	return &P2PMatch{
		sendQueues:           make(map[pairKey][]types.P2POp),
		recvExact:            make(map[tagKey][]types.P2POp),
		recvAnyTagFromSender: make(map[pairKey][]types.P2POp),
		wildcardSource:       make(map[pairKey][]*pendingWildcard),
		resourceMirror:       mirror,
		sink:                 sink,
	}
}

func (m *P2PMatch) RegisterListener(l P2PMatchListener) {
	m.listeners = append(m.listeners, l)
}

func pairOf(comm types.ContextId, sender, receiver types.Rank) pairKey {
	return pairKey{comm: comm, sender: sender, receiver: receiver}
}

// Send is the entry point for a send/isend event (spec.md §4.6). It
// reports whether the send matched immediately, so a blocking send can
// tell its caller whether the issuing rank must now wait.
func (m *P2PMatch) Send(op types.P2POp) (matched bool) {
	m.mutex.Lock()
	send, recv, matched := m.tryMatchSend(op)
	m.mutex.Unlock()

	if matched {
		m.notify(send, recv)
	}
	return matched
}

func (m *P2PMatch) tryMatchSend(op types.P2POp) (send, recv types.P2POp, matched bool) {
	pair := pairOf(op.Comm, op.Issuer, op.Peer)

	// 1. Exact-tag non-wildcard receive.
	tk := tagKey{pairKey: pair, tag: op.Tag}
	if q := m.recvExact[tk]; len(q) > 0 {
		recv = q[0]
		m.recvExact[tk] = q[1:]
		return op, recv, true
	}

	// 2. Wildcard-tag, specific-source receive.
	if q := m.recvAnyTagFromSender[pair]; len(q) > 0 {
		recv = q[0]
		m.recvAnyTagFromSender[pair] = q[1:]
		return op, recv, true
	}

	// 3. Wildcard-source receives posted by the peer, smallest
	// receiver-local post sequence with a matching tag wins.
	wcKey := pairOf(op.Comm, 0, op.Peer)
	if idx := m.firstMatchingWildcard(wcKey, op.Tag); idx >= 0 {
		list := m.wildcardSource[wcKey]
		pw := list[idx]
		m.wildcardSource[wcKey] = append(list[:idx], list[idx+1:]...)
		recv = pw.op
		recv.IsWildcardResolved = true
		recv.ResolvedPeer = op.Issuer
		return op, recv, true
	}

	// 4. Nothing to match against yet: enqueue.
	m.sendQueues[pair] = append(m.sendQueues[pair], op)
	return types.P2POp{}, types.P2POp{}, false
}

// firstMatchingWildcard returns the index, in FIFO post order, of the
// first queued wildcard receive at wcKey whose tag is compatible with
// tag, or -1 if none match.
func (m *P2PMatch) firstMatchingWildcard(wcKey pairKey, tag int32) int {
	list := m.wildcardSource[wcKey]
	best := -1
	var bestSeq uint64
	for i, pw := range list {
		if pw.op.Tag != types.AnyTag && pw.op.Tag != tag {
			continue
		}
		if best == -1 || pw.sequence < bestSeq {
			best = i
			bestSeq = pw.sequence
		}
	}
	return best
}

// Recv is the entry point for a recv/irecv event (spec.md §4.6). It
// reports whether the receive matched immediately, so a blocking recv can
// tell its caller whether the issuing rank must now wait.
func (m *P2PMatch) Recv(op types.P2POp) (matched bool) {
	m.mutex.Lock()
	send, recv, matched := m.tryMatchRecv(op)
	m.mutex.Unlock()

	if matched {
		m.notify(send, recv)
	}
	return matched
}

func (m *P2PMatch) tryMatchRecv(op types.P2POp) (send, recv types.P2POp, matched bool) {
	if op.Peer != types.AnySource {
		pair := pairOf(op.Comm, op.Peer, op.Issuer)
		if idx := m.firstMatchingSend(pair, op.Tag); idx >= 0 {
			q := m.sendQueues[pair]
			send = q[idx]
			m.sendQueues[pair] = append(q[:idx], q[idx+1:]...)
			return send, op, true
		}

		tk := tagKey{pairKey: pair, tag: op.Tag}
		if op.Tag == types.AnyTag {
			m.recvAnyTagFromSender[pair] = append(m.recvAnyTagFromSender[pair], op)
		} else {
			m.recvExact[tk] = append(m.recvExact[tk], op)
		}
		return types.P2POp{}, types.P2POp{}, false
	}

	// Wildcard source: attempt an immediate match against any pending
	// send to this receiver before enqueueing (spec.md §4.6:
	// "also attempt immediate match by scanning sends known to be
	// pending to this receiver"). When exactly one sender is compatible
	// the choice is unambiguous; when two or more are, C8's backtracking
	// explorer (spec.md §4.6(b)) must make the choice instead, so the
	// wildcard is left enqueued for it to resolve via ForceMatchWildcard.
	if m.countCandidateSendersLocked(op.Comm, op.Issuer, op.Tag) == 1 {
		if idx, pair, ok := m.firstPendingSendToReceiver(op.Comm, op.Issuer, op.Tag); ok {
			q := m.sendQueues[pair]
			send = q[idx]
			m.sendQueues[pair] = append(q[:idx], q[idx+1:]...)
			recv = op
			recv.IsWildcardResolved = true
			recv.ResolvedPeer = send.Issuer
			return send, recv, true
		}
	}

	m.wildcardSeq++
	wcKey := pairOf(op.Comm, 0, op.Issuer)
	op.PostSequence = m.wildcardSeq
	m.wildcardSource[wcKey] = append(m.wildcardSource[wcKey], &pendingWildcard{op: op, sequence: m.wildcardSeq})
	return types.P2POp{}, types.P2POp{}, false
}

// firstMatchingSend returns the index of the earliest-queued send in
// sendQueues[pair] whose tag matches tag (AnyTag matches anything).
func (m *P2PMatch) firstMatchingSend(pair pairKey, tag int32) int {
	q := m.sendQueues[pair]
	for i, s := range q {
		if tag == types.AnyTag || s.Tag == tag {
			return i
		}
	}
	return -1
}

// firstPendingSendToReceiver scans every sender's queue destined to
// receiver on comm, in sender-rank-ascending order, for the first send
// compatible with tag. Deterministic, used for the eager (non-explored)
// wildcard match at post time.
func (m *P2PMatch) firstPendingSendToReceiver(comm types.ContextId, receiver types.Rank, tag int32) (idx int, pair pairKey, ok bool) {
	var senders []types.Rank
	for k := range m.sendQueues {
		if k.comm == comm && k.receiver == receiver && len(m.sendQueues[k]) > 0 {
			senders = append(senders, k.sender)
		}
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i] < senders[j] })
	for _, sender := range senders {
		p := pairOf(comm, sender, receiver)
		if i := m.firstMatchingSend(p, tag); i >= 0 {
			return i, p, true
		}
	}
	return 0, pairKey{}, false
}

// countCandidateSendersLocked counts distinct senders with a pending send
// to receiver on comm compatible with tag, used to tell an unambiguous
// immediate wildcard match (exactly one candidate) from a genuinely
// ambiguous one C8's explorer must resolve. Caller holds m.mutex.
func (m *P2PMatch) countCandidateSendersLocked(comm types.ContextId, receiver types.Rank, tag int32) int {
	count := 0
	for k, q := range m.sendQueues {
		if k.comm != comm || k.receiver != receiver {
			continue
		}
		for _, s := range q {
			if tag == types.AnyTag || s.Tag == tag {
				count++
				break
			}
		}
	}
	return count
}

// CandidateSenders lists, for an outstanding wildcard receive (comm,
// receiver, tag), the world ranks of senders with a pending compatible
// send, in ascending rank order -- the bounded search space for C8's
// backtracking explorer (spec.md §4.6, "Wildcard backtracking"; grounded
// on original_source MatchExplorer.h).
func (m *P2PMatch) CandidateSenders(comm types.ContextId, receiver types.Rank, tag int32) []types.Rank {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var out []types.Rank
	for k, q := range m.sendQueues {
		if k.comm != comm || k.receiver != receiver {
			continue
		}
		for _, s := range q {
			if tag == types.AnyTag || s.Tag == tag {
				out = append(out, k.sender)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ForceMatchWildcard matches the outstanding wildcard receive posted by
// receiver on comm/tag against a specific candidate sender, used by the
// backtracking explorer to try one alternative at a time. It returns
// false if receiver has no such outstanding wildcard receive or sender
// has no compatible pending send.
func (m *P2PMatch) ForceMatchWildcard(comm types.ContextId, receiver types.Rank, tag int32, sender types.Rank) (send, recv types.P2POp, ok bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	wcKey := pairOf(comm, 0, receiver)
	list := m.wildcardSource[wcKey]
	wcIdx := -1
	for i, pw := range list {
		if pw.op.Tag == types.AnyTag || pw.op.Tag == tag {
			wcIdx = i
			break
		}
	}
	if wcIdx < 0 {
		return types.P2POp{}, types.P2POp{}, false
	}

	pair := pairOf(comm, sender, receiver)
	sIdx := m.firstMatchingSend(pair, list[wcIdx].op.Tag)
	if sIdx < 0 {
		return types.P2POp{}, types.P2POp{}, false
	}

	sendQ := m.sendQueues[pair]
	send = sendQ[sIdx]
	m.sendQueues[pair] = append(sendQ[:sIdx], sendQ[sIdx+1:]...)

	m.wildcardSource[wcKey] = append(list[:wcIdx], list[wcIdx+1:]...)
	recv = list[wcIdx].op
	recv.IsWildcardResolved = true
	recv.ResolvedPeer = sender
	return send, recv, true
}

// UndoForcedMatch re-queues a send and a wildcard receive that were
// joined by ForceMatchWildcard but whose speculative match must be
// rolled back (used together with the checkpoint/rollback group, spec.md
// §4.6/§9; kept as a narrow escape hatch for the explorer in addition to
// the general Rollback()).
func (m *P2PMatch) UndoForcedMatch(send, recv types.P2POp) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	pair := pairOf(send.Comm, send.Issuer, send.Peer)
	m.sendQueues[pair] = append([]types.P2POp{send}, m.sendQueues[pair]...)
	wcKey := pairOf(recv.Comm, 0, recv.Issuer)
	recv.IsWildcardResolved = false
	recv.ResolvedPeer = 0
	m.wildcardSource[wcKey] = append([]*pendingWildcard{{op: recv, sequence: recv.PostSequence}}, m.wildcardSource[wcKey]...)
}

// IrecvUpdate records resolvedSource on the outstanding wildcard receive
// with the given request id (IsWildcardResolved, ResolvedPeer); the
// receive stays in its wildcard queue. It does not check a send that was
// already matched speculatively against the receive, and does nothing if
// no outstanding wildcard receive carries that request id. The inbound
// irecv_update event carries no comm (spec.md §6), so every wildcard
// queue for receiver is scanned for the matching request id.
func (m *P2PMatch) IrecvUpdate(receiver types.Rank, request types.RequestId, resolvedSource types.Rank) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for k, list := range m.wildcardSource {
		if k.receiver != receiver {
			continue
		}
		for i, pw := range list {
			if pw.op.HasRequest && pw.op.RequestID == request {
				pw.op.IsWildcardResolved = true
				pw.op.ResolvedPeer = resolvedSource
				list[i] = pw
				return
			}
		}
	}
}

// Cancel removes a still-unmatched operation with the given request id,
// if any (spec.md §6 cancel(pid,lid, request)).
func (m *P2PMatch) Cancel(request types.RequestId) (removed bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for k, q := range m.sendQueues {
		for i, op := range q {
			if op.HasRequest && op.RequestID == request {
				m.sendQueues[k] = append(q[:i], q[i+1:]...)
				return true
			}
		}
	}
	for k, q := range m.recvExact {
		for i, op := range q {
			if op.HasRequest && op.RequestID == request {
				m.recvExact[k] = append(q[:i], q[i+1:]...)
				return true
			}
		}
	}
	for k, q := range m.recvAnyTagFromSender {
		for i, op := range q {
			if op.HasRequest && op.RequestID == request {
				m.recvAnyTagFromSender[k] = append(q[:i], q[i+1:]...)
				return true
			}
		}
	}
	for k, q := range m.wildcardSource {
		for i, pw := range q {
			if pw.op.HasRequest && pw.op.RequestID == request {
				m.wildcardSource[k] = append(q[:i], q[i+1:]...)
				return true
			}
		}
	}
	return false
}

func (m *P2PMatch) notify(send, recv types.P2POp) {
	if types.TypeMismatch(typeSnapshotOf(send.TypeDigest, send.TypeSize), typeSnapshotOf(recv.TypeDigest, recv.TypeSize)) {
		m.sink.Emit(diagnostic.Event{
			MsgId:    diagnostic.TypeMismatch,
			Site:     send.CallSite,
			Severity: diagnostic.Error,
			Text:     "datatype mismatch on p2p match",
			Refs:     []types.CallSite{recv.CallSite},
		})
	}
	for _, l := range m.listeners {
		l.OnP2PMatch(&send, &recv)
	}
}

// typeSnapshotOf builds a throwaway TypeSnapshot purely to reuse the
// size-comparison helper in types.ShortSendAllowed/TypeMismatch without
// duplicating that comparison here.
func typeSnapshotOf(digest string, size int64) *types.TypeSnapshot {
	if digest == "" {
		return nil
	}
	return &types.TypeSnapshot{Digest: digest, Size: size}
}

// CanOpBeProcessed reports whether this tool node can locally process a
// send/recv on comm whose peer is sourceDest -- i.e. that rank's owning
// process is reachable beneath this node (spec.md §4: supplemented
// feature, grounded on original_source I_P2PMatch.h::canOpBeProcessed).
func (m *P2PMatch) CanOpBeProcessed(comm *types.CommSnapshot, sourceDest types.Rank) bool {
	if sourceDest == types.AnySource || sourceDest == types.ProcNull {
		return true
	}
	return comm.ReachableOnNode.Contains(sourceDest)
}

// UnmatchedSends returns every still-pending send, for the finalize
// pipeline's lost-message report (spec.md §4.11/§8 S6).
func (m *P2PMatch) UnmatchedSends() []types.P2POp {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var out []types.P2POp
	for _, q := range m.sendQueues {
		out = append(out, q...)
	}
	return out
}

// Checkpoint / Rollback implement the P2PMatch half of the checkpoint
// group of spec.md §9; must be invoked alongside
// ReorderingQueue/CollMatch/BlockingState's own checkpoint/rollback.
func (m *P2PMatch) Checkpoint() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	snap := &p2pSnapshot{
		sendQueues:           cloneSendQueues(m.sendQueues),
		recvExact:            cloneTagQueues(m.recvExact),
		recvAnyTagFromSender: cloneSendQueues(m.recvAnyTagFromSender),
		wildcardSource:       cloneWildcardQueues(m.wildcardSource),
		wildcardSeq:          m.wildcardSeq,
	}
	m.checkpoint = snap
}

func (m *P2PMatch) Rollback() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.checkpoint == nil {
		return ErrSchedulingInvariantViolation
	}
	m.sendQueues = cloneSendQueues(m.checkpoint.sendQueues)
	m.recvExact = cloneTagQueues(m.checkpoint.recvExact)
	m.recvAnyTagFromSender = cloneSendQueues(m.checkpoint.recvAnyTagFromSender)
	m.wildcardSource = cloneWildcardQueues(m.checkpoint.wildcardSource)
	m.wildcardSeq = m.checkpoint.wildcardSeq
	return nil
}

func cloneSendQueues(in map[pairKey][]types.P2POp) map[pairKey][]types.P2POp {
	out := make(map[pairKey][]types.P2POp, len(in))
	for k, v := range in {
		c := make([]types.P2POp, len(v))
		copy(c, v)
		out[k] = c
	}
	return out
}

func cloneTagQueues(in map[tagKey][]types.P2POp) map[tagKey][]types.P2POp {
	out := make(map[tagKey][]types.P2POp, len(in))
	for k, v := range in {
		c := make([]types.P2POp, len(v))
		copy(c, v)
		out[k] = c
	}
	return out
}

func cloneWildcardQueues(in map[pairKey][]*pendingWildcard) map[pairKey][]*pendingWildcard {
	out := make(map[pairKey][]*pendingWildcard, len(in))
	for k, v := range in {
		c := make([]*pendingWildcard, len(v))
		for i, pw := range v {
			cp := *pw
			c[i] = &cp
		}
		out[k] = c
	}
	return out
}
