package types

// Event is the sealed interface implemented by every inbound wrapper
// event of spec.md §6. Every event carries a CallSite identifying the
// calling context.
type Event interface {
	Site() CallSite
}

// EventBase is embedded by every concrete event and supplies Site().
type EventBase struct {
	CallSite CallSite
}

func (b EventBase) Site() CallSite { return b.CallSite }

// NewEventBase constructs the embeddable base for a concrete event.
func NewEventBase(site CallSite) EventBase { return EventBase{CallSite: site} }

// SendEvent is spec.md §6's send(pid,lid, dest, tag, comm, type, count, mode).
type SendEvent struct {
	EventBase
	Dest  Rank
	Tag   int32
	Comm  ContextId
	Type  *TypeSnapshot
	Count int
	Mode  SendMode
}

// ISendEvent is isend(…, request).
type ISendEvent struct {
	SendEvent
	Request RequestId
}

// RecvEvent is recv(pid,lid, source_or_wildcard, tag, comm, type, count).
type RecvEvent struct {
	EventBase
	Source Rank
	Tag    int32
	Comm   ContextId
	Type   *TypeSnapshot
	Count  int
}

// IRecvEvent is irecv(…, request).
type IRecvEvent struct {
	RecvEvent
	Request RequestId
}

// RecvUpdateEvent resolves a blocking wildcard receive's actual source.
type RecvUpdateEvent struct {
	EventBase
	Source Rank
}

// IRecvUpdateEvent resolves a non-blocking wildcard receive's source.
type IRecvUpdateEvent struct {
	EventBase
	Source  Rank
	Request RequestId
}

// StartPersistentEvent is start_persistent(pid,lid, request).
type StartPersistentEvent struct {
	EventBase
	Request RequestId
}

// CancelEvent is cancel(pid,lid, request).
type CancelEvent struct {
	EventBase
	Request RequestId
}

// CollAllEvent is coll_all(pid,lid, coll_id, comm, is_send_side, num_tasks).
type CollAllEvent struct {
	EventBase
	CollId     CollId
	Comm       ContextId
	IsSendSide bool
	NumTasks   int
	Type       *TypeSnapshot
	Count      int
}

// CollRootEvent is coll_root(…, root).
type CollRootEvent struct {
	CollAllEvent
	Root Rank
}

// WaitKind distinguishes the four completion-wait flavors of spec.md §6.
type WaitKind int

const (
	WaitSingle WaitKind = iota
	WaitAnyKind
	WaitAllKind
	WaitSomeKind
)

// WaitEvent is wait/wait_any/wait_all/wait_some(pid,lid, [req], count, procnull).
type WaitEvent struct {
	EventBase
	Kind          WaitKind
	Requests      []RequestId
	ProcNullCount int
}

// CompletedRequestEvent is completed_request(pid,lid, request).
type CompletedRequestEvent struct {
	EventBase
	Request RequestId
}

// CompletedRequestsEvent is completed_requests(pid,lid, [req], count).
type CompletedRequestsEvent struct {
	EventBase
	Requests []RequestId
}

// FinalizeNotifyEvent is finalize_notify.
type FinalizeNotifyEvent struct{ EventBase }

// RaisePanicEvent is raise_panic.
type RaisePanicEvent struct{ EventBase }

// BreakRequestEvent / BreakConsumeEvent are break_request / break_consume.
type BreakRequestEvent struct{ EventBase }
type BreakConsumeEvent struct{ EventBase }
